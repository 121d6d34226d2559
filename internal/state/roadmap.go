package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRoadmapItem inserts a new RoadmapItem. If issueID is non-nil and
// already mapped, it fails with ErrConflict (unique on issue-source-id).
func (s *Store) CreateRoadmapItem(title, description string, issueID, issueURL *string, resolutionMethod string) (*RoadmapItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resolutionMethod == "" {
		resolutionMethod = ResolutionMergeAndPush
	}

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO roadmap_items (id, title, description, status, issue_id, issue_url, github_issue_closed, resolution_method, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id, title, description, RoadmapPending, nullString(issueID), nullString(issueURL), resolutionMethod, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert roadmap item: %v", ErrConflict, err)
	}

	return &RoadmapItem{
		ID: id, Title: title, Description: description, Status: RoadmapPending,
		IssueID: issueID, IssueURL: issueURL, ResolutionMethod: resolutionMethod,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetRoadmapItemByIssueID returns the RoadmapItem already mapped to the
// given issue id, if any.
func (s *Store) GetRoadmapItemByIssueID(issueID string) (*RoadmapItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanRoadmapItem(s.db.QueryRow(
		`SELECT id, title, description, status, issue_id, issue_url, github_issue_closed, spec_id, resolution_method, created_at, updated_at
		 FROM roadmap_items WHERE issue_id = ?`, issueID))
}

// GetRoadmapItem fetches one RoadmapItem by id.
func (s *Store) GetRoadmapItem(id string) (*RoadmapItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanRoadmapItem(s.db.QueryRow(
		`SELECT id, title, description, status, issue_id, issue_url, github_issue_closed, spec_id, resolution_method, created_at, updated_at
		 FROM roadmap_items WHERE id = ?`, id))
}

func (s *Store) scanRoadmapItem(row *sql.Row) (*RoadmapItem, error) {
	var r RoadmapItem
	var issueID, issueURL, specID sql.NullString
	var closed int
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Status, &issueID, &issueURL, &closed, &specID, &r.ResolutionMethod, &r.CreatedAt, &r.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan roadmap item: %w", err)
	}
	r.IssueID = strPtr(issueID)
	r.IssueURL = strPtr(issueURL)
	r.SpecID = strPtr(specID)
	r.GithubIssueClosed = closed != 0
	return &r, nil
}

// ListRoadmapItems returns every RoadmapItem, optionally filtered by status.
func (s *Store) ListRoadmapItems(status string) ([]RoadmapItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, title, description, status, issue_id, issue_url, github_issue_closed, spec_id, resolution_method, created_at, updated_at FROM roadmap_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roadmap items: %w", err)
	}
	defer rows.Close()

	var out []RoadmapItem
	for rows.Next() {
		var r RoadmapItem
		var issueID, issueURL, specID sql.NullString
		var closed int
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Status, &issueID, &issueURL, &closed, &specID, &r.ResolutionMethod, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.IssueID = strPtr(issueID)
		r.IssueURL = strPtr(issueURL)
		r.SpecID = strPtr(specID)
		r.GithubIssueClosed = closed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoadmapItemUpdate carries the optional fields a PATCH may set.
type RoadmapItemUpdate struct {
	Title            *string
	Description      *string
	Status           *string
	ResolutionMethod *string
}

// UpdateRoadmapItem applies the given field changes. Setting status=done
// atomically resolves every dependency blocked by this item (invariant 4).
func (s *Store) UpdateRoadmapItem(id string, upd RoadmapItemUpdate) (*RoadmapItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current RoadmapItem
	var issueID, issueURL, specID sql.NullString
	var closed int
	err = tx.QueryRow(
		`SELECT id, title, description, status, issue_id, issue_url, github_issue_closed, spec_id, resolution_method, created_at, updated_at
		 FROM roadmap_items WHERE id = ?`, id,
	).Scan(&current.ID, &current.Title, &current.Description, &current.Status, &issueID, &issueURL, &closed, &specID, &current.ResolutionMethod, &current.CreatedAt, &current.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load roadmap item: %w", err)
	}

	title, description, status, method := current.Title, current.Description, current.Status, current.ResolutionMethod
	if upd.Title != nil {
		title = *upd.Title
	}
	if upd.Description != nil {
		description = *upd.Description
	}
	if upd.Status != nil {
		status = *upd.Status
	}
	if upd.ResolutionMethod != nil {
		method = *upd.ResolutionMethod
	}

	now := time.Now()
	_, err = tx.Exec(
		`UPDATE roadmap_items SET title = ?, description = ?, status = ?, resolution_method = ?, updated_at = ? WHERE id = ?`,
		title, description, status, method, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update roadmap item: %w", err)
	}

	if status == RoadmapDone && current.Status != RoadmapDone {
		if err := resolveDependenciesForBlockerLocked(tx, "roadmap_item", id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	current.Title, current.Description, current.Status, current.ResolutionMethod, current.UpdatedAt = title, description, status, method, now
	current.IssueID = strPtr(issueID)
	current.IssueURL = strPtr(issueURL)
	current.SpecID = strPtr(specID)
	current.GithubIssueClosed = closed != 0
	return &current, nil
}

// SetRoadmapItemSpec links a RoadmapItem to the Spec created for it.
func (s *Store) SetRoadmapItemSpec(id, specID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE roadmap_items SET spec_id = ?, updated_at = ? WHERE id = ?`, specID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("link spec to roadmap item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkIssueClosed sets github_issue_closed=true for a RoadmapItem.
func (s *Store) MarkIssueClosed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE roadmap_items SET github_issue_closed = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark issue closed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
