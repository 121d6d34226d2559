package state

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lower-cases and hyphenates title into a compact slug. It is
// idempotent on already-slugged input (§8 property 4): running it twice
// produces the same result as running it once.
func slugify(title string) string {
	s := strings.ToLower(title)
	s = slugNonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.Trim(s[:40], "-")
	}
	if s == "" {
		s = "spec"
	}
	return s
}

func randomSuffix(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

// semanticSpecID is a pure function of (issueID, title) in the issue case,
// and produces a unique random suffix in the non-issue case (§8 property 4).
func semanticSpecID(issueNumber string, title string) string {
	slug := slugify(title)
	if issueNumber != "" {
		return fmt.Sprintf("iss-%s-%s", issueNumber, slug)
	}
	return fmt.Sprintf("live-%s-%s", slug, randomSuffix(6))
}

// CreateSpec computes the semantic id and inserts a new Spec in draft
// status. Fails with ErrNotFound if the roadmap item is missing.
func (s *Store) CreateSpec(roadmapItemID, content, issueNumber, title string) (*Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM roadmap_items WHERE id = ?`, roadmapItemID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check roadmap item: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	id := semanticSpecID(issueNumber, title)
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO specs (id, roadmap_item_id, content, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, roadmapItemID, content, SpecDraft, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert spec: %v", ErrConflict, err)
	}

	return &Spec{ID: id, RoadmapItemID: roadmapItemID, Content: content, Status: SpecDraft, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSpec fetches one Spec by id.
func (s *Store) GetSpec(id string) (*Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanSpec(s.db.QueryRow(
		`SELECT id, roadmap_item_id, content, status, worktree_name, branch_name, error_message, created_at, updated_at
		 FROM specs WHERE id = ?`, id))
}

func (s *Store) scanSpec(row *sql.Row) (*Spec, error) {
	var sp Spec
	var worktree, branch, errMsg sql.NullString
	err := row.Scan(&sp.ID, &sp.RoadmapItemID, &sp.Content, &sp.Status, &worktree, &branch, &errMsg, &sp.CreatedAt, &sp.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan spec: %w", err)
	}
	sp.WorktreeName = strPtr(worktree)
	sp.BranchName = strPtr(branch)
	sp.ErrorMessage = strPtr(errMsg)
	return &sp, nil
}

// ListSpecs returns every Spec, optionally filtered by status.
func (s *Store) ListSpecs(status string) ([]Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, roadmap_item_id, content, status, worktree_name, branch_name, error_message, created_at, updated_at FROM specs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	defer rows.Close()

	var out []Spec
	for rows.Next() {
		var sp Spec
		var worktree, branch, errMsg sql.NullString
		if err := rows.Scan(&sp.ID, &sp.RoadmapItemID, &sp.Content, &sp.Status, &worktree, &branch, &errMsg, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, err
		}
		sp.WorktreeName = strPtr(worktree)
		sp.BranchName = strPtr(branch)
		sp.ErrorMessage = strPtr(errMsg)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// specOrder ranks the monotonic linear prefix (invariant 2).
var specOrder = map[string]int{
	SpecDraft: 0, SpecPendingReview: 1, SpecApproved: 2, SpecInProgress: 3,
	SpecValidating: 4, SpecMerging: 5, SpecDone: 6,
}

// ValidSpecTransition reports whether from->to is permitted: monotonic
// forward along the linear prefix, or to error from any non-terminal state.
func ValidSpecTransition(from, to string) bool {
	if from == SpecDone || from == SpecError {
		return false
	}
	if to == SpecError {
		return true
	}
	fi, fok := specOrder[from]
	ti, tok := specOrder[to]
	return fok && tok && ti >= fi
}

// SpecUpdate carries the optional fields a PATCH may set.
type SpecUpdate struct {
	Content      *string
	Status       *string
	WorktreeName *string
	BranchName   *string
	ErrorMessage *string
}

// UpdateSpec applies field changes, enforcing the monotonic status order
// (invariant 2) and the worktree/branch non-null requirement once
// in_progress or later (invariant 3).
func (s *Store) UpdateSpec(id string, upd SpecUpdate) (*Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, roadmap_item_id, content, status, worktree_name, branch_name, error_message, created_at, updated_at
		 FROM specs WHERE id = ?`, id)
	current, err := s.scanSpec(row)
	if err != nil {
		return nil, err
	}

	content, status, worktree, branch, errMsg := current.Content, current.Status, current.WorktreeName, current.BranchName, current.ErrorMessage
	if upd.Content != nil {
		content = *upd.Content
	}
	if upd.Status != nil {
		if !ValidSpecTransition(current.Status, *upd.Status) {
			return nil, fmt.Errorf("%w: invalid spec transition %s -> %s", ErrConflict, current.Status, *upd.Status)
		}
		status = *upd.Status
	}
	if upd.WorktreeName != nil {
		worktree = upd.WorktreeName
	}
	if upd.BranchName != nil {
		branch = upd.BranchName
	}
	if upd.ErrorMessage != nil {
		errMsg = upd.ErrorMessage
	}

	if specOrder[status] >= specOrder[SpecInProgress] && status != SpecError {
		if worktree == nil || branch == nil {
			return nil, fmt.Errorf("%w: spec %s requires worktree and branch at status %s", ErrConflict, id, status)
		}
	}

	now := time.Now()
	_, err = s.db.Exec(
		`UPDATE specs SET content = ?, status = ?, worktree_name = ?, branch_name = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		content, status, nullString(worktree), nullString(branch), nullString(errMsg), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update spec: %w", err)
	}

	current.Content, current.Status, current.WorktreeName, current.BranchName, current.ErrorMessage, current.UpdatedAt =
		content, status, worktree, branch, errMsg, now
	return current, nil
}
