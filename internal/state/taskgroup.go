package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTaskGroup inserts a new TaskGroup under a Spec.
func (s *Store) CreateTaskGroup(specID, name, description string, sequence int) (*TaskGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM specs WHERE id = ?`, specID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check spec: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO task_groups (id, spec_id, name, description, status, sequence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, specID, name, description, StepPending, sequence, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task group: %w", err)
	}
	return &TaskGroup{ID: id, SpecID: specID, Name: name, Description: description, Status: StepPending, Sequence: sequence, CreatedAt: now, UpdatedAt: now}, nil
}

// ListTaskGroups returns every TaskGroup for a Spec, ordered by sequence.
func (s *Store) ListTaskGroups(specID string) ([]TaskGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, spec_id, name, description, status, sequence, created_at, updated_at
		 FROM task_groups WHERE spec_id = ? ORDER BY sequence ASC`, specID)
	if err != nil {
		return nil, fmt.Errorf("list task groups: %w", err)
	}
	defer rows.Close()

	var out []TaskGroup
	for rows.Next() {
		var g TaskGroup
		if err := rows.Scan(&g.ID, &g.SpecID, &g.Name, &g.Description, &g.Status, &g.Sequence, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AllTaskGroupsDone reports whether the Spec has at least one TaskGroup
// and all of them are done (§4.4 step 4, explicit completion signal).
func (s *Store) AllTaskGroupsDone(specID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total, done int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM task_groups WHERE spec_id = ?`, specID).Scan(&total); err != nil {
		return false, fmt.Errorf("count task groups: %w", err)
	}
	if total == 0 {
		return false, nil
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM task_groups WHERE spec_id = ? AND status = ?`, specID, StepDone).Scan(&done); err != nil {
		return false, fmt.Errorf("count done task groups: %w", err)
	}
	return done == total, nil
}

// UpdateTaskGroupStatus sets a TaskGroup's status.
func (s *Store) UpdateTaskGroupStatus(id, status string) (*TaskGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.Exec(`UPDATE task_groups SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return nil, fmt.Errorf("update task group: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRow(
		`SELECT id, spec_id, name, description, status, sequence, created_at, updated_at FROM task_groups WHERE id = ?`, id)
	var g TaskGroup
	if err := row.Scan(&g.ID, &g.SpecID, &g.Name, &g.Description, &g.Status, &g.Sequence, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}
