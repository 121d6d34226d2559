package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTask inserts a new Task under a TaskGroup.
func (s *Store) CreateTask(groupID, description string, sequence int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM task_groups WHERE id = ?`, groupID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check task group: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, group_id, description, status, sequence, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, groupID, description, StepPending, sequence, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &Task{ID: id, GroupID: groupID, Description: description, Status: StepPending, Sequence: sequence, CreatedAt: now, UpdatedAt: now}, nil
}

// ListTasks returns every Task for a TaskGroup, ordered by sequence.
func (s *Store) ListTasks(groupID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, group_id, description, status, commit_hash, sequence, created_at, updated_at
		 FROM tasks WHERE group_id = ? ORDER BY sequence ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var hash sql.NullString
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Description, &t.Status, &hash, &t.Sequence, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.CommitHash = strPtr(hash)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TaskUpdate carries the optional fields a PATCH may set.
type TaskUpdate struct {
	Description *string
	Status      *string
	CommitHash  *string
}

// UpdateTask applies field changes to a Task.
func (s *Store) UpdateTask(id string, upd TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, group_id, description, status, commit_hash, sequence, created_at, updated_at FROM tasks WHERE id = ?`, id)
	var t Task
	var hash sql.NullString
	err := row.Scan(&t.ID, &t.GroupID, &t.Description, &t.Status, &hash, &t.Sequence, &t.CreatedAt, &t.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	t.CommitHash = strPtr(hash)

	description, status, commitHash := t.Description, t.Status, t.CommitHash
	if upd.Description != nil {
		description = *upd.Description
	}
	if upd.Status != nil {
		status = *upd.Status
	}
	if upd.CommitHash != nil {
		commitHash = upd.CommitHash
	}

	now := time.Now()
	_, err = s.db.Exec(
		`UPDATE tasks SET description = ?, status = ?, commit_hash = ?, updated_at = ? WHERE id = ?`,
		description, status, nullString(commitHash), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	t.Description, t.Status, t.CommitHash, t.UpdatedAt = description, status, commitHash, now
	return &t, nil
}
