package state

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateAgentInstance records a new AgentInstance with an externally chosen
// id ("main" is reserved and unique per daemon, invariant 5).
func (s *Store) CreateAgentInstance(id, role string, worktreeName *string, ctx *AgentContext) (*AgentInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role == RoleMain {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_instances WHERE role = ? AND status != ?`, RoleMain, AgentStopped).Scan(&count); err != nil {
			return nil, fmt.Errorf("check existing main agent: %w", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: a main agent instance already exists", ErrConflict)
		}
	}

	now := time.Now()
	var ctxKind, ctxID sql.NullString
	if ctx != nil {
		ctxKind, ctxID = sql.NullString{String: ctx.Kind, Valid: true}, sql.NullString{String: ctx.ID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO agent_instances (id, role, status, worktree_name, context_kind, context_id, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, role, AgentCreated, nullString(worktreeName), ctxKind, ctxID, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert agent instance: %v", ErrConflict, err)
	}

	return &AgentInstance{ID: id, Role: role, Status: AgentCreated, WorktreeName: worktreeName, Context: ctx, StartedAt: now, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) scanAgentInstance(row *sql.Row) (*AgentInstance, error) {
	var a AgentInstance
	var resume, worktree, ctxKind, ctxID sql.NullString
	var lastOutput sql.NullTime
	err := row.Scan(&a.ID, &a.Role, &a.Status, &resume, &worktree, &ctxKind, &ctxID, &lastOutput, &a.StartedAt, &a.CreatedAt, &a.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent instance: %w", err)
	}
	a.ResumeHandle = strPtr(resume)
	a.WorktreeName = strPtr(worktree)
	if ctxKind.Valid {
		a.Context = &AgentContext{Kind: ctxKind.String, ID: ctxID.String}
	}
	if lastOutput.Valid {
		a.LastOutputAt = lastOutput.Time
	}
	return &a, nil
}

// GetAgentInstance fetches one AgentInstance by id.
func (s *Store) GetAgentInstance(id string) (*AgentInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanAgentInstance(s.db.QueryRow(
		`SELECT id, role, status, resume_handle, worktree_name, context_kind, context_id, last_output_at, started_at, created_at, updated_at
		 FROM agent_instances WHERE id = ?`, id))
}

// ListAgentInstances returns every AgentInstance, optionally filtered by status.
func (s *Store) ListAgentInstances(status string) ([]AgentInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, role, status, resume_handle, worktree_name, context_kind, context_id, last_output_at, started_at, created_at, updated_at FROM agent_instances`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent instances: %w", err)
	}
	defer rows.Close()

	var out []AgentInstance
	for rows.Next() {
		var a AgentInstance
		var resume, worktree, ctxKind, ctxID sql.NullString
		var lastOutput sql.NullTime
		if err := rows.Scan(&a.ID, &a.Role, &a.Status, &resume, &worktree, &ctxKind, &ctxID, &lastOutput, &a.StartedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.ResumeHandle = strPtr(resume)
		a.WorktreeName = strPtr(worktree)
		if ctxKind.Valid {
			a.Context = &AgentContext{Kind: ctxKind.String, ID: ctxID.String}
		}
		if lastOutput.Valid {
			a.LastOutputAt = lastOutput.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentStatus transitions an AgentInstance's status, optionally
// recording a resume handle (on pause/stop).
func (s *Store) UpdateAgentStatus(id, status string, resumeHandle *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE agent_instances SET status = ?, resume_handle = COALESCE(?, resume_handle), updated_at = ? WHERE id = ?`,
		status, nullString(resumeHandle), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAgentOutput records the time of the agent's most recent emitted
// output, used by the implicit-completion idle check (§4.4 step 4).
func (s *Store) TouchAgentOutput(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE agent_instances SET last_output_at = ?, updated_at = ? WHERE id = ?`, at, time.Now(), id)
	if err != nil {
		return fmt.Errorf("touch agent output: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResumableAgents returns every AgentInstance paused with a known resume
// handle and worktree — these are re-spawned on daemon start (§4.4,
// resumption policy). Those without are left for the caller to move to
// stopped.
func (s *Store) ResumableAgents() ([]AgentInstance, error) {
	all, err := s.ListAgentInstances(AgentPaused)
	if err != nil {
		return nil, err
	}
	var resumable []AgentInstance
	for _, a := range all {
		if a.ResumeHandle != nil && a.WorktreeName != nil {
			resumable = append(resumable, a)
		}
	}
	return resumable, nil
}

// UnresumableAgents returns paused instances that cannot be resumed
// (missing resume handle or worktree) so the caller can move them to
// stopped at startup.
func (s *Store) UnresumableAgents() ([]AgentInstance, error) {
	all, err := s.ListAgentInstances(AgentPaused)
	if err != nil {
		return nil, err
	}
	var out []AgentInstance
	for _, a := range all {
		if a.ResumeHandle == nil || a.WorktreeName == nil {
			out = append(out, a)
		}
	}
	return out, nil
}
