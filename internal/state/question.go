package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUserQuestion records a blocking prompt from an agent to the human.
func (s *Store) CreateUserQuestion(agentID, question string) (*UserQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO user_questions (id, agent_id, question, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, agentID, question, QuestionPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user question: %w", err)
	}
	return &UserQuestion{ID: id, AgentID: agentID, Question: question, Status: QuestionPending, CreatedAt: now, UpdatedAt: now}, nil
}

// ListPendingQuestions returns every UserQuestion awaiting a response.
func (s *Store) ListPendingQuestions() ([]UserQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, agent_id, question, response, status, created_at, updated_at FROM user_questions WHERE status = ? ORDER BY created_at ASC`,
		QuestionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending questions: %w", err)
	}
	defer rows.Close()

	var out []UserQuestion
	for rows.Next() {
		var q UserQuestion
		var response sql.NullString
		if err := rows.Scan(&q.ID, &q.AgentID, &q.Question, &response, &q.Status, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		q.Response = strPtr(response)
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetUserQuestion fetches one UserQuestion by id.
func (s *Store) GetUserQuestion(id string) (*UserQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, agent_id, question, response, status, created_at, updated_at FROM user_questions WHERE id = ?`, id)
	var q UserQuestion
	var response sql.NullString
	err := row.Scan(&q.ID, &q.AgentID, &q.Question, &response, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user question: %w", err)
	}
	q.Response = strPtr(response)
	return &q, nil
}

// AnswerUserQuestion records the human's response and marks the question answered.
func (s *Store) AnswerUserQuestion(id, response string) (*UserQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE user_questions SET response = ?, status = ?, updated_at = ? WHERE id = ?`,
		response, QuestionAnswered, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("answer user question: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRow(`SELECT id, agent_id, question, response, status, created_at, updated_at FROM user_questions WHERE id = ?`, id)
	var q UserQuestion
	var respNull sql.NullString
	if err := row.Scan(&q.ID, &q.AgentID, &q.Question, &respNull, &q.Status, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	q.Response = strPtr(respNull)
	return &q, nil
}
