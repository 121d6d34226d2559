package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordAudit inserts one AuditEntry for an agent invocation (SPEC_FULL.md §C.1).
func (s *Store) RecordAudit(agentID, eventType, promptHash string, tokenInput, tokenOutput, durationMS *int) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO agent_audit_log (id, agent_id, event_type, prompt_hash, token_input, token_output, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, agentID, eventType, promptHash, nullInt(tokenInput), nullInt(tokenOutput), nullInt(durationMS), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return &AuditEntry{ID: id, AgentID: agentID, EventType: eventType, PromptHash: promptHash, TokenInput: tokenInput, TokenOutput: tokenOutput, DurationMS: durationMS, CreatedAt: now}, nil
}

// ListAudit returns every AuditEntry for an agent, newest first.
func (s *Store) ListAudit(agentID string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, agent_id, event_type, prompt_hash, token_input, token_output, duration_ms, created_at
		 FROM agent_audit_log WHERE agent_id = ? ORDER BY created_at DESC`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ti, to, dur sql.NullInt64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.EventType, &e.PromptHash, &ti, &to, &dur, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TokenInput = intPtr(ti)
		e.TokenOutput = intPtr(to)
		e.DurationMS = intPtr(dur)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateConversation opens a thread attached to a Spec (SPEC_FULL.md §C.1) —
// used so validation-failure and merge-conflict notifications to the main
// agent have a durable, listable record.
func (s *Store) CreateConversation(specID, threadType string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO spec_conversations (id, spec_id, thread_type, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, specID, threadType, "open", now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &Conversation{ID: id, SpecID: specID, ThreadType: threadType, Status: "open", CreatedAt: now}, nil
}

// AddConversationMessage appends a message to a conversation thread.
func (s *Store) AddConversationMessage(conversationID, author, content string) (*ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO conversation_messages (id, conversation_id, author, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, author, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation message: %w", err)
	}
	return &ConversationMessage{ID: id, ConversationID: conversationID, Author: author, Content: content, CreatedAt: now}, nil
}

// ListConversations returns every conversation thread for a Spec.
func (s *Store) ListConversations(specID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, spec_id, thread_type, status, created_at, resolved_at FROM spec_conversations WHERE spec_id = ? ORDER BY created_at ASC`, specID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var resolved sql.NullTime
		if err := rows.Scan(&c.ID, &c.SpecID, &c.ThreadType, &c.Status, &c.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			t := resolved.Time
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListConversationMessages returns every message in a conversation thread, oldest first.
func (s *Store) ListConversationMessages(conversationID string) ([]ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, conversation_id, author, content, created_at FROM conversation_messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	var out []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
