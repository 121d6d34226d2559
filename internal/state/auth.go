package state

import (
	"fmt"
	"time"
)

// SetAuthState upserts an opaque key/value pair.
func (s *Store) SetAuthState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO auth_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set auth state: %w", err)
	}
	return nil
}

// GetAuthState fetches the value for key.
func (s *Store) GetAuthState(key string) (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a AuthState
	err := s.db.QueryRow(`SELECT key, value, updated_at FROM auth_state WHERE key = ?`, key).Scan(&a.Key, &a.Value, &a.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth state: %w", err)
	}
	return &a, nil
}
