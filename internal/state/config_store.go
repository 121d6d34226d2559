package state

import "fmt"

// GetConfigValue fetches an operator-tunable setting seeded by migration7,
// mirroring the teacher's config-table convention: a value here only takes
// effect when the caller's flag/YAML field is still at its default.
func (s *Store) GetConfigValue(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config value: %w", err)
	}
	return value, nil
}

// SetConfigValue upserts an operator-tunable setting.
func (s *Store) SetConfigValue(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config value: %w", err)
	}
	return nil
}
