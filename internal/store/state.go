package store

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Script state operations ---
//
// Script state is a small key/value table External scripts use to carry
// values from one pass to the next. Values are opaque text to the store.

// GetState returns the value stored under key and whether it exists.
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM script_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState stores value under key, replacing any previous value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO script_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes key. Removing a missing key is not an error.
func (s *Store) DeleteState(key string) error {
	if _, err := s.db.Exec("DELETE FROM script_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}

// States returns all script state entries ordered by key.
func (s *Store) States() ([]StateEntry, error) {
	rows, err := s.db.Query("SELECT key, value, updated_at FROM script_state ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("states: %w", err)
	}
	defer rows.Close()
	var entries []StateEntry
	for rows.Next() {
		var e StateEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
