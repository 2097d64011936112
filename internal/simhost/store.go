// Package simhost is an in-process session host. It stands in for the data
// collection service the bridge binds to: configured plugins connect when
// scanning starts, records accumulate in per-topic caches and a cron job
// uploads them, with every change published on the notification bus.
package simhost

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the host's settings store. Put and Reset are staged in memory and
// only reach the database on PersistChanges, which commits the whole batch
// in one transaction.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	staged map[string]*string
	order  []string
}

// OpenStore opens (or creates) the settings database at path. ":memory:"
// gives a private in-memory store.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, staged: make(map[string]*string)}, nil
}

func (s *Store) stage(key string, value *string) {
	if _, ok := s.staged[key]; !ok {
		s.order = append(s.order, key)
	}
	s.staged[key] = value
}

// Put stages key=value.
func (s *Store) Put(key, value string) error {
	if key == "" {
		return errors.New("setting key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(key, &value)
	return nil
}

// Reset stages the removal of keys so they fall back to their defaults.
func (s *Store) Reset(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if key == "" {
			return errors.New("setting key is required")
		}
		s.stage(key, nil)
	}
	return nil
}

// Discard drops every staged change.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = make(map[string]*string)
	s.order = nil
}

// Pending returns the number of staged changes.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// PersistChanges commits every staged change. On failure nothing is written
// and the changes stay staged.
func (s *Store) PersistChanges() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range s.order {
		value := s.staged[key]
		if value == nil {
			if _, err := tx.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
				return fmt.Errorf("failed to reset %s: %w", key, err)
			}
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s','now')`,
			key, *value,
		); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}

	s.staged = make(map[string]*string)
	s.order = nil
	return nil
}

// Save writes key=value immediately, bypassing the staged batch.
func (s *Store) Save(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s','now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Get returns the committed value of key.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// Keys lists committed keys in order.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
