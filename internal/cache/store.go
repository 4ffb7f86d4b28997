// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistent key-value tier backing L2 entries and L3 field
// entries. It keeps total payload size under a byte ceiling by evicting the
// least recently accessed rows.
type Store struct {
	db       *sql.DB
	maxBytes int64
}

// NewStore opens or creates the cache database at path. maxBytes caps the
// total stored payload size; zero or negative disables eviction.
func NewStore(path string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	s := &Store{db: db, maxBytes: maxBytes}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			last_access INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_last_access ON entries(last_access)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Get returns the value stored under key and refreshes its access time.
// The second return is false when the key is absent.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	if _, err := s.db.Exec(
		`UPDATE entries SET last_access = ? WHERE key = ?`,
		time.Now().UnixNano(), key,
	); err != nil {
		return nil, false, fmt.Errorf("touching cache entry %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value, then evicts
// least-recently-used rows until the store fits its byte ceiling.
func (s *Store) Set(key string, value []byte) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO entries (key, value, size, created_at, last_access)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			last_access = excluded.last_access`,
		key, value, len(value), now.UTC().Format(time.RFC3339), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return s.evict()
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many rows were removed.
func (s *Store) DeletePrefix(prefix string) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM entries WHERE key >= ? AND key < ?`,
		prefix, prefix+"\uffff",
	)
	if err != nil {
		return 0, fmt.Errorf("deleting cache prefix %s: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return n, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// SizeBytes returns the total stored payload size.
func (s *Store) SizeBytes() (int64, error) {
	var size sql.NullInt64
	if err := s.db.QueryRow(`SELECT SUM(size) FROM entries`).Scan(&size); err != nil {
		return 0, fmt.Errorf("summing cache sizes: %w", err)
	}
	return size.Int64, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clearing cache entries: %w", err)
	}
	return nil
}

func (s *Store) evict() error {
	if s.maxBytes <= 0 {
		return nil
	}
	for {
		size, err := s.SizeBytes()
		if err != nil {
			return err
		}
		if size <= s.maxBytes {
			return nil
		}
		res, err := s.db.Exec(
			`DELETE FROM entries WHERE key IN (
				SELECT key FROM entries ORDER BY last_access ASC LIMIT 1
			)`,
		)
		if err != nil {
			return fmt.Errorf("evicting cache entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("counting evicted rows: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}
