package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName = "sqlite3"

	createTableStmt = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`
	selectStmt = `SELECT value FROM kv WHERE key = ?`
	upsertStmt = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteStmt = `DELETE FROM kv WHERE key = ?`
)

// SQLite denotes a key/value store backed by a single sqlite table, shareable between
// processes via the database file
type SQLite struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// OpenSQLite opens (and, unless opened read-only, creates) a sqlite backed store
func OpenSQLite(path string, readOnly bool) (*SQLite, error) {

	dsn, err := buildDSN(path, readOnly)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	// A single connection per process, sqlite serializes access to the file anyway
	db.SetMaxOpenConns(1)

	// A read-only store may legitimately not exist yet (the companion app has not
	// written anything so far), so connectivity is only validated for writers
	if !readOnly {
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if _, err := db.Exec(createTableStmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create kv table: %w", err)
		}
	}

	return &SQLite{
		db:       db,
		path:     path,
		readOnly: readOnly,
	}, nil
}

// Get returns the value stored under the key, or ErrNotFound
func (s *SQLite) Get(key string) ([]byte, error) {
	if s.readOnly {
		if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
	}

	var val []byte
	if err := s.db.QueryRow(selectStmt, key).Scan(&val); err != nil {

		// A missing table means nobody has written to the store yet
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key `%s`: %w", key, err)
	}

	return val, nil
}

// Set stores the value under the key, replacing any previous value
func (s *SQLite) Set(key string, value []byte) error {
	if s.readOnly {
		return fmt.Errorf("failed to write key `%s`: store is read-only", key)
	}
	if value == nil {
		value = []byte{}
	}

	if _, err := s.db.Exec(upsertStmt, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key `%s`: %w", key, err)
	}
	return nil
}

// Delete removes the key (no error if it does not exist)
func (s *SQLite) Delete(key string) error {
	if s.readOnly {
		return fmt.Errorf("failed to delete key `%s`: store is read-only", key)
	}

	if _, err := s.db.Exec(deleteStmt, key); err != nil {
		return fmt.Errorf("failed to delete key `%s`: %w", key, err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLite) Close() error {
	return s.db.Close()
}

////////////////////////////////////////////////////////////////////////////////

func buildDSN(path string, readOnly bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no sqlite path provided")
	}

	params := []string{"_busy_timeout=5000"}
	if readOnly {
		params = append(params, "mode=ro")
	} else {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		params = append(params, "_journal_mode=WAL")
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
