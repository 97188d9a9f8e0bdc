package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "ytreader.db"

// Store wraps a SQLite database holding the mirrored playlist, Q&A history,
// cached API payloads and the background job queue.
type Store struct {
	db *sql.DB
}

// connPragmas run once on the single pooled connection. WAL does not apply
// to in-memory databases and SQLite ignores it there.
var connPragmas = []string{
	"busy_timeout = 5000",
	"journal_mode = WAL",
	"synchronous = NORMAL",
}

// Open opens ytreader.db under dataDir, creating the directory when needed,
// and brings the schema up to date. dataDir ":memory:" gives a private
// in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn, err := dataSource(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dsn, err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dataSource(dataDir string) (string, error) {
	if dataDir == ":memory:" {
		return dataDir, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, dbFile), nil
}

func (s *Store) init() error {
	for _, p := range connPragmas {
		if _, err := s.db.Exec("PRAGMA " + p); err != nil {
			return fmt.Errorf("PRAGMA %s: %w", p, err)
		}
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Timestamps are stored as RFC 3339 UTC text; the zero time is "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
