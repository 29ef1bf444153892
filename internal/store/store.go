// Package store is the persistent layer under the memory subsystem: a
// single SQLite file holding three namespaces. `meta` is a string KV table,
// `objects` holds blobs with size/mime/hash metadata (embedding vectors live
// here under `embeddings/<id>`), and `memories` holds the structured records.
//
// Stores are process-wide singletons keyed by database path: Open returns
// the existing handle for a path already open. Record and blob writes for a
// given memory go through one transaction so a crash never leaves one
// without the other.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/relay/internal/errdefs"
)

// ErrNotFound is returned when a record, object, or meta key does not exist.
var ErrNotFound = errors.New("store: not found")

// metaDimensionKey pins the embedding dimension at first write.
const metaDimensionKey = "embedding_dimension"

var (
	openMu    sync.Mutex
	openStore = make(map[string]*Store)
)

// Store wraps one SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open returns the store for path, opening and initializing it on first use.
func Open(path string) (*Store, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if s, ok := openStore[path]; ok {
		return s, nil
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.DatabaseInit, "open database", err).
			WithComponent("store").WithDetail("path", path)
	}
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	openStore[path] = s
	return s, nil
}

// dsn builds the connection string. Pragmas ride the DSN so every pooled
// connection gets them: write-ahead journaling, synchronous NORMAL, foreign
// keys on, and a busy timeout instead of immediate SQLITE_BUSY.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			key        TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			size       INTEGER NOT NULL,
			mime       TEXT,
			hash       TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id               TEXT PRIMARY KEY,
			scope            TEXT NOT NULL CHECK (scope IN ('global','project')),
			project_path     TEXT,
			category         TEXT NOT NULL,
			content          TEXT NOT NULL,
			importance       REAL NOT NULL DEFAULT 0.5,
			metadata         TEXT,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL,
			last_accessed_at INTEGER NOT NULL,
			access_count     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_path)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return errdefs.Wrap(errdefs.DatabaseInit, "create schema", err).
				WithComponent("store").WithDetail("path", s.path)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the handle and removes it from the singleton registry.
func (s *Store) Close() error {
	openMu.Lock()
	delete(openStore, s.path)
	openMu.Unlock()
	return s.db.Close()
}

// Compact reclaims free pages.
func (s *Store) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// GetMeta reads one meta value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes one meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("write meta %q: %w", key, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
