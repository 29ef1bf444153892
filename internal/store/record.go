package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope selects the global or per-project namespace.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Categories is the closed set of memory categories.
var Categories = map[string]bool{
	"preference":   true,
	"pattern":      true,
	"decision":     true,
	"architecture": true,
	"knowledge":    true,
	"error":        true,
	"workflow":     true,
	"context":      true,
	"code":         true,
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	return Categories[c]
}

// Record is one stored memory.
type Record struct {
	ID             string         `json:"id"`
	Scope          Scope          `json:"scope"`
	ProjectPath    string         `json:"projectPath,omitempty"`
	Category       string         `json:"category"`
	Content        string         `json:"content"`
	Importance     float64        `json:"importance"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	LastAccessedAt int64          `json:"lastAccessedAt"` // unix millis
	AccessCount    int            `json:"accessCount"`
}

// Validate checks the record invariants: a known category, importance in
// [0,1], and a project path present exactly when the scope is project.
func (r *Record) Validate() error {
	switch r.Scope {
	case ScopeGlobal:
		if r.ProjectPath != "" {
			return fmt.Errorf("global record must not carry a project path")
		}
	case ScopeProject:
		if r.ProjectPath == "" {
			return fmt.Errorf("project record requires a project path")
		}
	default:
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	if !ValidCategory(r.Category) {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("importance %v outside [0,1]", r.Importance)
	}
	return nil
}

// PutGlobal upserts a global-scoped record.
func (s *Store) PutGlobal(ctx context.Context, rec *Record) error {
	rec.Scope = ScopeGlobal
	return s.Put(ctx, rec)
}

// PutProject upserts a project-scoped record.
func (s *Store) PutProject(ctx context.Context, rec *Record) error {
	rec.Scope = ScopeProject
	return s.Put(ctx, rec)
}

// Put upserts a record. A missing id is assigned. Updates preserve
// created-at and the access accounting; updated-at is bumped.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if err := s.preparePut(rec); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, putRecordSQL, putRecordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// PutWithEmbedding writes the record and its embedding blob in one
// transaction so neither can exist without the other after a crash.
func (s *Store) PutWithEmbedding(ctx context.Context, rec *Record, vector []float32) error {
	if err := s.preparePut(rec); err != nil {
		return err
	}
	blob, err := s.prepareEmbedding(ctx, rec.ID, vector)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, putRecordSQL, putRecordArgs(rec)...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx, putObjectSQL, blob.args()...); err != nil {
		return fmt.Errorf("upsert embedding %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (s *Store) preparePut(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Importance == 0 {
		rec.Importance = 0.5
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.LastAccessedAt == 0 {
		rec.LastAccessedAt = now.UnixMilli()
	}
	return rec.Validate()
}

const putRecordSQL = `
	INSERT INTO memories (id, scope, project_path, category, content, importance, metadata, created_at, updated_at, last_accessed_at, access_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		scope = excluded.scope,
		project_path = excluded.project_path,
		category = excluded.category,
		content = excluded.content,
		importance = excluded.importance,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at`

func putRecordArgs(rec *Record) []any {
	metadata, _ := json.Marshal(rec.Metadata)
	return []any{
		rec.ID,
		string(rec.Scope),
		nullString(rec.ProjectPath),
		rec.Category,
		rec.Content,
		rec.Importance,
		string(metadata),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
		rec.LastAccessedAt,
		rec.AccessCount,
	}
}

// Get fetches one record by id and scope.
func (s *Store) Get(ctx context.Context, id string, scope Scope) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecordSQL+" WHERE id = ? AND scope = ?", id, string(scope))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes a record and its embedding blob in one transaction.
func (s *Store) Delete(ctx context.Context, id string, scope Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ? AND scope = ?", id, string(scope))
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", embeddingKey(id)); err != nil {
		return fmt.Errorf("delete embedding %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// List returns records in a scope, newest first with id as tiebreak. For the
// project scope a non-empty projectPath narrows to that project.
func (s *Store) List(ctx context.Context, scope Scope, projectPath string) ([]*Record, error) {
	query := selectRecordSQL + " WHERE scope = ?"
	args := []any{string(scope)}
	if scope == ScopeProject && projectPath != "" {
		query += " AND project_path = ?"
		args = append(args, projectPath)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of records in a scope.
func (s *Store) Count(ctx context.Context, scope Scope) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE scope = ?", string(scope)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// Touch bumps access accounting: access-count +1, last-accessed-at now.
func (s *Store) Touch(ctx context.Context, id string, scope Scope) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ? AND scope = ?",
		time.Now().UnixMilli(), id, string(scope))
	if err != nil {
		return fmt.Errorf("touch record %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup deletes records matching all three retention conditions: importance
// below minImportance, age over maxAgeDays, and fewer than three accesses.
// Matching embedding blobs go in the same transaction. Returns the number of
// records removed.
func (s *Store) Cleanup(ctx context.Context, minImportance float64, maxAgeDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer rollback(tx)

	const condition = "importance < ? AND created_at < ? AND access_count < 3"
	_, err = tx.ExecContext(ctx,
		"DELETE FROM objects WHERE key IN (SELECT 'embeddings/' || id FROM memories WHERE "+condition+")",
		minImportance, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE "+condition, minImportance, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

const selectRecordSQL = `SELECT id, scope, project_path, category, content, importance, metadata, created_at, updated_at, last_accessed_at, access_count FROM memories`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		scope        string
		projectPath  sql.NullString
		metadataJSON string
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&rec.ID,
		&scope,
		&projectPath,
		&rec.Category,
		&rec.Content,
		&rec.Importance,
		&metadataJSON,
		&createdAt,
		&updatedAt,
		&rec.LastAccessedAt,
		&rec.AccessCount,
	)
	if err != nil {
		return nil, err
	}
	rec.Scope = Scope(scope)
	rec.ProjectPath = projectPath.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		_ = err
	}
}
