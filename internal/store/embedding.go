package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/haasonsaas/relay/internal/errdefs"
)

const embeddingMime = "application/x-float32-vector"

func embeddingKey(id string) string {
	return "embeddings/" + id
}

// Object is a stored blob with its metadata.
type Object struct {
	Key       string
	Data      []byte
	Size      int64
	Mime      string
	Hash      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const putObjectSQL = `
	INSERT INTO objects (key, data, size, mime, hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		size = excluded.size,
		mime = excluded.mime,
		hash = excluded.hash,
		updated_at = excluded.updated_at`

type objectRow struct {
	key  string
	data []byte
	mime string
	now  int64
}

func (o objectRow) args() []any {
	sum := sha256.Sum256(o.data)
	return []any{o.key, o.data, len(o.data), o.mime, hex.EncodeToString(sum[:]), o.now, o.now}
}

// PutObject stores a blob under key.
func (s *Store) PutObject(ctx context.Context, key string, data []byte, mime string) error {
	row := objectRow{key: key, data: data, mime: mime, now: time.Now().UnixMilli()}
	if _, err := s.db.ExecContext(ctx, putObjectSQL, row.args()...); err != nil {
		return fmt.Errorf("upsert object %q: %w", key, err)
	}
	return nil
}

// GetObject fetches a blob and its metadata.
func (s *Store) GetObject(ctx context.Context, key string) (*Object, error) {
	var (
		obj       Object
		createdAt int64
		updatedAt int64
		mime      sql.NullString
		hash      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, data, size, mime, hash, created_at, updated_at FROM objects WHERE key = ?", key).
		Scan(&obj.Key, &obj.Data, &obj.Size, &mime, &hash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	obj.Mime = mime.String
	obj.Hash = hash.String
	obj.CreatedAt = time.UnixMilli(createdAt)
	obj.UpdatedAt = time.UnixMilli(updatedAt)
	return &obj, nil
}

// DeleteObject removes a blob if present.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// WriteEmbedding stores the vector for a memory id. The vector dimension is
// pinned at first write; a later write with a different dimension fails.
func (s *Store) WriteEmbedding(ctx context.Context, id string, vector []float32) error {
	row, err := s.prepareEmbedding(ctx, id, vector)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, putObjectSQL, row.args()...); err != nil {
		return fmt.Errorf("upsert embedding %s: %w", id, err)
	}
	return nil
}

// ReadEmbedding fetches and decodes the vector for a memory id.
func (s *Store) ReadEmbedding(ctx context.Context, id string) ([]float32, error) {
	obj, err := s.GetObject(ctx, embeddingKey(id))
	if err != nil {
		return nil, err
	}
	vec, err := decodeVector(obj.Data)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.DatabaseCorrupt, "embedding blob undecodable", err).
			WithComponent("store").WithDetail("id", id)
	}
	return vec, nil
}

// ListEmbeddings returns id → vector for every record in the scope. For the
// project scope a non-empty projectPath narrows to that project.
func (s *Store) ListEmbeddings(ctx context.Context, scope Scope, projectPath string) (map[string][]float32, error) {
	query := `SELECT m.id, o.data FROM memories m JOIN objects o ON o.key = 'embeddings/' || m.id WHERE m.scope = ?`
	args := []any{string(scope)}
	if scope == ScopeProject && projectPath != "" {
		query += " AND m.project_path = ?"
		args = append(args, projectPath)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := decodeVector(data)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.DatabaseCorrupt, "embedding blob undecodable", err).
				WithComponent("store").WithDetail("id", id)
		}
		vectors[id] = vec
	}
	return vectors, rows.Err()
}

func (s *Store) prepareEmbedding(ctx context.Context, id string, vector []float32) (objectRow, error) {
	if len(vector) == 0 {
		return objectRow{}, fmt.Errorf("empty embedding for %s", id)
	}
	if err := s.checkDimension(ctx, len(vector)); err != nil {
		return objectRow{}, err
	}
	return objectRow{
		key:  embeddingKey(id),
		data: encodeVector(vector),
		mime: embeddingMime,
		now:  time.Now().UnixMilli(),
	}, nil
}

// checkDimension pins the dimension on first write and rejects divergence.
// A mismatch means the configured embedding model changed under a populated
// database; recall math would silently degrade, so it surfaces as corruption.
func (s *Store) checkDimension(ctx context.Context, dim int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		metaDimensionKey, strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("pin embedding dimension: %w", err)
	}
	stored, err := s.GetMeta(ctx, metaDimensionKey)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if stored != strconv.Itoa(dim) {
		return errdefs.Newf(errdefs.DatabaseCorrupt,
			"embedding dimension %d does not match stored dimension %s", dim, stored).
			WithComponent("store").
			WithOperation("write-embedding").
			WithSuggestion("re-embed the database or restore the original embedding model")
	}
	return nil
}

// encodeVector packs float32 values little-endian, four bytes each.
func encodeVector(vector []float32) []byte {
	data := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a float32 array", len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}
