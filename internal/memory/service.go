// Package memory is the semantic memory subsystem: a persistent keyed store
// of records with vector embeddings, cosine-similarity recall, and extraction
// of <remember> tags from model output.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/memory/embeddings"
	"github.com/haasonsaas/relay/internal/store"
)

// RecallScope selects which namespaces a recall query searches.
type RecallScope string

const (
	RecallGlobal  RecallScope = "global"
	RecallProject RecallScope = "project"
	RecallBoth    RecallScope = "both"
)

// lexicalScoreCap bounds synthetic scores so fallback results never outrank
// a real similarity match.
const lexicalScoreCap = 0.5

// Service coordinates the store, the embedding provider, and the vector
// cache. All methods are safe for concurrent use.
type Service struct {
	store    *store.Store
	embedder embeddings.Provider
	cache    *vectorCache
	logger   *slog.Logger
}

// NewService wires a memory service over an open store. The embedder may be
// nil, in which case recall always takes the lexical path and remembered
// records carry no vector.
func NewService(st *store.Store, embedder embeddings.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		embedder: embedder,
		cache:    newVectorCache(),
		logger:   logger.With("component", "memory"),
	}
}

// Store exposes the underlying store for callers that need raw access.
func (s *Service) Store() *store.Store {
	return s.store
}

// RememberInput describes one memory to write. A present ID updates in
// place; otherwise a new id is assigned.
type RememberInput struct {
	ID          string
	Scope       store.Scope
	ProjectPath string
	Category    string
	Content     string
	Importance  float64
	Metadata    map[string]any
}

// Remember writes a memory record and its embedding in one transaction.
func (s *Service) Remember(ctx context.Context, in RememberInput) (*store.Record, error) {
	rec := &store.Record{
		ID:          in.ID,
		Scope:       in.Scope,
		ProjectPath: in.ProjectPath,
		Category:    in.Category,
		Content:     in.Content,
		Importance:  in.Importance,
		Metadata:    in.Metadata,
	}
	if rec.ID != "" {
		// Updates preserve created-at and access accounting.
		if existing, err := s.store.Get(ctx, rec.ID, rec.Scope); err == nil {
			rec.CreatedAt = existing.CreatedAt
			rec.LastAccessedAt = existing.LastAccessedAt
			rec.AccessCount = existing.AccessCount
		}
	}

	vector, err := s.embed(ctx, in.Content)
	if err != nil {
		s.logger.Warn("embedding generation failed, storing without vector", "error", err)
		vector = nil
	}

	if vector == nil {
		err = s.store.Put(ctx, rec)
	} else {
		err = s.store.PutWithEmbedding(ctx, rec, vector)
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.MemorySaveFailed, "store memory", err).
			WithComponent("memory").WithOperation("remember")
	}
	if vector != nil {
		s.cache.storeVector(rec.Scope, rec.ProjectPath, rec.ID, vector)
	}
	return rec, nil
}

// RememberTag persists one extracted <remember> tag. Project-scoped tags
// need a project path; without one the tag degrades to global scope.
func (s *Service) RememberTag(ctx context.Context, tag Tag, projectPath string) (*store.Record, error) {
	scope := tag.Scope
	if scope == store.ScopeProject && projectPath == "" {
		scope = store.ScopeGlobal
	}
	in := RememberInput{Scope: scope, Category: tag.Category, Content: tag.Content}
	if scope == store.ScopeProject {
		in.ProjectPath = projectPath
	}
	return s.Remember(ctx, in)
}

// Get fetches one record.
func (s *Service) Get(ctx context.Context, id string, scope store.Scope) (*store.Record, error) {
	return s.store.Get(ctx, id, scope)
}

// Forget deletes a record and its embedding.
func (s *Service) Forget(ctx context.Context, id string, scope store.Scope, projectPath string) error {
	if err := s.store.Delete(ctx, id, scope); err != nil {
		return err
	}
	s.cache.invalidate(scope, projectPath, id)
	return nil
}

// Touch bumps access accounting for a record.
func (s *Service) Touch(ctx context.Context, id string, scope store.Scope) error {
	return s.store.Touch(ctx, id, scope)
}

// List returns the records in a scope, newest first.
func (s *Service) List(ctx context.Context, scope store.Scope, projectPath string) ([]*store.Record, error) {
	return s.store.List(ctx, scope, projectPath)
}

// Cleanup runs the retention sweep and drops the vector cache so stale
// entries cannot be recalled.
func (s *Service) Cleanup(ctx context.Context, minImportance float64, maxAgeDays int) (int64, error) {
	removed, err := s.store.Cleanup(ctx, minImportance, maxAgeDays)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.cache.clear()
	}
	return removed, nil
}

// RecallQuery describes a semantic recall.
type RecallQuery struct {
	Query       string
	Scope       RecallScope
	ProjectPath string
	Limit       int
}

// RecallResult pairs a record with its similarity score.
type RecallResult struct {
	Record *store.Record
	Score  float64
}

// Recall ranks stored memories against the query by cosine similarity and
// returns the top results, highest score first. Ties break by created-at
// descending, then id ascending, so results are deterministic. When the
// query embedding cannot be generated the lexical fallback runs instead.
func (s *Service) Recall(ctx context.Context, q RecallQuery) ([]RecallResult, error) {
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Scope == "" {
		q.Scope = RecallBoth
	}

	queryVec, err := s.embed(ctx, q.Query)
	if err != nil || queryVec == nil {
		if err != nil {
			s.logger.Warn("query embedding failed, using lexical recall", "error", err)
		}
		return s.lexicalRecall(ctx, q)
	}

	var results []RecallResult
	if q.Scope == RecallGlobal || q.Scope == RecallBoth {
		part, err := s.rankScope(ctx, queryVec, store.ScopeGlobal, "")
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}
	if (q.Scope == RecallProject || q.Scope == RecallBoth) && q.ProjectPath != "" {
		part, err := s.rankScope(ctx, queryVec, store.ScopeProject, q.ProjectPath)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}

	sortResults(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	s.touchAll(ctx, results)
	return results, nil
}

// rankScope scores every vector in one namespace and resolves the records.
func (s *Service) rankScope(ctx context.Context, queryVec []float32, scope store.Scope, projectPath string) ([]RecallResult, error) {
	var (
		vectors map[string][]float32
		err     error
	)
	if scope == store.ScopeGlobal {
		vectors, err = s.cache.globalVectors(ctx, s.store)
	} else {
		vectors, err = s.cache.projectVectors(ctx, s.store, projectPath)
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.MemoryRecallFailed, "load embeddings", err).
			WithComponent("memory").WithOperation("recall")
	}

	results := make([]RecallResult, 0, len(vectors))
	for id, vec := range vectors {
		score := cosineSimilarity(queryVec, vec)
		rec, err := s.store.Get(ctx, id, scope)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // record deleted under a stale cache entry
			}
			return nil, errdefs.Wrap(errdefs.MemoryRecallFailed, "load record", err).
				WithComponent("memory").WithOperation("recall")
		}
		results = append(results, RecallResult{Record: rec, Score: score})
	}
	return results, nil
}

// lexicalRecall is the fallback when no query vector is available:
// case-insensitive substring matching over record content with synthetic
// scores in [0, 0.5].
func (s *Service) lexicalRecall(ctx context.Context, q RecallQuery) ([]RecallResult, error) {
	var records []*store.Record
	if q.Scope == RecallGlobal || q.Scope == RecallBoth {
		part, err := s.store.List(ctx, store.ScopeGlobal, "")
		if err != nil {
			return nil, errdefs.Wrap(errdefs.MemoryRecallFailed, "list records", err).
				WithComponent("memory").WithOperation("recall")
		}
		records = append(records, part...)
	}
	if (q.Scope == RecallProject || q.Scope == RecallBoth) && q.ProjectPath != "" {
		part, err := s.store.List(ctx, store.ScopeProject, q.ProjectPath)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.MemoryRecallFailed, "list records", err).
				WithComponent("memory").WithOperation("recall")
		}
		records = append(records, part...)
	}

	terms := strings.Fields(strings.ToLower(q.Query))
	var results []RecallResult
	for _, rec := range records {
		score := lexicalScore(strings.ToLower(rec.Content), terms)
		if score <= 0 {
			continue
		}
		results = append(results, RecallResult{Record: rec, Score: score})
	}

	sortResults(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	s.touchAll(ctx, results)
	return results, nil
}

// lexicalScore maps the fraction of matched terms into (0, 0.5].
func lexicalScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			matched++
		}
	}
	return lexicalScoreCap * float64(matched) / float64(len(terms))
}

// touchAll bumps access accounting for recalled records. Failures only log;
// recall already has its results.
func (s *Service) touchAll(ctx context.Context, results []RecallResult) {
	for _, r := range results {
		if err := s.store.Touch(ctx, r.Record.ID, r.Record.Scope); err != nil {
			s.logger.Debug("touch failed", "id", r.Record.ID, "error", err)
		}
	}
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, nil
	}
	return s.embedder.Embed(ctx, text)
}

// sortResults orders by score descending with created-at descending then id
// ascending as tiebreaks.
func sortResults(results []RecallResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions and zero vectors score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
