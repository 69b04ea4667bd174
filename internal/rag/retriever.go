// Package rag retrieves exercise catalog entries and user memories from
// the vector store. Queries are embedded through a Genkit embedder and
// searched in Qdrant; exercise hits can be hydrated into full rows
// through the Express API.
package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/qdrant"
)

// Document is a single retrieval hit.
type Document struct {
	Content  string
	Score    float32
	Source   string
	Metadata map[string]any
}

// Config configures retrieval behavior. Zero values fall back to the
// defaults noted per field.
type Config struct {
	ExercisesCollection string  // default "exercises"
	MemoryCollection    string  // default "user_memory"
	TopK                int     // default 5
	ScoreThreshold      float32 // minimum similarity; 0 disables
}

// Searcher is the vector store surface the retriever needs.
type Searcher interface {
	Search(ctx context.Context, collection string, params qdrant.SearchParams) ([]qdrant.Hit, error)
}

// ExerciseHydrator resolves exercise codes into full catalog rows.
type ExerciseHydrator interface {
	ExercisesByCodes(ctx context.Context, codes []string) ([]map[string]any, error)
}

// Retriever performs embed-then-search retrieval.
type Retriever struct {
	embedder ai.Embedder
	store    Searcher
	cfg      Config
	logger   log.Logger
}

// NewRetriever creates a Retriever. The embedder and store are required.
func NewRetriever(embedder ai.Embedder, store Searcher, cfg Config, logger log.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.ExercisesCollection == "" {
		cfg.ExercisesCollection = "exercises"
	}
	if cfg.MemoryCollection == "" {
		cfg.MemoryCollection = "user_memory"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// SearchOption adjusts a single retrieval call.
type SearchOption func(*searchSettings)

type searchSettings struct {
	topK    int
	filters map[string]any
}

// WithTopK overrides the number of results for one call.
func WithTopK(k int) SearchOption {
	return func(s *searchSettings) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithFilter adds an exact-match payload filter.
func WithFilter(key string, value any) SearchOption {
	return func(s *searchSettings) {
		if s.filters == nil {
			s.filters = make(map[string]any)
		}
		s.filters[key] = value
	}
}

// RetrieveExercises returns catalog entries relevant to the query.
func (r *Retriever) RetrieveExercises(ctx context.Context, query string, opts ...SearchOption) ([]Document, error) {
	settings := r.settings(opts)

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Search(ctx, r.cfg.ExercisesCollection, qdrant.SearchParams{
		Vector:         vector,
		Limit:          settings.topK,
		Filter:         settings.filters,
		ScoreThreshold: r.cfg.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search exercises: %w", err)
	}

	docs := make([]Document, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, Document{
			Content: stringField(hit.Payload, "name"),
			Score:   hit.Score,
			Source:  "exercises",
			Metadata: map[string]any{
				"source_id":        hit.Payload["source_id"],
				"exercise_code":    hit.Payload["exercise_code"],
				"main_muscle_id":   hit.Payload["main_muscle_id"],
				"equipment_id":     hit.Payload["equipment_id"],
				"difficulty_level": hit.Payload["difficulty_level"],
			},
		})
	}

	r.logger.Debug("retrieved exercises", "query_length", len(query), "hits", len(docs))
	return docs, nil
}

// RetrieveUserMemory returns memories for one user relevant to the query.
// Results are always scoped to userID.
func (r *Retriever) RetrieveUserMemory(ctx context.Context, query, userID string, opts ...SearchOption) ([]Document, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required for memory retrieval")
	}
	settings := r.settings(opts)
	if settings.filters == nil {
		settings.filters = make(map[string]any)
	}
	settings.filters["user_id"] = userID

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Search(ctx, r.cfg.MemoryCollection, qdrant.SearchParams{
		Vector:         vector,
		Limit:          settings.topK,
		Filter:         settings.filters,
		ScoreThreshold: r.cfg.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search user memory: %w", err)
	}

	docs := make([]Document, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, Document{
			Content: stringField(hit.Payload, "content"),
			Score:   hit.Score,
			Source:  "user_memory",
			Metadata: map[string]any{
				"source_id":   hit.Payload["source_id"],
				"user_id":     hit.Payload["user_id"],
				"created_at":  hit.Payload["created_at"],
				"memory_type": hit.Payload["memory_type"],
			},
		})
	}

	r.logger.Debug("retrieved memories", "user_id", userID, "hits", len(docs))
	return docs, nil
}

// HydrateExercises resolves retrieved exercise documents into the full
// catalog rows held by the Express API. Documents without an exercise
// code are skipped.
func (r *Retriever) HydrateExercises(ctx context.Context, api ExerciseHydrator, docs []Document) ([]map[string]any, error) {
	codes := make([]string, 0, len(docs))
	for _, doc := range docs {
		if code := stringField(doc.Metadata, "exercise_code"); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, nil
	}

	rows, err := api.ExercisesByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("hydrate exercises: %w", err)
	}
	return rows, nil
}

func (r *Retriever) settings(opts []SearchOption) searchSettings {
	s := searchSettings{topK: r.cfg.TopK}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
