package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/qdrant"
)

// fakeEmbedder returns a fixed vector per input document.
type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

func (f *fakeEmbedder) Register(api.Registry) {}

func (f *fakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := &ai.EmbedResponse{}
	for range req.Input {
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: f.vector})
	}
	return resp, nil
}

// fakeStore records search calls and returns canned hits.
type fakeStore struct {
	hits       []qdrant.Hit
	err        error
	collection string
	params     qdrant.SearchParams
}

func (f *fakeStore) Search(_ context.Context, collection string, params qdrant.SearchParams) ([]qdrant.Hit, error) {
	f.collection = collection
	f.params = params
	return f.hits, f.err
}

func newTestRetriever(t *testing.T, store *fakeStore, cfg Config) *Retriever {
	t.Helper()
	r, err := NewRetriever(&fakeEmbedder{vector: []float32{0.1, 0.2}}, store, cfg, log.NewNop())
	require.NoError(t, err)
	return r
}

func TestRetrieveExercises(t *testing.T) {
	t.Parallel()

	store := &fakeStore{hits: []qdrant.Hit{
		{
			ID:    "1",
			Score: 0.91,
			Payload: map[string]any{
				"name":             "Barbell Bench Press",
				"exercise_code":    "BP_BB",
				"main_muscle_id":   float64(3),
				"equipment_id":     float64(1),
				"difficulty_level": float64(2),
				"source_id":        "ex-17",
			},
		},
	}}
	r := newTestRetriever(t, store, Config{TopK: 5, ScoreThreshold: 0.35})

	docs, err := r.RetrieveExercises(context.Background(), "chest press variations")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "exercises", store.collection)
	assert.Equal(t, 5, store.params.Limit)
	assert.InDelta(t, 0.35, store.params.ScoreThreshold, 1e-6)

	doc := docs[0]
	assert.Equal(t, "Barbell Bench Press", doc.Content)
	assert.Equal(t, "exercises", doc.Source)
	assert.InDelta(t, 0.91, doc.Score, 1e-6)
	assert.Equal(t, "BP_BB", doc.Metadata["exercise_code"])
	assert.Equal(t, "ex-17", doc.Metadata["source_id"])
}

func TestRetrieveExercises_Options(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestRetriever(t, store, Config{})

	_, err := r.RetrieveExercises(context.Background(), "legs",
		WithTopK(3), WithFilter("equipment_id", 2))
	require.NoError(t, err)

	assert.Equal(t, 3, store.params.Limit)
	assert.Equal(t, map[string]any{"equipment_id": 2}, store.params.Filter)
}

func TestRetrieveUserMemory_ScopedToUser(t *testing.T) {
	t.Parallel()

	store := &fakeStore{hits: []qdrant.Hit{
		{
			ID:    "m1",
			Score: 0.8,
			Payload: map[string]any{
				"content":     "prefers morning workouts",
				"user_id":     "user-7",
				"memory_type": "preference",
			},
		},
	}}
	r := newTestRetriever(t, store, Config{MemoryCollection: "user_memory"})

	docs, err := r.RetrieveUserMemory(context.Background(), "when to train", "user-7")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "user_memory", store.collection)
	assert.Equal(t, "user-7", store.params.Filter["user_id"])
	assert.Equal(t, "prefers morning workouts", docs[0].Content)
	assert.Equal(t, "user_memory", docs[0].Source)
}

func TestRetrieveUserMemory_RequiresUserID(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeStore{}, Config{})

	_, err := r.RetrieveUserMemory(context.Background(), "goals", "")
	require.Error(t, err)
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(&fakeEmbedder{err: errors.New("quota exceeded")}, &fakeStore{}, Config{}, log.NewNop())
	require.NoError(t, err)

	_, err = r.RetrieveExercises(context.Background(), "anything")
	require.ErrorContains(t, err, "embed query")
}

type fakeHydrator struct {
	codes []string
	rows  []map[string]any
}

func (f *fakeHydrator) ExercisesByCodes(_ context.Context, codes []string) ([]map[string]any, error) {
	f.codes = codes
	return f.rows, nil
}

func TestHydrateExercises(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeStore{}, Config{})
	hydrator := &fakeHydrator{rows: []map[string]any{{"exercise_code": "BP_BB"}}}

	docs := []Document{
		{Metadata: map[string]any{"exercise_code": "BP_BB"}},
		{Metadata: map[string]any{}}, // no code, skipped
	}
	rows, err := r.HydrateExercises(context.Background(), hydrator, docs)
	require.NoError(t, err)

	assert.Equal(t, []string{"BP_BB"}, hydrator.codes)
	assert.Len(t, rows, 1)
}

func TestHydrateExercises_NoCodes(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeStore{}, Config{})

	rows, err := r.HydrateExercises(context.Background(), &fakeHydrator{}, nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}
