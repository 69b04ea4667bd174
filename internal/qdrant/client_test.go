package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reppyfit/reppy/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{URL: srv.URL, APIKey: "qdrant-key"}, log.NewNop())
	require.NoError(t, err)
	return client
}

func collectionsResponse(names ...string) map[string]any {
	cols := make([]any, 0, len(names))
	for _, n := range names {
		cols = append(cols, map[string]any{"name": n})
	}
	return map[string]any{
		"result": map[string]any{"collections": cols},
		"status": "ok",
	}
}

func TestHealth(t *testing.T) {
	var gotKey string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		require.Equal(t, "/collections", r.URL.Path)
		json.NewEncoder(w).Encode(collectionsResponse("exercises", "memories"))
	}))

	names, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"exercises", "memories"}, names)
	assert.Equal(t, "qdrant-key", gotKey)
}

func TestHealthError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := client.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var createdPath string
	var createdBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			json.NewEncoder(w).Encode(collectionsResponse("other"))
		case r.Method == http.MethodPut:
			createdPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createdBody))
			json.NewEncoder(w).Encode(map[string]any{"result": true, "status": "ok"})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))

	err := client.EnsureCollection(context.Background(), "exercises", 768, DistanceCosine)
	require.NoError(t, err)

	assert.Equal(t, "/collections/exercises", createdPath)
	vectors := createdBody["vectors"].(map[string]any)
	assert.Equal(t, float64(768), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method, "existing collection must not be recreated")
		json.NewEncoder(w).Encode(collectionsResponse("exercises"))
	}))

	err := client.EnsureCollection(context.Background(), "exercises", 768, DistanceCosine)
	require.NoError(t, err)
}

func TestEnsureCollectionRejectsUnknownDistance(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	err := client.EnsureCollection(context.Background(), "exercises", 768, "Manhattan")
	assert.ErrorIs(t, err, ErrUnknownDistance)
}

func TestUpsert(t *testing.T) {
	var gotBody map[string]any
	var gotQuery string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/exercises/points", r.URL.Path)
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))

	points := []Point{{
		ID:      "11111111-1111-1111-1111-111111111111",
		Vector:  []float32{0.1, 0.2},
		Payload: map[string]any{"exercise_code": "SQT_BB"},
	}}
	require.NoError(t, client.Upsert(context.Background(), "exercises", points))

	assert.Equal(t, "wait=true", gotQuery)
	assert.Len(t, gotBody["points"], 1)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty upsert")
	}))
	require.NoError(t, client.Upsert(context.Background(), "exercises", nil))
}

func TestSearch(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/exercises/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"result": []any{
				map[string]any{
					"id":      "abc",
					"score":   0.91,
					"payload": map[string]any{"exercise_code": "SQT_BB"},
				},
				map[string]any{
					"id":      42,
					"score":   0.55,
					"payload": map[string]any{"exercise_code": "BP_BB"},
				},
			},
		})
	}))

	hits, err := client.Search(context.Background(), "exercises", SearchParams{
		Vector:         []float32{0.1, 0.2},
		Limit:          5,
		Filter:         map[string]any{"equipment_id": "BARBELL"},
		ScoreThreshold: 0.35,
	})
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "abc", hits[0].ID)
	assert.Equal(t, "42", hits[1].ID, "integer point ids are rendered as strings")
	assert.InDelta(t, 0.91, float64(hits[0].Score), 1e-6)

	assert.Equal(t, float64(5), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])
	assert.InDelta(t, 0.35, gotBody["score_threshold"].(float64), 1e-6)

	filter := gotBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 1)
	cond := must[0].(map[string]any)
	assert.Equal(t, "equipment_id", cond["key"])
}

func TestSearchWithoutFilterOmitsFilter(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
	}))

	_, err := client.Search(context.Background(), "exercises", SearchParams{Vector: []float32{0.1}})
	require.NoError(t, err)

	_, hasFilter := gotBody["filter"]
	assert.False(t, hasFilter)
	_, hasThreshold := gotBody["score_threshold"]
	assert.False(t, hasThreshold)
}

func TestDelete(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/exercises/points/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))

	require.NoError(t, client.Delete(context.Background(), "exercises", []string{"a", "b"}))
	assert.Len(t, gotBody["points"], 2)
}
