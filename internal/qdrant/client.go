// Package qdrant is a thin client for the Qdrant REST API.
//
// Only the handful of operations this service needs are wrapped: collection
// bootstrap, point upsert and delete, filtered similarity search, and a
// health probe. The vector search engine itself stays Qdrant's problem.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/reppyfit/reppy/internal/log"
)

const defaultTimeout = 10 * time.Second

// Distance metrics accepted by EnsureCollection.
const (
	DistanceCosine = "Cosine"
	DistanceEuclid = "Euclid"
	DistanceDot    = "Dot"
)

// ErrUnknownDistance indicates an unsupported distance metric name.
var ErrUnknownDistance = errors.New("unknown distance metric")

// APIError is a non-2xx response from Qdrant.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant API error (status %d): %s", e.StatusCode, e.Body)
}

// Point is one vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Hit is one search result.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchParams shape one similarity query.
type SearchParams struct {
	Vector []float32

	// Limit caps the number of hits. Zero means Qdrant's default.
	Limit int

	// Filter holds field equality conditions, all of which must match.
	Filter map[string]any

	// ScoreThreshold drops hits scoring below it when positive.
	ScoreThreshold float32
}

// Config holds client settings.
type Config struct {
	// URL is the Qdrant root, e.g. "http://localhost:6333".
	URL string

	// APIKey is sent in the api-key header when set.
	APIKey string

	// Timeout applies per request. Zero means defaultTimeout.
	Timeout time.Duration
}

// Client talks to one Qdrant instance. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a Qdrant client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    trimTrailingSlash(cfg.URL),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "qdrant_client"),
	}, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Health probes the server by listing collections.
// Returns the collection names on success.
func (c *Client) Health(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Result.Collections))
	for _, col := range resp.Result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// EnsureCollection creates the collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	if !slices.Contains([]string{DistanceCosine, DistanceEuclid, DistanceDot}, distance) {
		return fmt.Errorf("%w: %q", ErrUnknownDistance, distance)
	}

	existing, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	if slices.Contains(existing, name) {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": distance,
		},
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	c.logger.Info("created qdrant collection",
		"collection", name,
		"vector_size", vectorSize,
		"distance", distance)
	return nil
}

// Upsert writes points into the collection, waiting for the operation to be
// applied so a following search sees them.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": points}
	path := "/collections/" + url.PathEscape(collection) + "/points?wait=true"
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upserting %d points to %s: %w", len(points), collection, err)
	}

	c.logger.Debug("upserted points", "collection", collection, "count", len(points))
	return nil
}

// Search runs a similarity query against the collection.
func (c *Client) Search(ctx context.Context, collection string, params SearchParams) ([]Hit, error) {
	body := map[string]any{
		"vector":       params.Vector,
		"with_payload": true,
	}
	if params.Limit > 0 {
		body["limit"] = params.Limit
	}
	if params.ScoreThreshold > 0 {
		body["score_threshold"] = params.ScoreThreshold
	}
	if len(params.Filter) > 0 {
		must := make([]map[string]any, 0, len(params.Filter))
		for field, value := range params.Filter {
			must = append(must, map[string]any{
				"key":   field,
				"match": map[string]any{"value": value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float32         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(collection) + "/points/search"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			ID:      decodePointID(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return hits, nil
}

// Delete removes points by ID, waiting for the operation to be applied.
func (c *Client) Delete(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	body := map[string]any{"points": pointIDs}
	path := "/collections/" + url.PathEscape(collection) + "/points/delete?wait=true"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("deleting %d points from %s: %w", len(pointIDs), collection, err)
	}
	return nil
}

// decodePointID renders a Qdrant point ID, which may be a string UUID or an
// unsigned integer, as a string.
func decodePointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
