// Package express is the HTTP client for the Express API, the relational
// service of record for users, routines, exercises and performance data.
//
// Requests that fail with a 5xx status or a transport error are retried with
// exponential backoff. 4xx responses are never retried; they indicate a
// request we would only repeat verbatim.
package express

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reppyfit/reppy/internal/coach"
	"github.com/reppyfit/reppy/internal/log"
)

const (
	defaultTimeout = 15 * time.Second
	userAgent      = "reppy/1.0"

	// Backoff bounds for retried requests.
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
)

// APIError is a non-2xx response from the Express API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("express API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request could succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// Config holds client settings.
type Config struct {
	// BaseURL is the Express API root, e.g. "http://localhost:3000".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout applies per attempt. Zero means defaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of attempts for retryable failures.
	// Zero means 3.
	MaxRetries int
}

// Client talks to the Express API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	logger     log.Logger
}

// New creates an Express API client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("express base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &Client{
		baseURL:    trimTrailingSlash(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		maxRetries: retries,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "express_client"),
	}, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Health pings the Express health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var status map[string]any
	return c.get(ctx, "/health", nil, &status)
}

// UserProfile fetches a user's profile.
func (c *Client) UserProfile(ctx context.Context, userID string) (map[string]any, error) {
	var profile map[string]any
	if err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/profile", nil, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// ActiveRoutines fetches the user's currently active workout routines.
func (c *Client) ActiveRoutines(ctx context.Context, userID string) ([]map[string]any, error) {
	var resp struct {
		Routines []map[string]any `json:"routines"`
	}
	if err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/routines/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Routines, nil
}

// ExerciseDetails fetches the full record for one exercise code.
func (c *Client) ExerciseDetails(ctx context.Context, exerciseCode string) (map[string]any, error) {
	var details map[string]any
	if err := c.get(ctx, "/api/exercises/"+url.PathEscape(exerciseCode), nil, &details); err != nil {
		return nil, err
	}
	return details, nil
}

// ExercisesByCodes fetches full records for a batch of exercise codes.
// Used to hydrate vector search hits with relational data.
func (c *Client) ExercisesByCodes(ctx context.Context, codes []string) ([]map[string]any, error) {
	var resp struct {
		Exercises []map[string]any `json:"exercises"`
	}
	payload := map[string]any{"exerciseCodes": codes}
	if err := c.post(ctx, "/api/exercises/bulk", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Exercises, nil
}

// ExerciseCatalog fetches the full exercise catalog, paging until the
// API returns an empty page. Used by the indexing command.
func (c *Client) ExerciseCatalog(ctx context.Context) ([]map[string]any, error) {
	const pageSize = 200

	var catalog []map[string]any
	for page := 1; ; page++ {
		var resp struct {
			Exercises []map[string]any `json:"exercises"`
		}
		params := url.Values{
			"page":  {strconv.Itoa(page)},
			"limit": {strconv.Itoa(pageSize)},
		}
		if err := c.get(ctx, "/api/exercises", params, &resp); err != nil {
			return nil, err
		}
		catalog = append(catalog, resp.Exercises...)
		if len(resp.Exercises) < pageSize {
			return catalog, nil
		}
	}
}

// PerformanceRecords fetches a user's recent records for an exercise.
func (c *Client) PerformanceRecords(ctx context.Context, userID, exerciseCode string, limit int) ([]map[string]any, error) {
	var resp struct {
		Records []map[string]any `json:"records"`
	}
	path := "/api/users/" + url.PathEscape(userID) + "/exercises/" + url.PathEscape(exerciseCode) + "/records"
	if err := c.get(ctx, path, url.Values{"limit": {strconv.Itoa(limit)}}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// OneRepMax asks the Express API for the user's estimated 1RM on an exercise.
func (c *Client) OneRepMax(ctx context.Context, userID, exerciseCode string) (map[string]any, error) {
	var result map[string]any
	path := "/api/users/" + url.PathEscape(userID) + "/exercises/" + url.PathEscape(exerciseCode) + "/one-rep-max"
	if err := c.post(ctx, path, map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RecallMemory searches the user's long-term memory.
func (c *Client) RecallMemory(ctx context.Context, userID, query string, limit int) ([]map[string]any, error) {
	var resp struct {
		Memories []map[string]any `json:"memories"`
	}
	payload := map[string]any{"query": query, "limit": limit}
	if err := c.post(ctx, "/api/users/"+url.PathEscape(userID)+"/memory/search", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Memories, nil
}

// SearchExercises finds exercises matching a semantic query.
func (c *Client) SearchExercises(ctx context.Context, query, userID string, limit int) ([]map[string]any, error) {
	var resp struct {
		Exercises []map[string]any `json:"exercises"`
	}
	payload := map[string]any{"query": query, "limit": limit}
	if userID != "" {
		payload["user_id"] = userID
	}
	if err := c.post(ctx, "/api/exercises/search", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Exercises, nil
}

// SaveRoutineBatch persists generated routines. The Express API speaks
// camelCase on this endpoint.
func (c *Client) SaveRoutineBatch(ctx context.Context, userID, programID string, routines []coach.Routine) (map[string]any, error) {
	var result map[string]any
	payload := map[string]any{
		"userId":    userID,
		"programId": programID,
		"routines":  routines,
	}
	if err := c.post(ctx, "/api/routines/batch", payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	fullPath := path
	if len(params) > 0 {
		fullPath += "?" + params.Encode()
	}
	return c.doWithRetry(ctx, http.MethodGet, fullPath, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.doWithRetry(ctx, http.MethodPost, path, body, result)
}

// doWithRetry runs the request up to maxRetries times with exponential
// backoff. Only transport errors and 5xx responses are retried.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, result any) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.do(ctx, method, path, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Warn("express request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
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
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
