// Package agent wraps Genkit model execution with the resilience
// machinery every caller needs: proactive rate limiting, retry with
// exponential backoff for transient provider errors, and a circuit
// breaker that sheds load when the provider is down.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/reppyfit/reppy/internal/log"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Config configures an Executor. Zero values fall back to defaults.
type Config struct {
	ModelName   string  // Fully qualified model name, e.g. "googleai/gemini-2.5-flash"
	Temperature float32 // Sampling temperature passed to the provider
	MaxTokens   int     // Output token cap; 0 leaves the provider default
	MaxTurns    int     // Tool-calling round trips per request (default: 5)

	Retry   RetryConfig
	Breaker CircuitBreakerConfig

	// RateLimiter throttles attempts across all callers.
	// Nil installs a default of 10 req/s with burst 30.
	RateLimiter *rate.Limiter
}

// Request describes a single generation call.
type Request struct {
	System   string        // System instruction; empty omits it
	Messages []*ai.Message // Conversation turns, oldest first
	Tools    []ai.ToolRef  // Tools the model may call

	// ModelName and MaxTurns override the Executor's defaults when set.
	ModelName string
	MaxTurns  int
}

// Result is the outcome of a generation call.
type Result struct {
	Text string
	// ToolRequests holds tool calls left pending in the final turn.
	// Calls resolved in earlier turns are tracked by the tool layer.
	ToolRequests []*ai.ToolRequest
}

// Executor runs model generations through Genkit.
type Executor struct {
	g       *genkit.Genkit
	cfg     Config
	breaker *CircuitBreaker
	limiter *rate.Limiter
	logger  log.Logger
}

// New creates an Executor bound to an initialized Genkit instance.
func New(g *genkit.Genkit, cfg Config, logger log.Logger) *Executor {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	return &Executor{
		g:       g,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.Breaker),
		limiter: limiter,
		logger:  logger,
	}
}

// Generate runs a single generation with retry and circuit breaking.
func (e *Executor) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := e.breaker.Allow(); err != nil {
		e.logger.Warn("circuit breaker is open, rejecting request",
			"state", e.breaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := e.generateWithRetry(ctx, e.buildOptions(req))
	if err != nil {
		e.breaker.Failure()
		return nil, err
	}
	e.breaker.Success()

	return &Result{
		Text:         resp.Text(),
		ToolRequests: resp.ToolRequests(),
	}, nil
}

// GenerateText is a convenience wrapper for tool-free, single-turn calls.
// A non-empty modelName overrides the configured executor model, which
// lets the router classify intents on a lighter model. It satisfies the
// router's TextGenerator contract.
func (e *Executor) GenerateText(ctx context.Context, modelName, system, user string) (string, error) {
	res, err := e.Generate(ctx, Request{
		ModelName: modelName,
		System:    system,
		Messages:  []*ai.Message{ai.NewUserMessage(ai.NewTextPart(user))},
		MaxTurns:  1,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// BreakerState exposes the circuit state for health reporting.
func (e *Executor) BreakerState() CircuitState {
	return e.breaker.State()
}

func (e *Executor) buildOptions(req Request) []ai.GenerateOption {
	modelName := req.ModelName
	if modelName == "" {
		modelName = e.cfg.ModelName
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.cfg.MaxTurns
	}

	modelCfg := map[string]any{"temperature": e.cfg.Temperature}
	if e.cfg.MaxTokens > 0 {
		modelCfg["maxOutputTokens"] = e.cfg.MaxTokens
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(modelName),
		ai.WithMessages(req.Messages...),
		ai.WithConfig(modelCfg),
		ai.WithMaxTurns(maxTurns),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, ai.WithTools(req.Tools...))
	}
	return opts
}

// generateWithRetry executes the call with exponential backoff.
// Each attempt, including the first, waits on the rate limiter so a
// retry storm cannot exceed the provider quota.
func (e *Executor) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := e.cfg.Retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= e.cfg.Retry.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := genkit.Generate(ctx, e.g, opts...)
		if err == nil {
			e.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == e.cfg.Retry.MaxRetries {
			break
		}

		e.logger.Debug("retrying after error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, e.cfg.Retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		e.cfg.Retry.MaxRetries, time.Since(start), lastErr)
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// String matching is used because Genkit and the provider SDKs do not
// expose typed errors for transient failures. Re-evaluate if Genkit
// adds structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
