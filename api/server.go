// Package api exposes the coaching service over HTTP.
//
// Endpoints:
//
//	GET  /api/v1/health   dependency health and model breaker state
//	GET  /api/v1/prompts  available prompt templates
//	POST /api/v1/route    classify the input and execute the selected prompt
//	POST /api/v1/run      execute a named prompt directly
//	GET  /metrics         Prometheus metrics
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery, request IDs, logging, metrics, CORS, rate limiting
//   - health.go: dependency health endpoint
//   - coach.go: route/run/prompts endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/router"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to block Slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because prompt execution can take most of
	// a minute when the model retries.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Config holds the server's transport settings.
type Config struct {
	Addr           string
	CORSOrigins    []string
	TrustProxy     bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// Dependencies are the wired components the server exposes.
type Dependencies struct {
	Router   router.Router
	Pipeline Pipeline
	Prompts  *prompt.Loader

	// Sessions is optional; nil runs the service stateless.
	Sessions SessionStore

	// Checks maps dependency names to health probes.
	Checks map[string]HealthCheck

	// BreakerState optionally reports the model circuit breaker state.
	BreakerState func() string

	Logger log.Logger
}

// Server is the coaching service's HTTP server.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger

	health *HealthHandler
	coach  *CoachHandler
}

// NewServer creates the server with all routes registered.
func NewServer(cfg Config, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		cfg:    cfg,
		logger: deps.Logger,
		health: NewHealthHandler(deps.Checks, deps.BreakerState, deps.Logger),
		coach:  NewCoachHandler(deps.Router, deps.Pipeline, deps.Prompts, deps.Sessions, deps.Logger),
	}

	mux.HandleFunc("GET /api/v1/health", s.health.handle)
	s.coach.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the mux with the middleware stack applied.
// Order: recovery → request ID → logging → metrics → CORS → rate limit.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
		metricsMiddleware,
		corsMiddleware(s.cfg.CORSOrigins),
		rateLimitMiddleware(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.cfg.TrustProxy, s.logger),
	)
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
