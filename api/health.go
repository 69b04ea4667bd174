package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/reppyfit/reppy/internal/log"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	checks  map[string]HealthCheck
	breaker func() string
	logger  log.Logger
}

// NewHealthHandler creates a health handler. checks maps dependency names
// to probes; breaker optionally reports the model circuit breaker state.
func NewHealthHandler(checks map[string]HealthCheck, breaker func() string, logger log.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, breaker: breaker, logger: logger}
}

// HealthStatus is the health endpoint response body.
type HealthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	ModelBreaker string            `json:"model_breaker,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

// handle runs every dependency probe and reports aggregate status.
// Returns 200 when all dependencies pass, 503 when any fails.
func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status:       "ok",
		Dependencies: make(map[string]string, len(h.checks)),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	// Probe in a stable order so degraded logs read the same across runs.
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", "dependency", name, "error", err)
			status.Dependencies[name] = "unavailable: " + err.Error()
			status.Status = "degraded"
			continue
		}
		status.Dependencies[name] = "ok"
	}

	if h.breaker != nil {
		status.ModelBreaker = h.breaker()
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, code, status)
}
