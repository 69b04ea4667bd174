package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reppy",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reppy",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})

	promptExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reppy",
		Subsystem: "coach",
		Name:      "prompt_executions_total",
		Help:      "Prompt executions by prompt key and outcome.",
	}, []string{"prompt_key", "outcome"})
)

// recordExecution counts one pipeline run for the /metrics endpoint.
func recordExecution(promptKey string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	promptExecutions.WithLabelValues(promptKey, outcome).Inc()
}
