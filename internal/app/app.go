// Package app wires the coaching service together: Genkit and its model
// plugin, the vector and relational clients, prompt loading, routing, the
// tool kit and the execution pipeline.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reppyfit/reppy/internal/agent"
	"github.com/reppyfit/reppy/internal/config"
	"github.com/reppyfit/reppy/internal/express"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/pipeline"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/qdrant"
	"github.com/reppyfit/reppy/internal/rag"
	"github.com/reppyfit/reppy/internal/router"
	"github.com/reppyfit/reppy/internal/session"
	"github.com/reppyfit/reppy/internal/tools"
)

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Qdrant  *qdrant.Client
	Express *express.Client

	Prompts   *prompt.Loader
	Router    router.Router
	Executor  *agent.Executor
	Kit       *tools.Kit
	Retriever *rag.Retriever
	Pipeline  *pipeline.Pipeline

	// DBPool and Sessions are nil when the session store is disabled.
	DBPool   *pgxpool.Pool
	Sessions *session.Store

	watcher     *prompt.Watcher
	otelCleanup func()
	cancel      context.CancelFunc
}

// Close releases everything Setup acquired, in reverse order.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.Logger.Warn("close prompt watcher", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// HealthChecks returns the dependency probes the health endpoint runs.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"qdrant": func(ctx context.Context) error {
			_, err := a.Qdrant.Health(ctx)
			return err
		},
		"express": a.Express.Health,
	}
	if a.DBPool != nil {
		checks["postgres"] = a.DBPool.Ping
	}
	return checks
}

// BreakerState reports the model circuit breaker state for health output.
func (a *App) BreakerState() string {
	return a.Executor.BreakerState().String()
}
