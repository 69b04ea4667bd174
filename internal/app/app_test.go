package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reppyfit/reppy/internal/agent"
	"github.com/reppyfit/reppy/internal/config"
	"github.com/reppyfit/reppy/internal/express"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/qdrant"
	"github.com/reppyfit/reppy/internal/router"
)

func newBareApp(t *testing.T) *App {
	t.Helper()
	logger := log.NewNop()
	qc, err := qdrant.New(qdrant.Config{URL: "http://localhost:6333"}, logger)
	require.NoError(t, err)
	ec, err := express.New(express.Config{BaseURL: "http://localhost:3000"}, logger)
	require.NoError(t, err)
	return &App{
		Logger:   logger,
		Qdrant:   qc,
		Express:  ec,
		Executor: agent.New(nil, agent.Config{}, logger),
	}
}

func TestHealthChecks(t *testing.T) {
	a := newBareApp(t)

	checks := a.HealthChecks()
	assert.Contains(t, checks, "qdrant")
	assert.Contains(t, checks, "express")
	assert.NotContains(t, checks, "postgres")
}

func TestBreakerState(t *testing.T) {
	a := newBareApp(t)
	assert.Equal(t, "closed", a.BreakerState())
}

func TestProvideRouter(t *testing.T) {
	logger := log.NewNop()
	executor := agent.New(nil, agent.Config{}, logger)
	prompts := prompt.NewLoader(t.TempDir())

	t.Run("pattern by default", func(t *testing.T) {
		cfg := &config.Config{}
		rt := provideRouter(cfg, executor, prompts, logger)
		_, ok := rt.(*router.PatternRouter)
		assert.True(t, ok)
	})

	t.Run("llm mode", func(t *testing.T) {
		cfg := &config.Config{Router: config.RouterConfig{Mode: "llm", CacheSize: 16}}
		rt := provideRouter(cfg, executor, prompts, logger)
		_, ok := rt.(*router.LLMRouter)
		assert.True(t, ok)
	})
}

func TestClose_ToleratesPartialSetup(t *testing.T) {
	a := &App{Logger: log.NewNop()}
	assert.NoError(t, a.Close())
}
