package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/reppyfit/reppy/db"
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

// Setup initializes the application. On failure everything already
// acquired is released before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Qdrant, err = qdrant.New(qdrant.Config{
		URL:     cfg.Qdrant.URL,
		APIKey:  cfg.Qdrant.APIKey,
		Timeout: time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	a.Express, err = express.New(express.Config{
		BaseURL:    cfg.Express.BaseURL,
		APIKey:     cfg.Express.APIKey,
		Timeout:    time.Duration(cfg.Express.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Express.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating express client: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Prompts, a.watcher, err = providePrompts(appCtx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Executor = agent.New(g, agent.Config{
		ModelName:   cfg.FullModelName(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxTurns:    cfg.MaxTurns,
	}, logger)

	a.Router = provideRouter(cfg, a.Executor, a.Prompts, logger)

	a.Retriever, err = rag.NewRetriever(embedder, a.Qdrant, rag.Config{
		ExercisesCollection: cfg.Qdrant.Collection,
		TopK:                cfg.Qdrant.TopK,
		ScoreThreshold:      cfg.Qdrant.ScoreThreshold,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	a.Kit, err = tools.NewKit(a.Express, a.Retriever, logger)
	if err != nil {
		return nil, fmt.Errorf("creating tool kit: %w", err)
	}
	if err := a.Kit.Register(g); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	a.Pipeline, err = pipeline.New(a.Executor, a.Prompts,
		pipeline.ToolSourceFunc(func(names []string) []ai.ToolRef {
			return a.Kit.ForPrompt(g, names)
		}),
		pipeline.Config{MaxRegenerations: cfg.MaxRegenerations},
		logger)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	if cfg.SessionStore {
		pool, err := provideDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.DBPool = pool
		a.Sessions, err = session.NewStore(pool, logger)
		if err != nil {
			return nil, fmt.Errorf("creating session store: %w", err)
		}
	}

	return a, nil
}

// provideOtelShutdown exports traces over OTLP HTTP when observability is
// enabled. Must run before Genkit initialization so the span processor is
// registered on Genkit's TracerProvider.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	obs := cfg.Observability
	if !obs.Enabled {
		return func() {}
	}

	endpoint := obs.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	// Genkit's TracerProvider reads these at Init time. Setup runs once
	// before any goroutines, so the Setenv calls are safe here.
	if obs.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", obs.ServiceName)
	}
	if obs.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+obs.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating otlp exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("otlp tracing enabled",
		"endpoint", endpoint,
		"service", obs.ServiceName,
		"environment", obs.Environment)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured model provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit
	switch provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}
	logger.Info("initialized genkit", "provider", provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, coreapi.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// providePrompts creates the loader and, when enabled, the hot-reload
// watcher bound to the application context.
func providePrompts(ctx context.Context, cfg *config.Config, logger log.Logger) (*prompt.Loader, *prompt.Watcher, error) {
	dir := cfg.PromptDir
	if dir == "" {
		dir = "prompts"
	}
	loader := prompt.NewLoader(dir)

	if !cfg.WatchPrompt {
		return loader, nil, nil
	}
	watcher, err := prompt.NewWatcher(loader, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating prompt watcher: %w", err)
	}
	watcher.Start(ctx)
	return loader, watcher, nil
}

// provideRouter builds the configured routing strategy. The LLM router
// always carries the pattern router as its fallback.
func provideRouter(cfg *config.Config, executor *agent.Executor, prompts *prompt.Loader, logger log.Logger) router.Router {
	pattern := router.NewPatternRouter(router.DefaultPrompts, logger)
	if cfg.Router.Mode != "llm" {
		return pattern
	}
	llm, err := router.NewLLMRouter(executor, cfg.FullRouterModelName(), prompts, pattern, cfg.Router.CacheSize, logger)
	if err != nil {
		logger.Warn("creating llm router, falling back to pattern routing", "error", err)
		return pattern
	}
	return llm
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
