package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reppyfit/reppy/api"
	"github.com/reppyfit/reppy/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the coaching HTTP API. The server exposes /api/v1/route for
routed execution, /api/v1/run for direct prompt execution, /api/v1/health,
/api/v1/prompts and /metrics. Shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting reppy", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv := api.NewServer(api.Config{
		Addr:           cfg.ListenAddr(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, api.Dependencies{
		Router:       a.Router,
		Pipeline:     a.Pipeline,
		Prompts:      a.Prompts,
		Sessions:     sessionsOrNil(a),
		Checks:       healthChecks(a),
		BreakerState: a.BreakerState,
		Logger:       logger,
	})

	return srv.Run(ctx)
}

// sessionsOrNil avoids handing the server a typed nil interface when the
// session store is disabled.
func sessionsOrNil(a *app.App) api.SessionStore {
	if a.Sessions == nil {
		return nil
	}
	return a.Sessions
}

// healthChecks converts the app probes to the server's check type.
func healthChecks(a *app.App) map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	for name, probe := range a.HealthChecks() {
		checks[name] = probe
	}
	return checks
}
