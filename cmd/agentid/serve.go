package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/internal/api"
	"github.com/agentid-dev/agentid-core/internal/app"
	"github.com/agentid-dev/agentid-core/internal/config"
)

const shutdownTimeout = 15 * time.Second

var serveFlags struct {
	addr          string
	db            string
	postgresDSN   string
	redisAddr     string
	trustDir      string
	sweepInterval time.Duration
	webhookURL    string
	logFormat     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the AgentID HTTP API",
	Long: `Run the AgentID HTTP API with the authorization sweeper and
revocation sync in the background.

Settings come from AGENTID_* environment variables; flags override them.`,
	Example: `  # In-memory server on :8080
  agentid serve

  # Persistent server
  agentid serve --db agentid.db --trust-dir ./trust --redis-addr localhost:6379`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.Logger()

		a, err := app.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		a.Start()

		srv := api.NewServer(api.Deps{
			Credentials: a.Repos.Credentials,
			Verifier:    a.Verifier,
			Lifecycle:   a.Lifecycle,
			A2A:         a.A2A,
			Reputation:  a.Reputation,
			Logger:      logger,
		})
		httpServer := &http.Server{
			Addr:              cfg.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("agentid listening", "addr", cfg.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stop)

		var serveErr error
		select {
		case serveErr = <-errCh:
		case sig := <-stop:
			logger.Info("shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		if err := a.Close(ctx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
		return serveErr
	},
}

// loadConfig reads the environment and applies any serve flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveFlags.addr
	}
	if flags.Changed("db") {
		cfg.DBPath = serveFlags.db
	}
	if flags.Changed("postgres-dsn") {
		cfg.PostgresDSN = serveFlags.postgresDSN
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr = serveFlags.redisAddr
	}
	if flags.Changed("trust-dir") {
		cfg.TrustDir = serveFlags.trustDir
	}
	if flags.Changed("sweep-interval") {
		cfg.SweepInterval = serveFlags.sweepInterval
	}
	if flags.Changed("webhook-url") {
		cfg.WebhookURL = serveFlags.webhookURL
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = serveFlags.logFormat
	}
	return cfg, cfg.Validate()
}

// addStoreFlags registers the storage flags shared by commands that open
// the server's stores.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&serveFlags.db, "db", "", "SQLite database path (overrides AGENTID_DB_PATH)")
	f.StringVar(&serveFlags.postgresDSN, "postgres-dsn", "", "Postgres DSN for credentials (overrides AGENTID_POSTGRES_DSN)")
	f.StringVar(&serveFlags.redisAddr, "redis-addr", "", "Redis address for rate limits (overrides AGENTID_REDIS_ADDR)")
	f.StringVar(&serveFlags.trustDir, "trust-dir", "", "Trust store directory (overrides AGENTID_TRUST_PATH)")
	f.StringVar(&serveFlags.logFormat, "log-format", "text", "Log format: text or json (overrides AGENTID_LOG_FORMAT)")
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addStoreFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", config.DefaultAddr, "Listen address (overrides AGENTID_ADDR)")
	serveCmd.Flags().DurationVar(&serveFlags.sweepInterval, "sweep-interval", config.DefaultSweepInterval, "Authorization expiry sweep interval")
	serveCmd.Flags().StringVar(&serveFlags.webhookURL, "webhook-url", "", "Webhook receiving lifecycle events (overrides AGENTID_WEBHOOK_URL)")
}
