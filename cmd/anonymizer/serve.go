package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/audit"
	"github.com/raaihank/llm-anonymizer/internal/config"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/metrics"
	"github.com/raaihank/llm-anonymizer/internal/server"
	"github.com/raaihank/llm-anonymizer/internal/session"
	"github.com/raaihank/llm-anonymizer/internal/websocket"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the anonymization HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	cfg, log, err := loadRuntime(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting llm-anonymizer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	source := newEntitySource(cfg, log)
	defer source.Close()
	engine, err := newEngine(cfg, source, m, log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	// Requests are served with pattern rules until the source is ready.
	go initializeSource(ctx, cfg, source, log)

	config.Watch(func(updated *config.Config) {
		applyReload(updated, engine, log)
	})

	repo, err := newSessionRepository(cfg, log)
	if err != nil {
		return err
	}
	sessions := session.NewManager(repo, m, log)
	defer sessions.Close()

	ledger, err := newLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastProgress:      cfg.WebSocket.Events.BroadcastProgress,
			BroadcastAnonymization: cfg.WebSocket.Events.BroadcastAnonymization,
			BroadcastSessions:      cfg.WebSocket.Events.BroadcastSessions,
			BroadcastConnections:   cfg.WebSocket.Events.BroadcastConnections,
			Username:               cfg.WebSocket.Username,
			Password:               cfg.WebSocket.Password,
		}, log)
	}

	srv, err := server.New(server.Deps{
		Config:   cfg,
		Logger:   log,
		Engine:   engine,
		Sessions: sessions,
		Ledger:   ledger,
		Hub:      hub,
		Gatherer: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			return err
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()

		if err := srv.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}
		log.Info("Server shutdown complete")
	}
	return nil
}

// applyReload applies the settings that can change without a restart: the
// log level and the enabled pattern rules.
func applyReload(updated *config.Config, engine *anonymizer.Engine, log *logger.Logger) {
	if updated.Logging.Level != log.Level() {
		if err := log.SetLevel(updated.Logging.Level); err != nil {
			log.Warn("Failed to apply log level", zap.Error(err))
		} else {
			log.Info("Log level changed", zap.String("level", updated.Logging.Level))
		}
	}

	if err := engine.Detector().Reconfigure(updated.Engine.Detectors); err != nil {
		log.Warn("Failed to apply detectors", zap.Error(err))
	}
}

func newSessionRepository(cfg *config.Config, log *logger.Logger) (session.Repository, error) {
	if cfg.Sessions.Store != "redis" {
		return session.NewMemoryRepository(), nil
	}
	repo, err := session.NewRedisRepository(&session.Config{
		RedisURL:       cfg.Sessions.RedisURL,
		MaxConnections: cfg.Sessions.MaxConnections,
		MinIdleConns:   cfg.Sessions.MinIdleConns,
		TTL:            cfg.Sessions.TTL,
		KeyPrefix:      cfg.Sessions.KeyPrefix,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	return repo, nil
}

// newLedger returns nil when auditing is disabled; the ledger's methods
// accept a nil receiver.
func newLedger(ctx context.Context, cfg *config.Config, log *logger.Logger) (*audit.Ledger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	ledger, err := audit.NewLedger(&audit.Config{
		DatabaseURL:     cfg.Audit.DatabaseURL,
		MaxOpenConns:    cfg.Audit.MaxOpenConns,
		MaxIdleConns:    cfg.Audit.MaxIdleConns,
		ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit ledger: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := ledger.EnsureSchema(schemaCtx); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to prepare audit schema: %w", err)
	}
	return ledger, nil
}

func newHealthCheckCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Check a running server and exit non-zero when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Health check passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/health", "Health endpoint to probe")
	return cmd
}
