package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"example.com/pulsetrack/internal/analytics"
	"example.com/pulsetrack/internal/config"
	"example.com/pulsetrack/internal/logging"
	"example.com/pulsetrack/internal/sqlutil"
	"example.com/pulsetrack/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: $PULSETRACK_CONFIG or ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlutil.Open(cfg.Database)
	if err != nil {
		logger.Error("open analytics db failed", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dialect, err := analytics.DialectFor(cfg.Database.Driver)
	if err != nil {
		logger.Error("select sql dialect failed", "error", err)
		os.Exit(1)
	}
	store := analytics.NewStore(db, dialect)
	if err := store.Init(ctx); err != nil {
		logger.Error("init analytics schema failed", "error", err)
		os.Exit(1)
	}

	var orchestrator analytics.RollupOrchestrator
	if cfg.Temporal.Enabled {
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    temporallog.NewStructuredLogger(logger.With("component", "temporal.client")),
		})
		if err != nil {
			logger.Error("connect temporal failed", "host_port", cfg.Temporal.HostPort, "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		orchestrator = analytics.NewTemporalOrchestrator(temporalClient, cfg.Temporal.TaskQueue, logger)
	} else {
		orchestrator = analytics.NewLocalOrchestrator(store, logger)
	}

	serverLogger := logger.With("component", "analytics.http")
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler: analytics.NewServer(store, orchestrator, serverLogger, analytics.ServerOptions{
			CORSOrigins:       cfg.Security.CORSOrigins,
			RateLimitRequests: cfg.Security.RateLimitRequests,
			RateLimitWindow:   cfg.Security.RateLimitWindow,
			RateLimitDisabled: cfg.Security.RateLimitDisabled,
		}).Router(),
	}

	tree := supervisor.NewTree("pulsetrack-api", logger.With("component", "supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	if cfg.Temporal.RollupInterval > 0 {
		tree.AddJobService(supervisor.NewRollupScheduler(orchestrator, cfg.Temporal.RollupInterval, logger))
	}

	serverLogger.Info("analytics API listening",
		"addr", cfg.Server.Addr,
		"driver", dialect.Name,
		"temporal", cfg.Temporal.Enabled,
	)
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", "error", err)
		os.Exit(1)
	}
	tree.LogUnstopped(logger)
	logger.Info("analytics API stopped")
}
