package main

import (
	"context"
	"flag"
	"log/slog"
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
	logger := logging.New(cfg.Logging).With("component", "rollup.worker")
	if !cfg.Temporal.Enabled {
		logger.Warn("temporal.enabled is false; the worker still polls the task queue", "task_queue", cfg.Temporal.TaskQueue)
	}

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

	w := analytics.RegisterRollupWorker(temporalClient, cfg.Temporal.TaskQueue, store, logger)
	tree := supervisor.NewTree("pulsetrack-worker", logger.With("component", "supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddJobService(supervisor.NewWorkerService(w))

	logger.Info("rollup worker polling", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace)
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", "error", err)
		os.Exit(1)
	}
	tree.LogUnstopped(logger)
	logger.Info("rollup worker stopped")
}
