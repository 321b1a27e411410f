// The worker process polls for eligible export units, executes them, and
// reconciles job completion. Any number of workers may run against the same
// database; all coordination happens through conditional row updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rezkam/exportd/internal/application/worker"
	"github.com/rezkam/exportd/internal/config"
	"github.com/rezkam/exportd/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/exportd/internal/storage"
	"github.com/rezkam/exportd/internal/storage/fs"
	"github.com/rezkam/exportd/internal/storage/gcs"
	"github.com/rezkam/exportd/pkg/observability"
)

const serviceVersion = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := observability.Init(ctx, "exportd-worker", serviceVersion, cfg.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown telemetry", "error", err)
		}
	}()
	slog.SetDefault(providers.Logger)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	store, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxOpenConns,
		MinConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	objectStore, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	workerID := worker.NewWorkerID()
	slog.InfoContext(ctx, "starting export worker",
		"worker_id", workerID,
		"storage", cfg.Storage.Type,
		"reuse_enabled", cfg.ReuseEnabled)

	retry := worker.NewRetryPolicy(worker.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})

	finalizerCfg := worker.DefaultFinalizerConfig(workerID)
	finalizerCfg.Interval = cfg.FinalizerInterval
	finalizer := worker.NewFinalizer(store, finalizerCfg, nil)

	artifacts := worker.NewArtifactIndex(store, worker.ReuseConfig{
		Enabled:  cfg.ReuseEnabled,
		Days:     cfg.ReuseDays,
		Location: location,
	}, nil)

	executor := worker.NewExecutor(
		store,
		postgres.NewExportProcedure(store.Pool()),
		objectStore,
		artifacts,
		retry,
		finalizer,
		worker.ExecutorConfig{
			WorkerID:      workerID,
			LeaseDuration: cfg.LeaseDuration,
			BasePath:      cfg.Storage.BasePath,
		},
		nil,
	)

	poller := worker.NewPoller(store, executor, worker.PollerConfig{
		WorkerID:      workerID,
		BatchSize:     cfg.PollBatchSize,
		PollInterval:  cfg.PollInterval,
		MaxInFlight:   cfg.MaxInFlight,
		LeaseDuration: cfg.LeaseDuration,
	}, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return finalizer.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("worker shut down gracefully")
	return nil
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "gcs":
		return gcs.NewStore(ctx, cfg.Bucket)
	default:
		return fs.NewStore(cfg.FSDir)
	}
}
