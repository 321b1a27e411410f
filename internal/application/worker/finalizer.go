package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// DLQFailureMessage is recorded on a job when fail-fast fires.
const DLQFailureMessage = "One or more inputs moved to DLQ"

// FinalizerRunType keys the exclusive-run lease for the periodic finalizer.
const FinalizerRunType = "job-finalizer"

// FinalizerConfig configures the periodic job finalizer.
type FinalizerConfig struct {
	// WorkerID identifies this process for the exclusive-run lease.
	WorkerID string

	// Interval between reconciliation cycles (default: 30s).
	Interval time.Duration

	// MaxStartupJitter is the maximum random delay before the first cycle
	// (default: 10s). Prevents thundering herd when workers deploy together.
	MaxStartupJitter time.Duration

	// BatchSize limits open jobs examined per cycle (default: 100).
	BatchSize int

	// LeaseDuration is how long the exclusive run lease is valid
	// (default: 2m). Must exceed the expected cycle runtime.
	LeaseDuration time.Duration
}

// DefaultFinalizerConfig returns sensible defaults.
func DefaultFinalizerConfig(workerID string) FinalizerConfig {
	return FinalizerConfig{
		WorkerID:         workerID,
		Interval:         30 * time.Second,
		MaxStartupJitter: 10 * time.Second,
		BatchSize:        100,
		LeaseDuration:    2 * time.Minute,
	}
}

// Finalizer drives jobs to their terminal state. Executors call TryFinalize
// opportunistically after each terminal unit transition (the fast path); the
// periodic Run loop guarantees eventual correctness when a fast path is
// missed, e.g. a worker crash between the unit mutation and the completion
// attempt.
type Finalizer struct {
	coordinator Coordinator
	cfg         FinalizerConfig
	clock       Clock
}

// NewFinalizer creates a finalizer.
func NewFinalizer(coordinator Coordinator, cfg FinalizerConfig, clock Clock) *Finalizer {
	if clock == nil {
		clock = UTCNow
	}
	return &Finalizer{coordinator: coordinator, cfg: cfg, clock: clock}
}

// TryFinalize attempts both terminal transitions for one job. The fail
// predicate runs first so a DLQ unit can never be masked by a concurrent
// late completion; both updates are conditional and idempotent, so
// concurrent callers are harmless.
func (f *Finalizer) TryFinalize(ctx context.Context, jobID string) error {
	now := f.clock()

	failed, err := f.coordinator.TryFailJobFromDLQ(ctx, jobID, DLQFailureMessage, now)
	if err != nil {
		return fmt.Errorf("failed to evaluate fail predicate: %w", err)
	}
	if failed {
		slog.InfoContext(ctx, "job failed from DLQ", "job_id", jobID)
		return nil
	}

	completed, err := f.coordinator.TryCompleteJob(ctx, jobID, now)
	if err != nil {
		return fmt.Errorf("failed to evaluate complete predicate: %w", err)
	}
	if completed {
		slog.InfoContext(ctx, "job completed", "job_id", jobID)
	}
	return nil
}

// Run starts the periodic reconciliation loop with jittered startup.
func (f *Finalizer) Run(ctx context.Context) error {
	if f.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(f.cfg.MaxStartupJitter)
		slog.InfoContext(ctx, "finalizer starting",
			"startup_jitter", jitter,
			"interval", f.cfg.Interval)

		timer := time.NewTimer(jitter)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := f.runOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "initial finalizer cycle failed", "error", err)
	}

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "finalizer stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := f.runOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "finalizer cycle failed", "error", err)
			}
		}
	}
}

// runOnce reconciles one batch of open jobs under the exclusive-run lease;
// fast paths already cover the common case, so a single instance per cluster
// is enough and avoids redundant aggregate scans.
func (f *Finalizer) runOnce(ctx context.Context) error {
	release, acquired, err := f.coordinator.TryAcquireExclusiveRun(
		ctx,
		FinalizerRunType,
		f.cfg.WorkerID,
		f.cfg.LeaseDuration,
	)
	if err != nil {
		return fmt.Errorf("failed to acquire finalizer lease: %w", err)
	}
	if !acquired {
		slog.DebugContext(ctx, "finalizer cycle skipped, another instance holds the lease")
		return nil
	}
	defer release()

	jobIDs, err := f.coordinator.ListOpenJobs(ctx, f.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list open jobs: %w", err)
	}

	for _, jobID := range jobIDs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := f.TryFinalize(ctx, jobID); err != nil {
			slog.ErrorContext(ctx, "failed to finalize job",
				"job_id", jobID,
				"error", err)
		}
	}

	return nil
}
