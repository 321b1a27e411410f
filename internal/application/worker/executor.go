package worker

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rezkam/exportd/internal/domain"
	"github.com/rezkam/exportd/internal/storage"
)

// ExecutorConfig configures per-unit execution.
type ExecutorConfig struct {
	// WorkerID is this process's lease owner identity.
	WorkerID string

	// LeaseDuration is the claim lease length; the heartbeat renews at half
	// this interval.
	LeaseDuration time.Duration

	// BasePath is the object-store prefix for generated artifacts.
	BasePath string
}

// Executor processes one claimed unit end to end: job guard, reuse lookup,
// generation, upload, terminal transition, and the fast-path finalize. It
// holds the lease for the whole duration and stops mutating the moment the
// lease is lost.
type Executor struct {
	coordinator Coordinator
	source      RowSource
	store       storage.Store
	artifacts   *ArtifactIndex
	retry       *RetryPolicy
	finalizer   *Finalizer
	cfg         ExecutorConfig
	clock       Clock
}

// NewExecutor creates an executor.
func NewExecutor(
	coordinator Coordinator,
	source RowSource,
	store storage.Store,
	artifacts *ArtifactIndex,
	retry *RetryPolicy,
	finalizer *Finalizer,
	cfg ExecutorConfig,
	clock Clock,
) *Executor {
	if clock == nil {
		clock = UTCNow
	}
	return &Executor{
		coordinator: coordinator,
		source:      source,
		store:       store,
		artifacts:   artifacts,
		retry:       retry,
		finalizer:   finalizer,
		cfg:         cfg,
		clock:       clock,
	}
}

// Execute runs one claimed unit to a terminal or rescheduled state. The
// caller must already own the lease via TryClaim. A returned error is
// infrastructural (the unit itself was handled or will be reclaimed after
// lease expiry); unit-level failures are absorbed into RETRY_WAIT or DLQ.
func (e *Executor) Execute(ctx context.Context, unitID string) error {
	unit, err := e.coordinator.FindUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("failed to load unit %s: %w", unitID, err)
	}

	job, err := e.coordinator.FindJob(ctx, unit.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", unit.JobID, err)
	}

	// Terminal parent means a cancel or fail-fast won the race with this
	// claim. Leave the unit untouched; the lease expires on its own and the
	// eligibility predicate refuses units of terminal jobs.
	if job.Status.Terminal() {
		slog.InfoContext(ctx, "skipping unit of terminal job",
			"unit_id", unit.ID,
			"job_id", job.ID,
			"job_status", job.Status)
		return nil
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go e.runHeartbeat(heartbeatCtx, unit.ID)

	s3Path, reused, err := e.produce(ctx, unit)
	stopHeartbeat()
	if err != nil {
		return e.handleFailure(ctx, unit, err)
	}

	if reused {
		err = e.coordinator.MarkSucceededReused(ctx, unit.ID, e.cfg.WorkerID, s3Path)
	} else {
		err = e.coordinator.MarkSucceededGenerated(ctx, unit.ID, e.cfg.WorkerID, s3Path)
	}
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			e.logLeaseLost(ctx, unit.ID)
			return nil
		}
		return fmt.Errorf("failed to mark unit %s succeeded: %w", unit.ID, err)
	}

	slog.InfoContext(ctx, "unit succeeded",
		"unit_id", unit.ID,
		"job_id", unit.JobID,
		"index_key", unit.IndexKey,
		"reused", reused,
		"s3_path", s3Path)

	// Fast path: if this was the last unit the job completes now instead of
	// waiting for the periodic sweep. Best effort.
	if err := e.finalizer.TryFinalize(ctx, unit.JobID); err != nil {
		slog.WarnContext(ctx, "fast-path finalize failed, periodic sweep will retry",
			"job_id", unit.JobID,
			"error", err)
	}
	return nil
}

// produce resolves the unit's artifact: either a reusable registered path or
// a freshly generated and uploaded CSV.
func (e *Executor) produce(ctx context.Context, unit *domain.ExportUnit) (s3Path string, reused bool, err error) {
	decision, err := e.artifacts.Decide(ctx, unit.IndexKey, unit.EffectiveDate, unit.AsOfIndicator)
	if err != nil {
		return "", false, err
	}
	if decision.Reuse {
		return decision.S3Path, true, nil
	}

	path := domain.ArtifactPath(e.cfg.BasePath, unit.JobID, unit.IndexKey, unit.EffectiveDate, unit.AsOfIndicator)
	if err := e.generate(ctx, unit, path); err != nil {
		return "", false, err
	}

	// Register after upload so the index never points at an object that was
	// not durably written.
	artifact := &domain.Artifact{
		IndexKey:      unit.IndexKey,
		EffectiveDate: unit.EffectiveDate,
		AsOfIndicator: unit.AsOfIndicator,
		S3Path:        path,
		SourceJobID:   unit.JobID,
		GeneratedAt:   e.clock(),
	}
	if err := e.coordinator.UpsertArtifact(ctx, artifact); err != nil {
		return "", false, Transient(fmt.Errorf("failed to register artifact: %w", err))
	}

	return path, false, nil
}

// generate streams the export procedure's rows into a CSV object. Rows are
// never materialized; each row goes from the database cursor straight into
// the upload stream.
func (e *Executor) generate(ctx context.Context, unit *domain.ExportUnit, path string) (err error) {
	rows, err := e.source.ExportRows(ctx, unit.IndexKey, unit.EffectiveDate, unit.AsOfIndicator)
	if err != nil {
		return fmt.Errorf("export procedure failed: %w", err)
	}
	defer rows.Close()

	// The writer gets its own cancelable context: on failure the upload is
	// aborted instead of committed, so a partial CSV never becomes visible.
	wctx, abort := context.WithCancel(ctx)
	defer abort()

	w := e.store.NewWriter(wctx, path)
	defer func() {
		if err != nil {
			abort()
			_ = w.Close()
		}
	}()

	cw := csv.NewWriter(w)
	if err := cw.Write(rows.Columns()); err != nil {
		return Transient(fmt.Errorf("failed to write CSV header: %w", err))
	}

	var count int64
	for rows.Next() {
		record, err := rows.Values()
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", count, err)
		}
		if err := cw.Write(record); err != nil {
			return Transient(fmt.Errorf("failed to write row %d: %w", count, err))
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row stream failed after %d rows: %w", count, err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Transient(fmt.Errorf("failed to flush CSV: %w", err))
	}
	if err := w.Close(); err != nil {
		return Transient(fmt.Errorf("failed to finalize object %s: %w", path, err))
	}

	slog.DebugContext(ctx, "artifact generated",
		"unit_id", unit.ID,
		"s3_path", path,
		"rows", count)
	return nil
}

// handleFailure resolves a failed attempt into RETRY_WAIT or DLQ. A DLQ
// transition fails the parent job immediately: partial job output is never
// reported as success.
func (e *Executor) handleFailure(ctx context.Context, unit *domain.ExportUnit, unitErr error) error {
	class := e.retry.Classify(unitErr)
	now := e.clock()
	decision := e.retry.Decide(class, unit.AttemptCount, now)

	if decision.Retry {
		slog.WarnContext(ctx, "unit failed, scheduling retry",
			"unit_id", unit.ID,
			"job_id", unit.JobID,
			"attempt", unit.AttemptCount,
			"next_retry_at", decision.NextRetryAt,
			"error", unitErr)

		err := e.coordinator.ScheduleRetry(ctx, unit.ID, e.cfg.WorkerID, decision.NextRetryAt, unitErr.Error())
		if errors.Is(err, domain.ErrLeaseLost) {
			e.logLeaseLost(ctx, unit.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to schedule retry for unit %s: %w", unit.ID, err)
		}
		return nil
	}

	slog.ErrorContext(ctx, "unit moved to DLQ",
		"unit_id", unit.ID,
		"job_id", unit.JobID,
		"attempt", unit.AttemptCount,
		"permanent", class == Permanent,
		"error", unitErr)

	err := e.coordinator.MoveToDLQ(ctx, unit.ID, e.cfg.WorkerID, unitErr.Error())
	if errors.Is(err, domain.ErrLeaseLost) {
		e.logLeaseLost(ctx, unit.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to move unit %s to DLQ: %w", unit.ID, err)
	}

	if err := e.coordinator.FailJob(ctx, unit.JobID, DLQFailureMessage, now); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", unit.JobID, err)
	}
	return nil
}

// runHeartbeat renews the lease at half its duration until cancelled. A lost
// lease only stops the heartbeat; the executor's own guarded mutations are
// the actual safety gate.
func (e *Executor) runHeartbeat(ctx context.Context, unitID string) {
	ticker := time.NewTicker(e.cfg.LeaseDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.coordinator.RenewLease(ctx, unitID, e.cfg.WorkerID, e.cfg.LeaseDuration, e.clock())
			if errors.Is(err, domain.ErrLeaseLost) {
				e.logLeaseLost(ctx, unitID)
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.WarnContext(ctx, "heartbeat renewal failed",
					"unit_id", unitID,
					"error", err)
			}
		}
	}
}

func (e *Executor) logLeaseLost(ctx context.Context, unitID string) {
	slog.WarnContext(ctx, "lease lost, abandoning unit without further mutation",
		"unit_id", unitID,
		"worker_id", e.cfg.WorkerID)
}
