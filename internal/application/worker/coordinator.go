package worker

import (
	"context"
	"time"

	"github.com/rezkam/exportd/internal/domain"
)

// Coordinator is the database-backed state machine shared by all workers:
// work queue, lease manager, retry scheduler, reuse index, and job-completion
// reconciler in one contract. All methods are safe for concurrent use by
// multiple worker processes; there is no in-process shared state.
//
// Guarded mutations (post-claim unit updates) are conditional single-row
// updates keyed by unit ID plus a lease_owner predicate. Zero affected rows
// is not a failure: implementations return domain.ErrLeaseLost and the
// caller stops mutating the unit.
type Coordinator interface {
	// === Submission ===

	// CreateJob inserts one job row and all of its unit rows (PENDING,
	// attempt 0) in a single transaction. Returns domain.ErrJobKeyConflict
	// if the job key is already taken.
	CreateJob(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error

	// NextJobSequence returns the next value of the monotonic job-key
	// sequence.
	NextJobSequence(ctx context.Context) (int64, error)

	// === Polling & lease ===

	// SelectEligible returns up to limit unit IDs whose parent job is
	// non-terminal and which are PENDING, RETRY_WAIT with a due retry time,
	// or RUNNING with an expired lease. Ordered oldest job first (fair FIFO
	// across jobs), then by unit ID.
	SelectEligible(ctx context.Context, limit int, now time.Time) ([]string, error)

	// TryClaim atomically transitions an eligible unit to RUNNING, sets the
	// lease to now+leaseDuration, increments the attempt count, and stamps
	// started_at on first claim. Returns true iff exactly one row was
	// affected; the WHERE predicate is the entire safety gate, no other lock
	// exists. A won claim also moves a SUBMITTED parent job to RUNNING.
	TryClaim(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error)

	// RenewLease extends the lease while workerID still owns the unit.
	// Returns domain.ErrLeaseLost otherwise.
	RenewLease(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) error

	// FindUnit loads a unit by ID. Returns domain.ErrUnitNotFound if absent.
	FindUnit(ctx context.Context, unitID string) (*domain.ExportUnit, error)

	// FindJob loads a job by ID. Returns domain.ErrJobNotFound if absent.
	FindJob(ctx context.Context, jobID string) (*domain.ExportJob, error)

	// === Terminal unit mutations (lease_owner guarded) ===

	// MarkSucceededGenerated finalizes a freshly generated unit: SUCCEEDED,
	// is_reused=false, lease cleared.
	MarkSucceededGenerated(ctx context.Context, unitID, workerID, s3Path string) error

	// MarkSucceededReused finalizes a unit satisfied from the reuse
	// registry: SUCCEEDED, is_reused=true, lease cleared.
	MarkSucceededReused(ctx context.Context, unitID, workerID, s3Path string) error

	// ScheduleRetry moves RUNNING to RETRY_WAIT with the given due time,
	// records the error, and clears the lease. The attempt count is not
	// touched; it was incremented on claim.
	ScheduleRetry(ctx context.Context, unitID, workerID string, nextRetryAt time.Time, errMsg string) error

	// MoveToDLQ moves RUNNING to DLQ, records the error, clears the lease.
	MoveToDLQ(ctx context.Context, unitID, workerID, errMsg string) error

	// === Artifact reuse registry ===

	// LookupArtifact returns the artifact for the natural key, or nil if
	// none is registered.
	LookupArtifact(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error)

	// UpsertArtifact registers an artifact by natural key, replacing the
	// path, source job, and generation time of any existing row. Idempotent
	// under identical inputs.
	UpsertArtifact(ctx context.Context, artifact *domain.Artifact) error

	// === Job transitions ===

	// FailJob marks a job FAILED with the given message. Idempotent; a
	// no-op if the job is already terminal.
	FailJob(ctx context.Context, jobID, errMsg string, now time.Time) error

	// CancelJob marks a non-terminal job CANCELLED. In-flight units finish
	// and then short-circuit; new claims are refused by the eligibility
	// predicate. Returns domain.ErrJobNotCancellable if already terminal.
	CancelJob(ctx context.Context, jobID string, now time.Time) error

	// TryCompleteJob completes the job iff every unit is SUCCEEDED and none
	// is DLQ, PENDING, RUNNING, or RETRY_WAIT. Safe to call concurrently and
	// repeatedly; reports whether this call performed the transition.
	TryCompleteJob(ctx context.Context, jobID string, now time.Time) (bool, error)

	// TryFailJobFromDLQ fails the job iff at least one unit is DLQ. Same
	// idempotence guarantees as TryCompleteJob.
	TryFailJobFromDLQ(ctx context.Context, jobID, errMsg string, now time.Time) (bool, error)

	// ListOpenJobs returns IDs of non-terminal jobs, oldest first.
	ListOpenJobs(ctx context.Context, limit int) ([]string, error)

	// === Projections & admin ===

	// FindJobByKey loads a job by its client-visible key.
	FindJobByKey(ctx context.Context, jobKey string) (*domain.ExportJob, error)

	// JobCounts returns the aggregate status projection in one query.
	JobCounts(ctx context.Context, jobID string) (*domain.JobCounts, error)

	// JobDetail returns the job and all of its units.
	JobDetail(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error)

	// ListDLQUnits returns DLQ units for manual review, oldest job first.
	ListDLQUnits(ctx context.Context, limit int) ([]*domain.ExportUnit, error)

	// ResetUnitForRedrive moves a DLQ unit back to PENDING with attempt
	// count 0 and no error, and reopens a FAILED parent job so the unit is
	// claimable again. Returns domain.ErrUnitNotRedrivable if the unit is
	// not in DLQ.
	ResetUnitForRedrive(ctx context.Context, unitID string) error

	// === Exclusive execution ===

	// TryAcquireExclusiveRun attempts to acquire a cluster-wide execution
	// lock for the given run type. Returns (release, true, nil) when
	// acquired, (nil, false, nil) when another process holds it. The lock
	// expires after leaseDuration for crash recovery.
	TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error)
}

// Rows is a streaming cursor over the export procedure's result set. Rows
// must never be materialized in full; the executor formats and uploads them
// one at a time.
type Rows interface {
	// Columns returns the column names, used as the CSV header.
	Columns() []string

	// Next advances to the next row, returning false when exhausted.
	Next() bool

	// Values returns the current row formatted as CSV field strings.
	Values() ([]string, error)

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases the cursor. Safe to call more than once.
	Close()
}

// RowSource invokes the non-paginated database export procedure for one
// unit. The core treats the procedure as an opaque streaming source.
type RowSource interface {
	ExportRows(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (Rows, error)
}
