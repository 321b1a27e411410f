package worker

import (
	"context"
	"time"

	"github.com/rezkam/exportd/internal/domain"
)

// mockCoordinator implements Coordinator for testing
type mockCoordinator struct {
	createJobFunc       func(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error
	nextJobSequenceFunc func(ctx context.Context) (int64, error)

	selectEligibleFunc func(ctx context.Context, limit int, now time.Time) ([]string, error)
	tryClaimFunc       func(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error)
	renewLeaseFunc     func(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) error
	findUnitFunc       func(ctx context.Context, unitID string) (*domain.ExportUnit, error)
	findJobFunc        func(ctx context.Context, jobID string) (*domain.ExportJob, error)

	markSucceededGeneratedFunc func(ctx context.Context, unitID, workerID, s3Path string) error
	markSucceededReusedFunc    func(ctx context.Context, unitID, workerID, s3Path string) error
	scheduleRetryFunc          func(ctx context.Context, unitID, workerID string, nextRetryAt time.Time, errMsg string) error
	moveToDLQFunc              func(ctx context.Context, unitID, workerID, errMsg string) error

	lookupArtifactFunc func(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error)
	upsertArtifactFunc func(ctx context.Context, artifact *domain.Artifact) error

	failJobFunc           func(ctx context.Context, jobID, errMsg string, now time.Time) error
	cancelJobFunc         func(ctx context.Context, jobID string, now time.Time) error
	tryCompleteJobFunc    func(ctx context.Context, jobID string, now time.Time) (bool, error)
	tryFailJobFromDLQFunc func(ctx context.Context, jobID, errMsg string, now time.Time) (bool, error)
	listOpenJobsFunc      func(ctx context.Context, limit int) ([]string, error)

	findJobByKeyFunc        func(ctx context.Context, jobKey string) (*domain.ExportJob, error)
	jobCountsFunc           func(ctx context.Context, jobID string) (*domain.JobCounts, error)
	jobDetailFunc           func(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error)
	listDLQUnitsFunc        func(ctx context.Context, limit int) ([]*domain.ExportUnit, error)
	resetUnitForRedriveFunc func(ctx context.Context, unitID string) error

	tryAcquireExclusiveRunFunc func(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (func(), bool, error)
}

func (m *mockCoordinator) CreateJob(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error {
	if m.createJobFunc != nil {
		return m.createJobFunc(ctx, job, units)
	}
	return nil
}

func (m *mockCoordinator) NextJobSequence(ctx context.Context) (int64, error) {
	if m.nextJobSequenceFunc != nil {
		return m.nextJobSequenceFunc(ctx)
	}
	return 1, nil
}

func (m *mockCoordinator) SelectEligible(ctx context.Context, limit int, now time.Time) ([]string, error) {
	if m.selectEligibleFunc != nil {
		return m.selectEligibleFunc(ctx, limit, now)
	}
	return nil, nil
}

func (m *mockCoordinator) TryClaim(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error) {
	if m.tryClaimFunc != nil {
		return m.tryClaimFunc(ctx, unitID, workerID, leaseDuration, now)
	}
	return true, nil
}

func (m *mockCoordinator) RenewLease(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) error {
	if m.renewLeaseFunc != nil {
		return m.renewLeaseFunc(ctx, unitID, workerID, leaseDuration, now)
	}
	return nil
}

func (m *mockCoordinator) FindUnit(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
	if m.findUnitFunc != nil {
		return m.findUnitFunc(ctx, unitID)
	}
	return nil, domain.ErrUnitNotFound
}

func (m *mockCoordinator) FindJob(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	if m.findJobFunc != nil {
		return m.findJobFunc(ctx, jobID)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockCoordinator) MarkSucceededGenerated(ctx context.Context, unitID, workerID, s3Path string) error {
	if m.markSucceededGeneratedFunc != nil {
		return m.markSucceededGeneratedFunc(ctx, unitID, workerID, s3Path)
	}
	return nil
}

func (m *mockCoordinator) MarkSucceededReused(ctx context.Context, unitID, workerID, s3Path string) error {
	if m.markSucceededReusedFunc != nil {
		return m.markSucceededReusedFunc(ctx, unitID, workerID, s3Path)
	}
	return nil
}

func (m *mockCoordinator) ScheduleRetry(ctx context.Context, unitID, workerID string, nextRetryAt time.Time, errMsg string) error {
	if m.scheduleRetryFunc != nil {
		return m.scheduleRetryFunc(ctx, unitID, workerID, nextRetryAt, errMsg)
	}
	return nil
}

func (m *mockCoordinator) MoveToDLQ(ctx context.Context, unitID, workerID, errMsg string) error {
	if m.moveToDLQFunc != nil {
		return m.moveToDLQFunc(ctx, unitID, workerID, errMsg)
	}
	return nil
}

func (m *mockCoordinator) LookupArtifact(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error) {
	if m.lookupArtifactFunc != nil {
		return m.lookupArtifactFunc(ctx, indexKey, effectiveDate, asofIndicator)
	}
	return nil, nil
}

func (m *mockCoordinator) UpsertArtifact(ctx context.Context, artifact *domain.Artifact) error {
	if m.upsertArtifactFunc != nil {
		return m.upsertArtifactFunc(ctx, artifact)
	}
	return nil
}

func (m *mockCoordinator) FailJob(ctx context.Context, jobID, errMsg string, now time.Time) error {
	if m.failJobFunc != nil {
		return m.failJobFunc(ctx, jobID, errMsg, now)
	}
	return nil
}

func (m *mockCoordinator) CancelJob(ctx context.Context, jobID string, now time.Time) error {
	if m.cancelJobFunc != nil {
		return m.cancelJobFunc(ctx, jobID, now)
	}
	return nil
}

func (m *mockCoordinator) TryCompleteJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	if m.tryCompleteJobFunc != nil {
		return m.tryCompleteJobFunc(ctx, jobID, now)
	}
	return false, nil
}

func (m *mockCoordinator) TryFailJobFromDLQ(ctx context.Context, jobID, errMsg string, now time.Time) (bool, error) {
	if m.tryFailJobFromDLQFunc != nil {
		return m.tryFailJobFromDLQFunc(ctx, jobID, errMsg, now)
	}
	return false, nil
}

func (m *mockCoordinator) ListOpenJobs(ctx context.Context, limit int) ([]string, error) {
	if m.listOpenJobsFunc != nil {
		return m.listOpenJobsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockCoordinator) FindJobByKey(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
	if m.findJobByKeyFunc != nil {
		return m.findJobByKeyFunc(ctx, jobKey)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockCoordinator) JobCounts(ctx context.Context, jobID string) (*domain.JobCounts, error) {
	if m.jobCountsFunc != nil {
		return m.jobCountsFunc(ctx, jobID)
	}
	return &domain.JobCounts{}, nil
}

func (m *mockCoordinator) JobDetail(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error) {
	if m.jobDetailFunc != nil {
		return m.jobDetailFunc(ctx, jobID)
	}
	return nil, nil, domain.ErrJobNotFound
}

func (m *mockCoordinator) ListDLQUnits(ctx context.Context, limit int) ([]*domain.ExportUnit, error) {
	if m.listDLQUnitsFunc != nil {
		return m.listDLQUnitsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockCoordinator) ResetUnitForRedrive(ctx context.Context, unitID string) error {
	if m.resetUnitForRedriveFunc != nil {
		return m.resetUnitForRedriveFunc(ctx, unitID)
	}
	return nil
}

func (m *mockCoordinator) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (func(), bool, error) {
	if m.tryAcquireExclusiveRunFunc != nil {
		return m.tryAcquireExclusiveRunFunc(ctx, runType, holderID, leaseDuration)
	}
	return func() {}, true, nil
}

// sliceRows is an in-memory Rows over fixed records.
type sliceRows struct {
	columns []string
	records [][]string
	idx     int
	err     error
}

func (r *sliceRows) Columns() []string { return r.columns }

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.idx++
	return true
}

func (r *sliceRows) Values() ([]string, error) { return r.records[r.idx-1], nil }
func (r *sliceRows) Err() error                { return r.err }
func (r *sliceRows) Close()                    {}

// mockRowSource implements RowSource for testing
type mockRowSource struct {
	exportRowsFunc func(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (Rows, error)
}

func (m *mockRowSource) ExportRows(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (Rows, error) {
	if m.exportRowsFunc != nil {
		return m.exportRowsFunc(ctx, indexKey, effectiveDate, asofIndicator)
	}
	return &sliceRows{columns: []string{"id"}}, nil
}

// fixedClock returns a Clock pinned to t.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
