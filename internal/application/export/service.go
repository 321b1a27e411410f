// Package export implements the client-facing job surface: submission,
// status projection, cancellation, and the DLQ admin operations. Execution
// itself is the worker package's job; this package only writes and reads
// coordination state.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/exportd/internal/domain"
)

// Repository is the slice of the coordination store this package needs.
type Repository interface {
	CreateJob(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error
	NextJobSequence(ctx context.Context) (int64, error)
	FindJobByKey(ctx context.Context, jobKey string) (*domain.ExportJob, error)
	JobCounts(ctx context.Context, jobID string) (*domain.JobCounts, error)
	JobDetail(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error)
	CancelJob(ctx context.Context, jobID string, now time.Time) error
	ListDLQUnits(ctx context.Context, limit int) ([]*domain.ExportUnit, error)
	ResetUnitForRedrive(ctx context.Context, unitID string) error
}

// SubmitItem is one requested export in a submission.
type SubmitItem struct {
	IndexKey      string
	EffectiveDate int // yyyymmdd
	AsOfIndicator string
}

// SubmitResult is the synchronous response to a submission.
type SubmitResult struct {
	JobKey string
	Status domain.JobStatus
}

// Service exposes the job lifecycle operations backed by the coordination
// store.
type Service struct {
	repo           Repository
	maxUnitsPerJob int
	clock          func() time.Time
}

// NewService creates the job service. clock may be nil for wall-clock UTC.
func NewService(repo Repository, maxUnitsPerJob int, clock func() time.Time) *Service {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, maxUnitsPerJob: maxUnitsPerJob, clock: clock}
}

// Submit validates the request, fans it out into unit rows, and creates the
// job atomically. Validation failures leave no state behind.
func (s *Service) Submit(ctx context.Context, items []SubmitItem) (*SubmitResult, error) {
	units, err := s.buildUnits(items)
	if err != nil {
		return nil, err
	}
	if len(units) > s.maxUnitsPerJob {
		return nil, fmt.Errorf("%w: %d units exceeds cap of %d", domain.ErrTooManyUnits, len(units), s.maxUnitsPerJob)
	}

	now := s.clock()
	seq, err := s.repo.NextJobSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job sequence: %w", err)
	}

	job := &domain.ExportJob{
		ID:          uuid.Must(uuid.NewV7()).String(),
		JobKey:      fmt.Sprintf("J%s_%d", now.Format("20060102"), seq),
		Status:      domain.JobSubmitted,
		TotalInputs: len(units),
		RequestedAt: now,
	}
	for _, u := range units {
		u.JobID = job.ID
	}

	if err := s.repo.CreateJob(ctx, job, units); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	slog.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"job_key", job.JobKey,
		"total_inputs", job.TotalInputs)

	return &SubmitResult{JobKey: job.JobKey, Status: job.Status}, nil
}

// buildUnits validates and deduplicates the submitted items into PENDING
// unit rows (job ID assigned by the caller).
func (s *Service) buildUnits(items []SubmitItem) ([]*domain.ExportUnit, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", domain.ErrInvalidRequest)
	}

	type naturalKey struct {
		key  string
		date int
		asof string
	}
	seen := make(map[naturalKey]bool, len(items))
	units := make([]*domain.ExportUnit, 0, len(items))

	for i, item := range items {
		key := strings.TrimSpace(item.IndexKey)
		if key == "" {
			return nil, fmt.Errorf("%w: items[%d]: indexKey must not be empty", domain.ErrInvalidRequest, i)
		}
		asof := strings.TrimSpace(item.AsOfIndicator)
		if asof == "" {
			return nil, fmt.Errorf("%w: items[%d]: asofindicator must not be empty", domain.ErrInvalidRequest, i)
		}

		effectiveDate, err := parseEffectiveDate(item.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d]: %v", domain.ErrInvalidRequest, i, err)
		}

		nk := naturalKey{key: key, date: item.EffectiveDate, asof: asof}
		if seen[nk] {
			continue
		}
		seen[nk] = true

		units = append(units, &domain.ExportUnit{
			ID:            uuid.Must(uuid.NewV7()).String(),
			IndexKey:      key,
			EffectiveDate: effectiveDate,
			AsOfIndicator: asof,
			Status:        domain.UnitPending,
		})
	}

	return units, nil
}

// parseEffectiveDate checks yyyymmdd for calendar validity, not just shape:
// 20260231 is rejected.
func parseEffectiveDate(yyyymmdd int) (time.Time, error) {
	s := strconv.Itoa(yyyymmdd)
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("effectiveDate %d is not yyyymmdd", yyyymmdd)
	}
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("effectiveDate %d is not a calendar date", yyyymmdd)
	}
	return t, nil
}

// UnitView is the per-unit slice of the status projection.
type UnitView struct {
	InputID       string
	IndexKey      string
	EffectiveDate time.Time
	AsOfIndicator string
	Status        domain.UnitStatus
	AttemptCount  int
	S3Path        *string
	IsReused      *bool
	ErrorMessage  *string
}

// JobStatusView is the aggregate status projection for one job.
type JobStatusView struct {
	JobKey       string
	Status       domain.JobStatus
	Reported     string // Status plus the IN_PROGRESS refinement
	Counts       domain.JobCounts
	RequestedAt  time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	Units        []UnitView // populated only for terminal jobs
}

// Status loads the projection for a job by its client-visible key. Per-unit
// detail (including artifact paths) is exposed only once the job is terminal.
func (s *Service) Status(ctx context.Context, jobKey string) (*JobStatusView, error) {
	job, err := s.repo.FindJobByKey(ctx, jobKey)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.JobCounts(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job counts: %w", err)
	}

	view := &JobStatusView{
		JobKey:       job.JobKey,
		Status:       job.Status,
		Reported:     reportedStatus(job.Status, counts),
		Counts:       *counts,
		RequestedAt:  job.RequestedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}

	if job.Status.Terminal() {
		_, units, err := s.repo.JobDetail(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load job detail: %w", err)
		}
		view.Units = make([]UnitView, 0, len(units))
		for _, u := range units {
			view.Units = append(view.Units, UnitView{
				InputID:       u.ID,
				IndexKey:      u.IndexKey,
				EffectiveDate: u.EffectiveDate,
				AsOfIndicator: u.AsOfIndicator,
				Status:        u.Status,
				AttemptCount:  u.AttemptCount,
				S3Path:        u.S3Path,
				IsReused:      u.IsReused,
				ErrorMessage:  u.ErrorMessage,
			})
		}
	}

	return view, nil
}

// reportedStatus refines open statuses: once any unit has left PENDING the
// job is reported as IN_PROGRESS even though the row still says SUBMITTED or
// RUNNING.
func reportedStatus(status domain.JobStatus, counts *domain.JobCounts) string {
	if status.Terminal() {
		return string(status)
	}
	if counts.Pending < counts.Total {
		return "IN_PROGRESS"
	}
	return string(status)
}

// Cancel marks a non-terminal job CANCELLED. In-flight units run to their
// next boundary and stop; nothing new is claimed.
func (s *Service) Cancel(ctx context.Context, jobKey string) error {
	job, err := s.repo.FindJobByKey(ctx, jobKey)
	if err != nil {
		return err
	}
	if err := s.repo.CancelJob(ctx, job.ID, s.clock()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "job cancelled", "job_id", job.ID, "job_key", job.JobKey)
	return nil
}

// ListDLQ returns dead-lettered units for operator review.
func (s *Service) ListDLQ(ctx context.Context, limit int) ([]UnitView, error) {
	units, err := s.repo.ListDLQUnits(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ units: %w", err)
	}
	views := make([]UnitView, 0, len(units))
	for _, u := range units {
		views = append(views, UnitView{
			InputID:       u.ID,
			IndexKey:      u.IndexKey,
			EffectiveDate: u.EffectiveDate,
			AsOfIndicator: u.AsOfIndicator,
			Status:        u.Status,
			AttemptCount:  u.AttemptCount,
			ErrorMessage:  u.ErrorMessage,
		})
	}
	return views, nil
}

// Redrive resets a DLQ unit to PENDING with a fresh attempt budget and
// reopens a FAILED parent so the poller can claim the unit again.
func (s *Service) Redrive(ctx context.Context, unitID string) error {
	if err := s.repo.ResetUnitForRedrive(ctx, unitID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "unit redriven", "unit_id", unitID)
	return nil
}
