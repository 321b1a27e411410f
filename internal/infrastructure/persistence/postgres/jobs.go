package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezkam/exportd/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// CreateJob inserts the job row and all of its PENDING unit rows in one
// transaction. A duplicate job key maps to domain.ErrJobKeyConflict.
func (s *Store) CreateJob(ctx context.Context, job *domain.ExportJob, units []*domain.ExportUnit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO export_jobs (id, job_key, status, total_inputs, requested_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.JobKey, job.Status, job.TotalInputs, job.RequestedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrJobKeyConflict, job.JobKey)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for _, u := range units {
		_, err = tx.Exec(ctx, `
			INSERT INTO export_units (id, job_id, index_key, effective_date, asof_indicator, status, attempt_count)
			VALUES ($1, $2, $3, $4, $5, $6, 0)`,
			u.ID, u.JobID, u.IndexKey, u.EffectiveDate, u.AsOfIndicator, u.Status)
		if err != nil {
			return fmt.Errorf("failed to insert unit %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}
	return nil
}

// NextJobSequence returns the next value of the job-key sequence.
func (s *Store) NextJobSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('export_job_key_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to advance job sequence: %w", err)
	}
	return seq, nil
}

const jobColumns = `id, job_key, status, total_inputs, requested_at, started_at, completed_at, error_message`

func scanJob(row pgx.Row) (*domain.ExportJob, error) {
	var j domain.ExportJob
	err := row.Scan(&j.ID, &j.JobKey, &j.Status, &j.TotalInputs, &j.RequestedAt, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// FindJob loads a job by ID.
func (s *Store) FindJob(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// FindJobByKey loads a job by its client-visible key.
func (s *Store) FindJobByKey(ctx context.Context, jobKey string) (*domain.ExportJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE job_key = $1`, jobKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job by key: %w", err)
	}
	return job, nil
}

// FailJob marks a job FAILED. A no-op when the job is already terminal, so
// concurrent fail-fast callers never fight.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'FAILED', completed_at = $3, error_message = $2
		WHERE id = $1 AND status IN ('SUBMITTED', 'RUNNING')`,
		jobID, errMsg, now)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// CancelJob marks a non-terminal job CANCELLED.
func (s *Store) CancelJob(ctx context.Context, jobID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'CANCELLED', completed_at = $2
		WHERE id = $1 AND status IN ('SUBMITTED', 'RUNNING')`,
		jobID, now)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from one already terminal.
		if _, err := s.FindJob(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", domain.ErrJobNotCancellable, jobID)
	}
	return nil
}

// TryCompleteJob performs the complete transition iff no unit of the job is
// in any state other than SUCCEEDED. The NOT EXISTS guard re-evaluates inside
// the update, so a unit reaching DLQ between check and commit silently
// no-ops the completion.
func (s *Store) TryCompleteJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_jobs j
		SET status = 'COMPLETED', completed_at = $2
		WHERE j.id = $1 AND j.status IN ('SUBMITTED', 'RUNNING')
		  AND NOT EXISTS (
			SELECT 1 FROM export_units u
			WHERE u.job_id = j.id AND u.status <> 'SUCCEEDED'
		  )`,
		jobID, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TryFailJobFromDLQ performs the fail transition iff at least one unit of
// the job is in DLQ.
func (s *Store) TryFailJobFromDLQ(ctx context.Context, jobID, errMsg string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_jobs j
		SET status = 'FAILED', completed_at = $3, error_message = $2
		WHERE j.id = $1 AND j.status IN ('SUBMITTED', 'RUNNING')
		  AND EXISTS (
			SELECT 1 FROM export_units u
			WHERE u.job_id = j.id AND u.status = 'DLQ'
		  )`,
		jobID, errMsg, now)
	if err != nil {
		return false, fmt.Errorf("failed to fail job from DLQ: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpenJobs returns non-terminal job IDs, oldest first.
func (s *Store) ListOpenJobs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM export_jobs
		WHERE status IN ('SUBMITTED', 'RUNNING')
		ORDER BY requested_at, id
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read open jobs: %w", err)
	}
	return ids, nil
}

// JobCounts computes the aggregate status projection in a single query.
func (s *Store) JobCounts(ctx context.Context, jobID string) (*domain.JobCounts, error) {
	var c domain.JobCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'RUNNING'),
			count(*) FILTER (WHERE status = 'RETRY_WAIT'),
			count(*) FILTER (WHERE status = 'SUCCEEDED'),
			count(*) FILTER (WHERE status = 'DLQ'),
			count(*) FILTER (WHERE status = 'SUCCEEDED' AND is_reused = false),
			count(*) FILTER (WHERE status = 'SUCCEEDED' AND is_reused = true)
		FROM export_units
		WHERE job_id = $1`,
		jobID).Scan(&c.Total, &c.Pending, &c.Running, &c.RetryWait, &c.Succeeded, &c.DLQ, &c.FilesGenerated, &c.FilesReused)
	if err != nil {
		return nil, fmt.Errorf("failed to count units: %w", err)
	}
	return &c, nil
}

// JobDetail returns the job and all of its units.
func (s *Store) JobDetail(ctx context.Context, jobID string) (*domain.ExportJob, []*domain.ExportUnit, error) {
	job, err := s.FindJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+unitColumns+` FROM export_units WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load units: %w", err)
	}
	defer rows.Close()

	var units []*domain.ExportUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read units: %w", err)
	}
	return job, units, nil
}
