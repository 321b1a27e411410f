package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/exportd/internal/domain"
)

const unitColumns = `id, job_id, index_key, effective_date, asof_indicator, status, attempt_count,
	next_retry_at, lease_owner, lease_until, started_at, s3_path, is_reused, error_message`

// Same list qualified for joins against export_jobs.
const unitColumnsQualified = `u.id, u.job_id, u.index_key, u.effective_date, u.asof_indicator, u.status, u.attempt_count,
	u.next_retry_at, u.lease_owner, u.lease_until, u.started_at, u.s3_path, u.is_reused, u.error_message`

func scanUnit(row pgx.Row) (*domain.ExportUnit, error) {
	var u domain.ExportUnit
	err := row.Scan(&u.ID, &u.JobID, &u.IndexKey, &u.EffectiveDate, &u.AsOfIndicator, &u.Status, &u.AttemptCount,
		&u.NextRetryAt, &u.LeaseOwner, &u.LeaseUntil, &u.StartedAt, &u.S3Path, &u.IsReused, &u.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// eligibilityPredicate matches units a worker may claim: PENDING, RETRY_WAIT
// past its due time, or RUNNING with an expired lease. A lease expiring at
// exactly now counts as expired. Shared verbatim between the scan and the
// claim so a candidate cannot be claimed under a weaker condition than it
// was selected under.
const eligibilityPredicate = `
	(u.status = 'PENDING'
	 OR (u.status = 'RETRY_WAIT' AND u.next_retry_at <= $%[1]d)
	 OR (u.status = 'RUNNING' AND u.lease_until <= $%[1]d))`

// SelectEligible scans for claimable unit IDs, oldest job first.
func (s *Store) SelectEligible(ctx context.Context, limit int, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT u.id
		FROM export_units u
		JOIN export_jobs j ON j.id = u.job_id
		WHERE j.status IN ('SUBMITTED', 'RUNNING')
		  AND `+eligibilityPredicate+`
		ORDER BY j.requested_at, u.id
		LIMIT $2`, 1),
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible units: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unit id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read eligible units: %w", err)
	}
	return ids, nil
}

// TryClaim atomically claims one eligible unit. The WHERE predicate is the
// entire safety gate: of any number of concurrent claimers, exactly one
// update affects the row. A won claim also moves a SUBMITTED parent to
// RUNNING (best effort; losing that secondary race is harmless).
func (s *Store) TryClaim(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE export_units u
		SET status = 'RUNNING',
		    lease_owner = $3,
		    lease_until = $4,
		    attempt_count = u.attempt_count + 1,
		    started_at = COALESCE(u.started_at, $2),
		    next_retry_at = NULL
		FROM export_jobs j
		WHERE u.id = $1 AND j.id = u.job_id
		  AND j.status IN ('SUBMITTED', 'RUNNING')
		  AND `+eligibilityPredicate, 2),
		unitID, now, workerID, now.Add(leaseDuration))
	if err != nil {
		return false, fmt.Errorf("failed to claim unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'RUNNING', started_at = COALESCE(started_at, $2)
		WHERE status = 'SUBMITTED'
		  AND id = (SELECT job_id FROM export_units WHERE id = $1)`,
		unitID, now)
	if err != nil {
		return true, fmt.Errorf("claimed unit but failed to start job: %w", err)
	}
	return true, nil
}

// RenewLease extends the lease while workerID still owns the unit.
func (s *Store) RenewLease(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_units
		SET lease_until = $3
		WHERE id = $1 AND status = 'RUNNING' AND lease_owner = $2`,
		unitID, workerID, now.Add(leaseDuration))
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// FindUnit loads a unit by ID.
func (s *Store) FindUnit(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM export_units WHERE id = $1`, unitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitNotFound, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit: %w", err)
	}
	return u, nil
}

// markSucceeded finalizes a RUNNING unit owned by workerID. Zero affected
// rows means the lease was stolen or already finalized.
func (s *Store) markSucceeded(ctx context.Context, unitID, workerID, s3Path string, reused bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_units
		SET status = 'SUCCEEDED',
		    s3_path = $3,
		    is_reused = $4,
		    lease_owner = NULL,
		    lease_until = NULL,
		    next_retry_at = NULL,
		    error_message = NULL
		WHERE id = $1 AND status = 'RUNNING' AND lease_owner = $2`,
		unitID, workerID, s3Path, reused)
	if err != nil {
		return fmt.Errorf("failed to mark unit succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// MarkSucceededGenerated finalizes a freshly generated unit.
func (s *Store) MarkSucceededGenerated(ctx context.Context, unitID, workerID, s3Path string) error {
	return s.markSucceeded(ctx, unitID, workerID, s3Path, false)
}

// MarkSucceededReused finalizes a unit satisfied from the reuse registry.
func (s *Store) MarkSucceededReused(ctx context.Context, unitID, workerID, s3Path string) error {
	return s.markSucceeded(ctx, unitID, workerID, s3Path, true)
}

// ScheduleRetry moves RUNNING to RETRY_WAIT. Attempt count is untouched; it
// was incremented on claim.
func (s *Store) ScheduleRetry(ctx context.Context, unitID, workerID string, nextRetryAt time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_units
		SET status = 'RETRY_WAIT',
		    next_retry_at = $3,
		    error_message = $4,
		    lease_owner = NULL,
		    lease_until = NULL
		WHERE id = $1 AND status = 'RUNNING' AND lease_owner = $2`,
		unitID, workerID, nextRetryAt, errMsg)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// MoveToDLQ dead-letters a RUNNING unit.
func (s *Store) MoveToDLQ(ctx context.Context, unitID, workerID, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_units
		SET status = 'DLQ',
		    error_message = $3,
		    next_retry_at = NULL,
		    lease_owner = NULL,
		    lease_until = NULL
		WHERE id = $1 AND status = 'RUNNING' AND lease_owner = $2`,
		unitID, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to move unit to DLQ: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// ListDLQUnits returns dead-lettered units, oldest job first.
func (s *Store) ListDLQUnits(ctx context.Context, limit int) ([]*domain.ExportUnit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+unitColumnsQualified+`
		FROM export_units u
		JOIN export_jobs j ON j.id = u.job_id
		WHERE u.status = 'DLQ'
		ORDER BY j.requested_at, u.id
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ units: %w", err)
	}
	defer rows.Close()

	var units []*domain.ExportUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DLQ unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read DLQ units: %w", err)
	}
	return units, nil
}

// ResetUnitForRedrive moves a DLQ unit back to PENDING with a fresh attempt
// budget and reopens a FAILED parent job in the same transaction, so the
// poller sees a claimable unit under a non-terminal job or nothing at all.
func (s *Store) ResetUnitForRedrive(ctx context.Context, unitID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE export_units
		SET status = 'PENDING',
		    attempt_count = 0,
		    error_message = NULL,
		    next_retry_at = NULL,
		    lease_owner = NULL,
		    lease_until = NULL,
		    started_at = NULL,
		    s3_path = NULL,
		    is_reused = NULL
		WHERE id = $1 AND status = 'DLQ'`,
		unitID)
	if err != nil {
		return fmt.Errorf("failed to reset unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindUnit(ctx, unitID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", domain.ErrUnitNotRedrivable, unitID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'RUNNING', completed_at = NULL, error_message = NULL
		WHERE status = 'FAILED'
		  AND id = (SELECT job_id FROM export_units WHERE id = $1)`,
		unitID)
	if err != nil {
		return fmt.Errorf("failed to reopen job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit redrive: %w", err)
	}
	return nil
}
