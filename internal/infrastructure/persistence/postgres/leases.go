package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// TryAcquireExclusiveRun acquires the cluster-wide execution lock for
// runType. The upsert succeeds when no lease exists, the existing lease has
// expired, or this holder already owns it (re-entrant renewal). The
// conditional DO UPDATE returns no row when another live holder wins.
func (s *Store) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	var holder string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO worker_leases (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
		WHERE worker_leases.expires_at <= now()
		   OR worker_leases.holder_id = EXCLUDED.holder_id
		RETURNING holder_id`,
		runType, holderID, expiresAt).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		// Another live holder owns the lease. Normal contention.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire exclusive run lease: %w", err)
	}

	releaseFunc := func() {
		// Deliberately not the caller's ctx: release must work during
		// shutdown after cancellation.
		_, err := s.pool.Exec(context.Background(), `
			DELETE FROM worker_leases
			WHERE run_type = $1 AND holder_id = $2`,
			runType, holderID)
		if err != nil {
			slog.Error("failed to release exclusive run lease",
				"run_type", runType,
				"holder_id", holderID,
				"error", err)
		}
	}
	return releaseFunc, true, nil
}
