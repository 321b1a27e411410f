package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/exportd/internal/domain"
)

// LookupArtifact returns the registered artifact for the natural key, or nil
// when none exists.
func (s *Store) LookupArtifact(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := s.pool.QueryRow(ctx, `
		SELECT index_key, effective_date, asof_indicator, s3_path, source_job_id, generated_at
		FROM export_artifacts
		WHERE index_key = $1 AND effective_date = $2 AND asof_indicator = $3`,
		indexKey, effectiveDate, asofIndicator).
		Scan(&a.IndexKey, &a.EffectiveDate, &a.AsOfIndicator, &a.S3Path, &a.SourceJobID, &a.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}
	return &a, nil
}

// UpsertArtifact registers an artifact by natural key. A concurrent
// regeneration simply overwrites path, source job, and generation time; the
// registry always points at the most recent durable object.
func (s *Store) UpsertArtifact(ctx context.Context, artifact *domain.Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_artifacts (index_key, effective_date, asof_indicator, s3_path, source_job_id, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (index_key, effective_date, asof_indicator)
		DO UPDATE SET s3_path = EXCLUDED.s3_path,
		              source_job_id = EXCLUDED.source_job_id,
		              generated_at = EXCLUDED.generated_at`,
		artifact.IndexKey, artifact.EffectiveDate, artifact.AsOfIndicator,
		artifact.S3Path, artifact.SourceJobID, artifact.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert artifact: %w", err)
	}
	return nil
}
