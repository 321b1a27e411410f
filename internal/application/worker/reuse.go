package worker

import (
	"context"
	"fmt"
	"time"
)

// ReuseConfig controls artifact reuse across jobs.
type ReuseConfig struct {
	// Enabled is the master switch; disabled means every unit regenerates.
	Enabled bool

	// Days is the regeneration window. Effective dates on or after
	// today-Days are considered volatile and regenerate; strictly older
	// dates reuse a registered artifact.
	Days int

	// Location is the zone in which "today" is evaluated.
	Location *time.Location
}

// ReuseDecision is the outcome of the artifact-index lookup for one unit.
type ReuseDecision struct {
	Reuse  bool
	S3Path string // set iff Reuse
}

// ArtifactIndex decides, per unit, whether a previously generated artifact
// can be reused instead of invoking the export procedure again. Recent data
// is volatile and must be refreshed; older data is stable enough to share
// across jobs.
type ArtifactIndex struct {
	coordinator Coordinator
	cfg         ReuseConfig
	clock       Clock
}

// NewArtifactIndex creates the reuse decision layer.
func NewArtifactIndex(coordinator Coordinator, cfg ReuseConfig, clock Clock) *ArtifactIndex {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clock == nil {
		clock = UTCNow
	}
	return &ArtifactIndex{coordinator: coordinator, cfg: cfg, clock: clock}
}

// Decide evaluates the reuse algorithm before any storage or procedure work:
// disabled or unregistered keys generate; effective dates inside the
// regeneration window generate; anything older reuses the registered path.
func (a *ArtifactIndex) Decide(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (ReuseDecision, error) {
	if !a.cfg.Enabled {
		return ReuseDecision{}, nil
	}

	artifact, err := a.coordinator.LookupArtifact(ctx, indexKey, effectiveDate, asofIndicator)
	if err != nil {
		return ReuseDecision{}, Transient(fmt.Errorf("artifact lookup failed: %w", err))
	}
	if artifact == nil {
		return ReuseDecision{}, nil
	}

	// Window boundary is strict: effectiveDate == today-Days regenerates.
	today := dateOnly(a.clock().In(a.cfg.Location))
	cutoff := today.AddDate(0, 0, -a.cfg.Days)
	if !dateOnly(effectiveDate).Before(cutoff) {
		return ReuseDecision{}, nil
	}

	return ReuseDecision{Reuse: true, S3Path: artifact.S3Path}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
