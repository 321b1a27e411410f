package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rezkam/exportd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReuseDisabledAlwaysGenerates(t *testing.T) {
	lookups := 0
	coord := &mockCoordinator{
		lookupArtifactFunc: func(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error) {
			lookups++
			return &domain.Artifact{S3Path: "exports/old.csv"}, nil
		},
	}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	idx := NewArtifactIndex(coord, ReuseConfig{Enabled: false, Days: 7}, fixedClock(now))

	d, err := idx.Decide(context.Background(), "FUND_A", now.AddDate(0, 0, -30), "EOD")
	require.NoError(t, err)
	assert.False(t, d.Reuse)
	assert.Zero(t, lookups, "disabled reuse must not query the registry")
}

func TestReuseNoArtifactGenerates(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	idx := NewArtifactIndex(&mockCoordinator{}, ReuseConfig{Enabled: true, Days: 7}, fixedClock(now))

	d, err := idx.Decide(context.Background(), "FUND_A", now.AddDate(0, 0, -30), "EOD")
	require.NoError(t, err)
	assert.False(t, d.Reuse)
}

func TestReuseWindowBoundary(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	coord := &mockCoordinator{
		lookupArtifactFunc: func(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error) {
			return &domain.Artifact{S3Path: "exports/registered.csv"}, nil
		},
	}
	idx := NewArtifactIndex(coord, ReuseConfig{Enabled: true, Days: 7}, fixedClock(now))

	tests := []struct {
		name      string
		daysAgo   int
		wantReuse bool
	}{
		{"today regenerates", 0, false},
		{"inside window regenerates", 3, false},
		{"exactly at boundary regenerates", 7, false},
		{"one day past boundary reuses", 8, true},
		{"far past reuses", 90, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := idx.Decide(context.Background(), "FUND_A", now.AddDate(0, 0, -tt.daysAgo), "EOD")
			require.NoError(t, err)
			assert.Equal(t, tt.wantReuse, d.Reuse)
			if tt.wantReuse {
				assert.Equal(t, "exports/registered.csv", d.S3Path)
			}
		})
	}
}

func TestReuseLookupErrorIsTransient(t *testing.T) {
	coord := &mockCoordinator{
		lookupArtifactFunc: func(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (*domain.Artifact, error) {
			return nil, errors.New("connection refused")
		},
	}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	idx := NewArtifactIndex(coord, ReuseConfig{Enabled: true, Days: 7}, fixedClock(now))

	_, err := idx.Decide(context.Background(), "FUND_A", now.AddDate(0, 0, -30), "EOD")
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "registry outages must be retried, not DLQed")
}
