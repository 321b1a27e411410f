package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rezkam/exportd/internal/domain"
	"github.com/rezkam/exportd/internal/storage/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(t *testing.T, coord *mockCoordinator, maxInFlight int) *Poller {
	t.Helper()

	store, err := fs.NewStore(t.TempDir())
	require.NoError(t, err)

	clock := fixedClock(testNow)
	execCfg := ExecutorConfig{WorkerID: "worker-1", LeaseDuration: time.Minute, BasePath: "exports"}
	finalizer := NewFinalizer(coord, DefaultFinalizerConfig("worker-1"), clock)
	artifacts := NewArtifactIndex(coord, ReuseConfig{}, clock)
	retry := NewRetryPolicy(DefaultRetryConfig())
	executor := NewExecutor(coord, &mockRowSource{}, store, artifacts, retry, finalizer, execCfg, clock)

	cfg := PollerConfig{
		WorkerID:      "worker-1",
		BatchSize:     16,
		PollInterval:  10 * time.Millisecond,
		MaxInFlight:   maxInFlight,
		LeaseDuration: time.Minute,
	}
	return NewPoller(coord, executor, cfg, clock)
}

func TestPollOnceClaimsAndExecutes(t *testing.T) {
	var mu sync.Mutex
	executed := map[string]bool{}

	coord := &mockCoordinator{
		selectEligibleFunc: func(ctx context.Context, limit int, now time.Time) ([]string, error) {
			return []string{"unit-1", "unit-2"}, nil
		},
		findUnitFunc: func(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
			u := testUnit()
			u.ID = unitID
			return u, nil
		},
		findJobFunc: func(ctx context.Context, jobID string) (*domain.ExportJob, error) {
			return testJob(domain.JobRunning), nil
		},
		markSucceededGeneratedFunc: func(ctx context.Context, unitID, workerID, s3Path string) error {
			mu.Lock()
			executed[unitID] = true
			mu.Unlock()
			return nil
		},
	}

	p := newTestPoller(t, coord, 4)
	claimed, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	p.wg.Wait()

	assert.Equal(t, 2, claimed)
	assert.Equal(t, map[string]bool{"unit-1": true, "unit-2": true}, executed)
}

func TestPollOnceSkipsLostClaimRaces(t *testing.T) {
	var mu sync.Mutex
	executed := map[string]bool{}

	coord := &mockCoordinator{
		selectEligibleFunc: func(ctx context.Context, limit int, now time.Time) ([]string, error) {
			return []string{"unit-1", "unit-2", "unit-3"}, nil
		},
		tryClaimFunc: func(ctx context.Context, unitID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error) {
			// Another worker beat us to the middle candidate.
			return unitID != "unit-2", nil
		},
		findUnitFunc: func(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
			u := testUnit()
			u.ID = unitID
			return u, nil
		},
		findJobFunc: func(ctx context.Context, jobID string) (*domain.ExportJob, error) {
			return testJob(domain.JobRunning), nil
		},
		markSucceededGeneratedFunc: func(ctx context.Context, unitID, workerID, s3Path string) error {
			mu.Lock()
			executed[unitID] = true
			mu.Unlock()
			return nil
		},
	}

	p := newTestPoller(t, coord, 4)
	claimed, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	p.wg.Wait()

	assert.Equal(t, 2, claimed)
	assert.Equal(t, map[string]bool{"unit-1": true, "unit-3": true}, executed)
}

func TestPollOnceRespectsMaxInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)

	coord := &mockCoordinator{
		selectEligibleFunc: func(ctx context.Context, limit int, now time.Time) ([]string, error) {
			return []string{"unit-1", "unit-2", "unit-3"}, nil
		},
		findUnitFunc: func(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
			started <- unitID
			<-release // hold the slot until the test lets go
			u := testUnit()
			u.ID = unitID
			return u, nil
		},
		findJobFunc: func(ctx context.Context, jobID string) (*domain.ExportJob, error) {
			return testJob(domain.JobRunning), nil
		},
	}

	p := newTestPoller(t, coord, 2)
	claimed, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, claimed, "third candidate must wait for a free slot")

	close(release)
	p.wg.Wait()
}

func TestPollOnceSurfacesScanError(t *testing.T) {
	scanErr := errors.New("connection refused")
	coord := &mockCoordinator{
		selectEligibleFunc: func(ctx context.Context, limit int, now time.Time) ([]string, error) {
			return nil, scanErr
		},
	}

	p := newTestPoller(t, coord, 2)
	claimed, err := p.pollOnce(context.Background())
	require.ErrorIs(t, err, scanErr)
	assert.Zero(t, claimed)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	inFlight := make(chan struct{})
	finished := make(chan struct{})

	coord := &mockCoordinator{
		selectEligibleFunc: func(ctx context.Context, limit int, now time.Time) ([]string, error) {
			return []string{"unit-1"}, nil
		},
		findUnitFunc: func(ctx context.Context, unitID string) (*domain.ExportUnit, error) {
			select {
			case inFlight <- struct{}{}:
			default:
			}
			return testUnit(), nil
		},
		findJobFunc: func(ctx context.Context, jobID string) (*domain.ExportJob, error) {
			return testJob(domain.JobRunning), nil
		},
		markSucceededGeneratedFunc: func(ctx context.Context, unitID, workerID, s3Path string) error {
			select {
			case finished <- struct{}{}:
			default:
			}
			return nil
		},
	}

	p := newTestPoller(t, coord, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-inFlight
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not shut down")
	}

	select {
	case <-finished:
	default:
		// The claimed unit may legitimately have finished before cancel; either
		// way Run returned only after the drain.
	}
}
