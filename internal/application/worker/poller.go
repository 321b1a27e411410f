package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// PollerConfig configures the eligibility poll loop.
type PollerConfig struct {
	// WorkerID is this process's lease owner identity.
	WorkerID string

	// BatchSize is the maximum number of candidate unit IDs fetched per
	// eligibility scan.
	BatchSize int

	// PollInterval is the idle sleep between scans that claimed nothing.
	// A random jitter of up to a quarter interval is added so workers
	// started together drift apart.
	PollInterval time.Duration

	// MaxInFlight bounds concurrently executing units in this process.
	MaxInFlight int

	// LeaseDuration is passed through to each claim.
	LeaseDuration time.Duration
}

// Poller repeatedly scans for eligible units, races other workers for claims,
// and hands won units to the executor on bounded goroutines. Lost claim races
// are expected and silently skipped; the database row is the only
// coordination point.
type Poller struct {
	coordinator Coordinator
	executor    *Executor
	cfg         PollerConfig
	clock       Clock

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPoller creates a poller.
func NewPoller(coordinator Coordinator, executor *Executor, cfg PollerConfig, clock Clock) *Poller {
	if clock == nil {
		clock = UTCNow
	}
	return &Poller{
		coordinator: coordinator,
		executor:    executor,
		cfg:         cfg,
		clock:       clock,
		slots:       make(chan struct{}, cfg.MaxInFlight),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight units to drain.
func (p *Poller) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "poller starting",
		"worker_id", p.cfg.WorkerID,
		"batch_size", p.cfg.BatchSize,
		"poll_interval", p.cfg.PollInterval,
		"max_in_flight", p.cfg.MaxInFlight)

	for ctx.Err() == nil {
		claimed, err := p.pollOnce(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "eligibility scan failed", "error", err)
		}
		// Back off whenever the scan produced no work; a claim means more
		// may be waiting, so go straight back around.
		if claimed == 0 {
			if !p.sleep(ctx) {
				break
			}
		}
	}

	slog.InfoContext(ctx, "poller stopping, draining in-flight units")
	p.wg.Wait()
	return ctx.Err()
}

// pollOnce runs one scan-and-claim cycle and returns how many units this
// worker won.
func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	// Admission first: don't scan while the pool is saturated, the candidates
	// would go stale before a slot frees up.
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return 0, nil
	}
	holding := true
	defer func() {
		if holding {
			<-p.slots
		}
	}()

	unitIDs, err := p.coordinator.SelectEligible(ctx, p.cfg.BatchSize, p.clock())
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, unitID := range unitIDs {
		if !holding {
			select {
			case p.slots <- struct{}{}:
				holding = true
			default:
				// Pool full; leave the rest of the batch for the next scan.
				return claimed, nil
			}
		}

		ok, err := p.coordinator.TryClaim(ctx, unitID, p.cfg.WorkerID, p.cfg.LeaseDuration, p.clock())
		if err != nil {
			slog.WarnContext(ctx, "claim attempt failed",
				"unit_id", unitID,
				"error", err)
			continue
		}
		if !ok {
			// Another worker won the race between scan and claim.
			continue
		}

		claimed++
		holding = false
		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			defer func() { <-p.slots }()

			if err := p.executor.Execute(ctx, id); err != nil {
				slog.ErrorContext(ctx, "unit execution failed",
					"unit_id", id,
					"error", err)
			}
		}(unitID)
	}

	return claimed, nil
}

// sleep waits the jittered poll interval; returns false if ctx was cancelled.
func (p *Poller) sleep(ctx context.Context) bool {
	delay := p.cfg.PollInterval
	if jitter := delay / 4; jitter > 0 {
		delay += rand.N(jitter)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
