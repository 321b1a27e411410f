package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Classification is the retry class of a unit error.
type Classification int

const (
	// Permanent errors bypass retry and move the unit straight to DLQ.
	Permanent Classification = iota
	// TransientClass errors are rescheduled with bounded backoff.
	TransientClass
)

// RetryConfig bounds the retry schedule for failed units.
type RetryConfig struct {
	MaxAttempts int           // hard cap on attempts before DLQ
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff cap
}

// DefaultRetryConfig returns the default retry policy bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// RetryPolicy classifies unit errors and schedules bounded retries.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a policy with the given bounds.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	return &RetryPolicy{cfg: cfg}
}

// Classify sorts an error into the retry taxonomy. Errors explicitly marked
// with Transient() are transient, as are deadline expirations (statement or
// upload timeouts). Everything else is permanent.
func (p *RetryPolicy) Classify(err error) Classification {
	if IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return TransientClass
	}
	return Permanent
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	Retry       bool
	NextRetryAt time.Time
}

// Decide resolves a failed attempt into a scheduled retry or DLQ.
// attemptCount is the attempt that just failed (incremented at claim time),
// so a transient failure on attempt MaxAttempts exhausts the budget.
func (p *RetryPolicy) Decide(class Classification, attemptCount int, now time.Time) Decision {
	if class != TransientClass || attemptCount >= p.cfg.MaxAttempts {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, NextRetryAt: p.NextAttempt(attemptCount, now)}
}

// NextAttempt computes the next retry time using exponential backoff with
// full jitter: now + random(0, min(maxDelay, baseDelay * 2^(attempt-1))).
func (p *RetryPolicy) NextAttempt(attemptCount int, now time.Time) time.Time {
	return now.Add(backoffDelay(attemptCount, p.cfg))
}

func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}

	// Full jitter: random(0, backoff).
	maxJitter := int64(backoff)
	if maxJitter <= 0 {
		return cfg.BaseDelay
	}

	jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		// Fall back to the base delay if the randomness source fails.
		return cfg.BaseDelay
	}

	return time.Duration(jitter.Int64())
}
