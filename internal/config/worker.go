package config

import (
	"fmt"
	"time"
)

// WorkerConfig holds all tunables for the worker binary.
type WorkerConfig struct {
	Database DatabaseConfig
	Storage  StorageConfig

	// Poll loop.
	PollBatchSize int           `env:"EXPORTD_POLL_BATCH_SIZE" default:"16"`
	PollInterval  time.Duration `env:"EXPORTD_POLL_INTERVAL" default:"1s"`
	MaxInFlight   int           `env:"EXPORTD_MAX_IN_FLIGHT" default:"4"`

	// Lease duration must exceed the worst-case unit runtime with margin;
	// renewal happens at half this interval.
	LeaseDuration time.Duration `env:"EXPORTD_LEASE_DURATION" default:"5m"`

	// Retry policy.
	RetryMaxAttempts int           `env:"EXPORTD_RETRY_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay   time.Duration `env:"EXPORTD_RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay    time.Duration `env:"EXPORTD_RETRY_MAX_DELAY" default:"5m"`

	// Artifact reuse. Effective dates strictly older than today minus
	// ReuseDays may reuse an existing artifact.
	ReuseEnabled bool `env:"EXPORTD_REUSE_ENABLED" default:"true"`
	ReuseDays    int  `env:"EXPORTD_REUSE_DAYS" default:"7"`

	// Periodic job finalizer cadence.
	FinalizerInterval time.Duration `env:"EXPORTD_FINALIZER_INTERVAL" default:"30s"`

	// Timezone used to evaluate "today" in the reuse decision.
	Timezone string `env:"EXPORTD_TIMEZONE" default:"UTC"`

	OTelEnabled bool `env:"EXPORTD_OTEL_ENABLED" default:"false"`
}

// Validate validates worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.PollBatchSize <= 0 {
		return fmt.Errorf("EXPORTD_POLL_BATCH_SIZE must be positive, got %d", c.PollBatchSize)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("EXPORTD_MAX_IN_FLIGHT must be positive, got %d", c.MaxInFlight)
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("EXPORTD_LEASE_DURATION must be positive, got %v", c.LeaseDuration)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("EXPORTD_RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts)
	}
	if c.ReuseDays < 0 {
		return fmt.Errorf("EXPORTD_REUSE_DAYS must not be negative, got %d", c.ReuseDays)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("EXPORTD_TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
	}
	return nil
}
