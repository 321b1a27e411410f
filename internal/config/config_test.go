package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerConfigDefaults(t *testing.T) {
	t.Setenv("EXPORTD_DB_DSN", "postgres://localhost/exportd")

	cfg, err := LoadWorkerConfig()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.PollBatchSize)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 4, cfg.MaxInFlight)
	assert.Equal(t, 5*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.RetryMaxDelay)
	assert.True(t, cfg.ReuseEnabled)
	assert.Equal(t, 7, cfg.ReuseDays)
	assert.Equal(t, 30*time.Second, cfg.FinalizerInterval)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestLoadWorkerConfigRequiresDSN(t *testing.T) {
	_, err := LoadWorkerConfig()
	require.ErrorIs(t, err, ErrDSNRequired)
}

func TestLoadWorkerConfigRejectsBadTimezone(t *testing.T) {
	t.Setenv("EXPORTD_DB_DSN", "postgres://localhost/exportd")
	t.Setenv("EXPORTD_TIMEZONE", "Not/AZone")

	_, err := LoadWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPORTD_TIMEZONE")
}

func TestLoadWorkerConfigRejectsZeroInFlight(t *testing.T) {
	t.Setenv("EXPORTD_DB_DSN", "postgres://localhost/exportd")
	t.Setenv("EXPORTD_MAX_IN_FLIGHT", "0")

	_, err := LoadWorkerConfig()
	require.Error(t, err)
}

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("EXPORTD_DB_DSN", "postgres://localhost/exportd")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 1000, cfg.MaxUnitsPerJob)
	assert.Equal(t, "fs", cfg.Storage.Type)
	assert.Equal(t, "exports", cfg.Storage.BasePath)
}

func TestStorageConfigGCSRequiresBucket(t *testing.T) {
	t.Setenv("EXPORTD_DB_DSN", "postgres://localhost/exportd")
	t.Setenv("EXPORTD_STORAGE_TYPE", "gcs")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPORTD_GCS_BUCKET")
}
