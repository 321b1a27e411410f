package config

import "fmt"

// ServerConfig holds all configuration for the API server binary.
type ServerConfig struct {
	Database DatabaseConfig
	Storage  StorageConfig

	HTTPPort string `env:"EXPORTD_HTTP_PORT" default:"8081"`

	// MaxUnitsPerJob caps the number of units a single submission may create.
	MaxUnitsPerJob int `env:"EXPORTD_MAX_UNITS_PER_JOB" default:"1000"`

	OTelEnabled bool `env:"EXPORTD_OTEL_ENABLED" default:"false"`
}

// Validate validates server configuration.
func (c *ServerConfig) Validate() error {
	if c.MaxUnitsPerJob <= 0 {
		return fmt.Errorf("EXPORTD_MAX_UNITS_PER_JOB must be positive, got %d", c.MaxUnitsPerJob)
	}
	return nil
}
