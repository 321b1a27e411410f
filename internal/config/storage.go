package config

import "fmt"

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type selects the backend: "fs" for local development, "gcs" for
	// production.
	Type string `env:"EXPORTD_STORAGE_TYPE" default:"fs"`

	// Bucket is the GCS bucket name (required for gcs).
	Bucket string `env:"EXPORTD_GCS_BUCKET"`

	// FSDir is the root directory of the filesystem backend.
	FSDir string `env:"EXPORTD_FS_DIR" default:"./exportd-data"`

	// BasePath is the constant prefix of every artifact path.
	BasePath string `env:"EXPORTD_STORAGE_BASE_PATH" default:"exports"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "fs":
		if c.FSDir == "" {
			return fmt.Errorf("EXPORTD_FS_DIR is required when EXPORTD_STORAGE_TYPE is 'fs'")
		}
	case "gcs":
		if c.Bucket == "" {
			return fmt.Errorf("EXPORTD_GCS_BUCKET is required when EXPORTD_STORAGE_TYPE is 'gcs'")
		}
	default:
		return fmt.Errorf("unknown EXPORTD_STORAGE_TYPE: %s", c.Type)
	}
	if c.BasePath == "" {
		return fmt.Errorf("EXPORTD_STORAGE_BASE_PATH must not be empty")
	}
	return nil
}
