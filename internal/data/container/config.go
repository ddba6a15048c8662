// File path: internal/data/container/config.go
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls construction of the data container and the feedback
// sweeper cadence.
type Config struct {
	CatalogPath   string
	SweepInterval time.Duration
}

// DefaultConfig returns the baseline configuration used when no overrides
// are supplied.
func DefaultConfig() Config {
	return Config{
		CatalogPath:   filepath.Join("data", "catalog.db"),
		SweepInterval: 5 * time.Minute,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("CASEFORGE_CATALOG_PATH")); value != "" {
		cfg.CatalogPath = value
	}
	if value := strings.TrimSpace(os.Getenv("CASEFORGE_SWEEP_INTERVAL")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse CASEFORGE_SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = dur
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		cfg.CatalogPath = defaults.CatalogPath
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	return cfg
}

func (c Config) validate() error {
	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("catalog path required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}
