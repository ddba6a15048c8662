// File path: internal/sqlite/config.go
package sqlite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config tunes the catalog database connection pool.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// fileConfig is the JSON shape of SQLITE_CONFIG_FILE. Durations are
// written as Go duration strings ("15m", "5s").
type fileConfig struct {
	Path            string `json:"path"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	BusyTimeout     string `json:"busy_timeout"`
}

// LoadConfig assembles the catalog configuration from an optional JSON
// file named by SQLITE_CONFIG_FILE, with SQLITE_* environment variables
// taking precedence, and fills unset fields with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if path := strings.TrimSpace(os.Getenv("SQLITE_CONFIG_FILE")); path != "" {
		if err := cfg.fromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.fromEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) fromFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read sqlite config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse sqlite config: %w", err)
	}
	c.Path = strings.TrimSpace(fc.Path)
	c.MaxOpenConns = fc.MaxOpenConns
	c.MaxIdleConns = fc.MaxIdleConns
	if c.ConnMaxLifetime, err = optionalDuration(fc.ConnMaxLifetime, "conn_max_lifetime"); err != nil {
		return err
	}
	if c.BusyTimeout, err = optionalDuration(fc.BusyTimeout, "busy_timeout"); err != nil {
		return err
	}
	return nil
}

func (c *Config) fromEnv() error {
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		c.Path = v
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"SQLITE_MAX_OPEN_CONNS", &c.MaxOpenConns},
		{"SQLITE_MAX_IDLE_CONNS", &c.MaxIdleConns},
	} {
		v := strings.TrimSpace(os.Getenv(f.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.key, err)
		}
		if n > 0 {
			*f.dst = n
		}
	}
	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"SQLITE_CONN_MAX_LIFETIME", &c.ConnMaxLifetime},
		{"SQLITE_BUSY_TIMEOUT", &c.BusyTimeout},
	} {
		v := strings.TrimSpace(os.Getenv(f.key))
		if v == "" {
			continue
		}
		d, err := optionalDuration(v, f.key)
		if err != nil {
			return err
		}
		if d > 0 {
			*f.dst = d
		}
	}
	return nil
}

func (c *Config) normalize() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 8
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 15 * time.Minute
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

func optionalDuration(value, name string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
