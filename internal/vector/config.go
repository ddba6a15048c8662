// File path: internal/vector/config.go
package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host       string `json:"host"`
	Port       string `json:"port"`
	Scheme     string `json:"scheme"`
	Collection string `json:"collection"`
	Token      string `json:"token"`
	Dimension  int    `json:"dimension"`

	Timeout       time.Duration `json:"-"`
	TimeoutString string        `json:"timeout"`

	HTTPMaxIdleConns    int `json:"http_max_idle_conns"`
	HTTPMaxIdlePerHost  int `json:"http_max_idle_per_host"`
	HTTPMaxConnsPerHost int `json:"http_max_conns_per_host"`
}

func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Host) != "" {
		result.Host = strings.TrimSpace(override.Host)
	}
	if strings.TrimSpace(override.Port) != "" {
		result.Port = strings.TrimSpace(override.Port)
	}
	if strings.TrimSpace(override.Scheme) != "" {
		result.Scheme = strings.TrimSpace(override.Scheme)
	}
	if strings.TrimSpace(override.Collection) != "" {
		result.Collection = strings.TrimSpace(override.Collection)
	}
	if strings.TrimSpace(override.Token) != "" {
		result.Token = override.Token
	}
	if override.Dimension > 0 {
		result.Dimension = override.Dimension
	}
	if override.Timeout > 0 {
		result.Timeout = override.Timeout
	}
	if strings.TrimSpace(override.TimeoutString) != "" {
		result.TimeoutString = strings.TrimSpace(override.TimeoutString)
	}
	if override.HTTPMaxIdleConns > 0 {
		result.HTTPMaxIdleConns = override.HTTPMaxIdleConns
	}
	if override.HTTPMaxIdlePerHost > 0 {
		result.HTTPMaxIdlePerHost = override.HTTPMaxIdlePerHost
	}
	if override.HTTPMaxConnsPerHost > 0 {
		result.HTTPMaxConnsPerHost = override.HTTPMaxConnsPerHost
	}
	return result
}

func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("MILVUS_CONFIG_FILE")); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadConfigEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "localhost"
	}
	if strings.TrimSpace(c.Port) == "" {
		c.Port = "19530"
	}
	if strings.TrimSpace(c.Scheme) == "" {
		c.Scheme = "http"
	}
	if strings.TrimSpace(c.Collection) == "" {
		c.Collection = "test_knowledge_vectors"
	}
	if c.Dimension <= 0 {
		c.Dimension = 1536
	}
	if c.Timeout <= 0 {
		if c.TimeoutString != "" {
			if parsed, err := time.ParseDuration(c.TimeoutString); err == nil {
				c.Timeout = parsed
			}
		}
		if c.Timeout <= 0 {
			c.Timeout = 10 * time.Second
		}
	}
	if c.HTTPMaxIdleConns <= 0 {
		c.HTTPMaxIdleConns = 64
	}
	if c.HTTPMaxIdlePerHost <= 0 {
		c.HTTPMaxIdlePerHost = 16
	}
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read milvus config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse milvus config: %w", err)
	}
	return cfg, nil
}

func loadConfigEnv() (Config, error) {
	cfg := Config{
		Host:       strings.TrimSpace(os.Getenv("MILVUS_HOST")),
		Port:       strings.TrimSpace(os.Getenv("MILVUS_PORT")),
		Scheme:     strings.TrimSpace(os.Getenv("MILVUS_SCHEME")),
		Collection: strings.TrimSpace(os.Getenv("MILVUS_COLLECTION")),
		Token:      strings.TrimSpace(os.Getenv("MILVUS_TOKEN")),
	}
	if uri := strings.TrimSpace(os.Getenv("MILVUS_URI")); uri != "" {
		scheme, host, port, err := splitURI(uri)
		if err != nil {
			return Config{}, err
		}
		if cfg.Scheme == "" {
			cfg.Scheme = scheme
		}
		if cfg.Host == "" {
			cfg.Host = host
		}
		if cfg.Port == "" {
			cfg.Port = port
		}
	}
	if dim := strings.TrimSpace(os.Getenv("EMBEDDING_DIM")); dim != "" {
		value, err := strconv.Atoi(dim)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBEDDING_DIM: %w", err)
		}
		cfg.Dimension = value
	}
	if timeout := strings.TrimSpace(os.Getenv("MILVUS_TIMEOUT")); timeout != "" {
		cfg.TimeoutString = timeout
		if parsed, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = parsed
		}
	}
	return cfg, nil
}

func splitURI(uri string) (scheme, host, port string, err error) {
	scheme = "http"
	rest := uri
	if idx := strings.Index(rest, "://"); idx >= 0 {
		scheme = rest[:idx]
		rest = rest[idx+3:]
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", "", "", fmt.Errorf("invalid milvus uri %q", uri)
	}
	host = rest
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		port = rest[idx+1:]
	}
	return scheme, host, port, nil
}
