// Package config loads and validates the outpost configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/outpostmail/outpost/internal/prefcache"
	"github.com/outpostmail/outpost/internal/store"
)

// Config is the top-level configuration.
type Config struct {
	API     APIConfig        `toml:"api"`
	Store   store.Config     `toml:"store"`
	Cache   prefcache.Config `toml:"cache"`
	Queue   QueueConfig      `toml:"queue"`
	Admin   AdminConfig      `toml:"admin"`
	Logging LoggingConfig    `toml:"logging"`
}

// APIConfig configures the remote mail API client.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the request timeout.
func (c APIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueueConfig configures the work runtime.
type QueueConfig struct {
	Workers               int `toml:"workers"`
	OfflineRecheckSeconds int `toml:"offline_recheck_seconds"`
}

// OfflineRecheck returns the wait between connectivity re-checks.
func (c QueueConfig) OfflineRecheck() time.Duration {
	if c.OfflineRecheckSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.OfflineRecheckSeconds) * time.Second
}

// AdminConfig configures the admin/metrics HTTP listener.
type AdminConfig struct {
	Enabled    bool    `toml:"enabled"`
	ListenAddr string  `toml:"listen_addr"`
	RateLimit  float64 `toml:"rate_limit"` // requests per second, 0 = default
	RateBurst  int     `toml:"rate_burst"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
	File   string `toml:"file"`   // empty = stdout
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://mail.outpost.test",
			TimeoutSeconds: 30,
		},
		Store: store.Config{
			Type: "sqlite",
			Path: "./outpost.db",
		},
		Cache: prefcache.Config{
			Type:       "memory",
			TTLSeconds: int(prefcache.DefaultTTL / time.Second),
		},
		Queue: QueueConfig{
			Workers:               4,
			OfflineRecheckSeconds: 5,
		},
		Admin: AdminConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8025",
			RateLimit:  10,
			RateBurst:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults. An empty path probes the
// usual locations and falls back to the defaults when none exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	candidates := []string{
		os.Getenv("OUTPOST_CONFIG"),
		"./outpost.toml",
		filepath.Join(os.Getenv("HOME"), ".config", "outpost", "outpost.toml"),
		"/etc/outpost/outpost.toml",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}

	switch c.Store.Type {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store.type %q is not supported", c.Store.Type)
	}
	if c.Store.Type == "sqlite" || c.Store.Type == "" {
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for sqlite")
		}
	} else if c.Store.Host == "" {
		return fmt.Errorf("store.host must be set for %s", c.Store.Type)
	}

	switch c.Cache.Type {
	case "", "memory", "redis", "memcached":
	default:
		return fmt.Errorf("cache.type %q is not supported", c.Cache.Type)
	}
	if (c.Cache.Type == "redis" || c.Cache.Type == "memcached") && c.Cache.Host == "" {
		return fmt.Errorf("cache.host must be set for %s", c.Cache.Type)
	}

	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must not be negative")
	}
	if c.Admin.Enabled && c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr must be set when the admin server is enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}
	return nil
}
