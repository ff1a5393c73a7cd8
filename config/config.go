package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/orchestrator"
	"github.com/jonwraymond/calcops/server"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete file configuration of an engine.
type Config struct {
	Engine   orchestrator.Config  `yaml:"engine"`
	Cache    CacheConfig          `yaml:"cache"`
	Backends []backend.Descriptor `yaml:"backends"`

	// Approximation names the backend implementation used as the last
	// fallback. It must not also be listed in Backends.
	Approximation string `yaml:"approximation"`

	Observe observe.Config `yaml:"observe"`
	Server  ServerConfig   `yaml:"server"`

	// Secrets configures secret providers by name, e.g.
	//
	//	secrets:
	//	  file: {dir: /run/secrets}
	//	  env: {prefix: CALCOPS_}
	//
	// The env provider is always available without a prefix.
	Secrets map[string]map[string]any `yaml:"secrets"`
}

// ServerConfig configures the HTTP handler returned by Engine.Handler.
type ServerConfig struct {
	// RequestTimeout bounds each request. Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxBatch bounds the requests of one batch call. Default: 1000
	MaxBatch int `yaml:"max_batch"`
}

// CacheConfig selects and sizes the tiers. Disabled tiers are skipped.
type CacheConfig struct {
	cache.Config `yaml:",inline"`

	Memory MemoryTier `yaml:"memory"`
	Redis  RedisTier  `yaml:"redis"`
	SQLite SQLiteTier `yaml:"sqlite"`
}

// MemoryTier is the L1 section.
type MemoryTier struct {
	Enabled            bool `yaml:"enabled"`
	cache.MemoryConfig `yaml:",inline"`
}

// RedisTier is the L2 section.
type RedisTier struct {
	Enabled           bool `yaml:"enabled"`
	cache.RedisConfig `yaml:",inline"`
}

// SQLiteTier is the L3 section.
type SQLiteTier struct {
	Enabled            bool `yaml:"enabled"`
	cache.SQLiteConfig `yaml:",inline"`
}

// Default returns a configuration with an L1 memory tier, structured
// logging at info and no backends.
func Default() Config {
	return Config{
		Engine: orchestrator.DefaultConfig(),
		Cache: CacheConfig{
			Config: cache.DefaultConfig(),
			Memory: MemoryTier{Enabled: true, MemoryConfig: cache.MemoryConfig{MaxEntries: 10000}},
			Redis:  RedisTier{RedisConfig: cache.DefaultRedisConfig()},
			SQLite: SQLiteTier{SQLiteConfig: cache.SQLiteConfig{MaxEntries: cache.DefaultDurableEntries}},
		},
		Observe: observe.Config{
			ServiceName: "calcops",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
		Server: ServerConfig{
			RequestTimeout: server.DefaultRequestTimeout,
			MaxBatch:       server.DefaultMaxBatch,
		},
	}
}

// Validate reports every problem, joined.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observe: %w", err))
	}
	if c.Server.RequestTimeout < 0 || c.Server.MaxBatch < 0 {
		errs = append(errs, errors.New("server: request_timeout and max_batch must not be negative"))
	}
	if !c.Cache.Memory.Enabled && !c.Cache.Redis.Enabled && !c.Cache.SQLite.Enabled {
		errs = append(errs, errors.New("cache: at least one tier must be enabled"))
	}
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.redis: addr is required"))
	}
	if c.Cache.SQLite.Enabled && c.Cache.SQLite.Path == "" {
		errs = append(errs, errors.New("cache.sqlite: path is required"))
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, d := range c.Backends {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		case seen[d.Name]:
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
		if d.CostWeight < 0 || d.MaxLatency < 0 || d.RateLimit < 0 || d.MaxConcurrency < 0 {
			errs = append(errs, fmt.Errorf("backends[%d]: cost_weight, max_latency, rate_limit and max_concurrency must not be negative", i))
		}
		if d.MaxPrecision != 0 && !d.MaxPrecision.Valid() {
			errs = append(errs, fmt.Errorf("backends[%d]: unknown max_precision", i))
		}
	}
	if c.Approximation != "" && seen[c.Approximation] {
		errs = append(errs, fmt.Errorf("approximation %q is also a routed backend", c.Approximation))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
