// Package config loads the coordination core's configuration from layered
// sources: built-in defaults, an optional YAML file, then OBJDB_-prefixed
// environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Infinite is the sentinel duration meaning "never reap on age alone".
// Resolves Open Question #1: a 31-bit pool_timeout default is treated
// as effectively infinite here, not as an exact value.
const Infinite time.Duration = 1<<63 - 1

// Config is every tunable the coordination core exposes.
type Config struct {
	LogLevel string `koanf:"log_level" validate:"required"`

	Pool       PoolConfig       `koanf:"pool"`
	Historical HistoricalConfig `koanf:"historical"`

	DatabaseName string `koanf:"database_name" validate:"required"`
	Xrefs        bool   `koanf:"xrefs"`

	// LargeRecordSize is the advisory oversized-record threshold, in bytes.
	LargeRecordSize int64 `koanf:"large_record_size" validate:"gte=0"`

	Storage StorageConfig `koanf:"storage"`
	Redis   *RedisConfig  `koanf:"redis"`
}

// PoolConfig configures the live (read/write) connection pool.
type PoolConfig struct {
	Size    int           `koanf:"size" validate:"gte=0"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`

	CacheSize      int   `koanf:"cache_size" validate:"gte=0"`
	CacheSizeBytes int64 `koanf:"cache_size_bytes" validate:"gte=0"`
}

// HistoricalConfig configures the keyed historical pool family.
type HistoricalConfig struct {
	Size    int           `koanf:"size" validate:"gte=0"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`

	CacheSize      int   `koanf:"cache_size" validate:"gte=0"`
	CacheSizeBytes int64 `koanf:"cache_size_bytes" validate:"gte=0"`
}

// StorageConfig selects and configures the storage backend: either the
// in-memory reference implementation or a Postgres-backed one.
type StorageConfig struct {
	// DSN is either the literal "memory" or a postgres:// connection URL.
	DSN             string        `koanf:"dsn" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// CircuitBreakerThreshold is the number of consecutive acquire/begin
	// failures that trip the breaker open. CircuitBreakerTimeout is how
	// long it stays open before it turns half-open, letting calls through
	// until the next recorded outcome closes it or opens it again.
	CircuitBreakerThreshold int           `koanf:"circuit_breaker_threshold" validate:"gte=0"`
	CircuitBreakerTimeout   time.Duration `koanf:"circuit_breaker_timeout"`
}

// RedisConfig configures the optional cross-process invalidation bus.
// A nil *RedisConfig means invalidation stays in-process only.
type RedisConfig struct {
	Address      string        `koanf:"address" validate:"required"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	Channel      string        `koanf:"channel" validate:"required"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Pool: PoolConfig{
			Size:           7,
			Timeout:        Infinite,
			CacheSize:      400,
			CacheSizeBytes: 0,
		},
		Historical: HistoricalConfig{
			Size:           3,
			Timeout:        300 * time.Second,
			CacheSize:      1000,
			CacheSizeBytes: 0,
		},
		DatabaseName:    "unnamed",
		Xrefs:           true,
		LargeRecordSize: 16 << 20,
		Storage: StorageConfig{
			DSN:                     "memory",
			MaxOpenConns:            25,
			MaxIdleConns:            5,
			ConnMaxLifetime:         30 * time.Minute,
			CircuitBreakerThreshold: 10,
			CircuitBreakerTimeout:   30 * time.Second,
		},
	}
}

// Load loads configuration from defaults, then an optional YAML file (the
// first element of paths, or configs/config.yaml when none is given),
// then OBJDB_ environment variables, and validates the result.
func Load(paths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	cfgPath := "configs/config.yaml"
	if len(paths) > 0 && paths[0] != "" {
		cfgPath = paths[0]
	}
	// A missing config file is not an error: defaults + env may be enough.
	_ = k.Load(file.Provider(cfgPath), yaml.Parser())

	if err := k.Load(env.Provider("OBJDB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "OBJDB_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate rejects configurations the core cannot safely run with.
// Resolves Open Question #3: historical_timeout's zero value
// is rejected rather than silently treated as infinite; callers that want
// "never reap" must pass config.Infinite explicitly.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Historical.Timeout == 0 {
		return fmt.Errorf("historical.timeout must be set explicitly (use config.Infinite for \"never reap\")")
	}
	if c.Pool.Timeout == 0 {
		return fmt.Errorf("pool.timeout must be set explicitly (use config.Infinite for \"never reap\")")
	}
	if c.Storage.DSN != "memory" && !strings.HasPrefix(c.Storage.DSN, "postgres://") && !strings.HasPrefix(c.Storage.DSN, "postgresql://") {
		return fmt.Errorf("storage.dsn must be \"memory\" or a postgres:// URL")
	}
	return nil
}
