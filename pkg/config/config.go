// Package config loads feed proxy settings from flags, the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/feed-proxy/pkg/cache"
	"github.com/Sternrassler/feed-proxy/pkg/logging"
	"github.com/Sternrassler/feed-proxy/pkg/upstream"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Keys understood by Load. Each maps to the upper-case environment variable
// of the same name (cache_ttl -> CACHE_TTL).
const (
	KeyPort               = "port"
	KeyCacheTTL           = "cache_ttl"
	KeyUpstreamTimeout    = "upstream_timeout"
	KeyUserAgent          = "user_agent"
	KeyCacheBackend       = "cache_backend"
	KeyRedisURL           = "redis_url"
	KeyCacheSweepInterval = "cache_sweep_interval"
	KeyLogLevel           = "log_level"
	KeyLogPretty          = "log_pretty"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the process configuration. Durations configured in
// milliseconds are converted on load.
type Config struct {
	Port               int           `json:"port"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	UpstreamTimeout    time.Duration `json:"upstream_timeout"`
	UserAgent          string        `json:"user_agent"`
	CacheBackend       string        `json:"cache_backend"`
	RedisURL           string        `json:"redis_url"`
	CacheSweepInterval time.Duration `json:"cache_sweep_interval"`
	LogLevel           string        `json:"log_level"`
	LogPretty          bool          `json:"log_pretty"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 3000)
	v.SetDefault(KeyCacheTTL, cache.DefaultTTL.Milliseconds())
	v.SetDefault(KeyUpstreamTimeout, upstream.DefaultTimeout.Milliseconds())
	v.SetDefault(KeyUserAgent, upstream.DefaultUserAgent)
	v.SetDefault(KeyCacheBackend, BackendMemory)
	v.SetDefault(KeyRedisURL, "localhost:6379")
	v.SetDefault(KeyCacheSweepInterval, 0)
	v.SetDefault(KeyLogLevel, string(logging.LevelInfo))
	v.SetDefault(KeyLogPretty, false)
}

// NewViper returns a viper instance with defaults registered and environment
// lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv reads KEY=value pairs from path into the environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	port, err := intValue(v, KeyPort)
	if err != nil {
		return Config{}, err
	}

	cacheTTL, err := millis(v, KeyCacheTTL)
	if err != nil {
		return Config{}, err
	}

	upstreamTimeout, err := millis(v, KeyUpstreamTimeout)
	if err != nil {
		return Config{}, err
	}

	sweepInterval, err := millis(v, KeyCacheSweepInterval)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:               port,
		CacheTTL:           cacheTTL,
		UpstreamTimeout:    upstreamTimeout,
		UserAgent:          strings.TrimSpace(v.GetString(KeyUserAgent)),
		CacheBackend:       strings.ToLower(strings.TrimSpace(v.GetString(KeyCacheBackend))),
		RedisURL:           strings.TrimSpace(v.GetString(KeyRedisURL)),
		CacheSweepInterval: sweepInterval,
		LogLevel:           strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		LogPretty:          v.GetBool(KeyLogPretty),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges, enums and required fields.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.UpstreamTimeout, validation.Required),
		validation.Field(&c.UserAgent, validation.Required),
		validation.Field(&c.CacheBackend, validation.Required, validation.In(BackendMemory, BackendRedis)),
		validation.Field(&c.RedisURL, validation.When(c.CacheBackend == BackendRedis, validation.Required)),
		validation.Field(&c.LogLevel, validation.Required, validation.By(knownLogLevel)),
	)
}

func knownLogLevel(value any) error {
	level, _ := value.(string)
	if !logging.ValidLevel(level) {
		return errors.New("must be debug, info, warn or error")
	}
	return nil
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// intValue reads key as an integer. viper.GetInt silently turns garbage
// into 0, so the raw value is parsed here instead.
func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, raw)
	}
	return n, nil
}

// millis reads key as a non-negative number of milliseconds.
func millis(v *viper.Viper, key string) (time.Duration, error) {
	n, err := intValue(v, key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}
