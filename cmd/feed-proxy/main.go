package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/feed-proxy/pkg/cache"
	"github.com/Sternrassler/feed-proxy/pkg/config"
	"github.com/Sternrassler/feed-proxy/pkg/logging"
	"github.com/Sternrassler/feed-proxy/pkg/proxy"
	"github.com/Sternrassler/feed-proxy/pkg/server"
	"github.com/Sternrassler/feed-proxy/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand(config.NewViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the feed-proxy command reading settings through v.
// Flags override environment variables, which override the built-in defaults.
func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "feed-proxy",
		Short:         "CORS-enabled caching proxy for RSS, XML and JSON feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}

			logging.Setup(loggingConfig(cfg))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("Feed proxy failed")
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 3000, "listen port (PORT)")
	flags.Int("cache-ttl", int(cache.DefaultTTL.Milliseconds()), "cache entry lifetime in milliseconds (CACHE_TTL)")
	flags.Int("upstream-timeout", int(upstream.DefaultTimeout.Milliseconds()), "upstream header timeout in milliseconds (UPSTREAM_TIMEOUT)")
	flags.String("user-agent", upstream.DefaultUserAgent, "User-Agent sent upstream (USER_AGENT)")
	flags.String("cache-backend", config.BackendMemory, "cache backend: memory or redis (CACHE_BACKEND)")
	flags.String("redis-url", "localhost:6379", "redis address for the redis backend (REDIS_URL)")
	flags.Int("cache-sweep-interval", 0, "memory cache sweep interval in milliseconds, 0 disables (CACHE_SWEEP_INTERVAL)")
	flags.String("log-level", string(logging.LevelInfo), "log level: debug, info, warn, error (LOG_LEVEL)")
	flags.Bool("log-pretty", false, "human-readable console logs (LOG_PRETTY)")

	bindFlags(v, cmd)

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	bindings := map[string]string{
		config.KeyPort:               "port",
		config.KeyCacheTTL:           "cache-ttl",
		config.KeyUpstreamTimeout:    "upstream-timeout",
		config.KeyUserAgent:          "user-agent",
		config.KeyCacheBackend:       "cache-backend",
		config.KeyRedisURL:           "redis-url",
		config.KeyCacheSweepInterval: "cache-sweep-interval",
		config.KeyLogLevel:           "log-level",
		config.KeyLogPretty:          "log-pretty",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// loggingConfig applies the configured level and format to the logging defaults.
func loggingConfig(cfg config.Config) logging.Config {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	return logCfg
}

func closeStore(store cache.Store) {
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close cache store")
	}
}

// run wires the proxy and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	fetcher, err := upstream.New(upstream.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.UpstreamTimeout,
	})
	if err != nil {
		closeStore(store)
		return fmt.Errorf("create upstream client: %w", err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Str("cache_backend", cfg.CacheBackend).
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("upstream_timeout", cfg.UpstreamTimeout).
		Str("user_agent", cfg.UserAgent).
		Msg("Starting feed proxy")

	srv := server.New(server.Config{Addr: cfg.Addr()}, proxy.New(store, fetcher), store)
	return srv.Run(ctx)
}

// newStore creates the configured cache backend. The memory sweeper, when
// enabled, stops with ctx.
func newStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		log.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
		return cache.NewRedisStore(redisClient, cfg.CacheTTL), nil

	default:
		store := cache.NewMemoryStore(cfg.CacheTTL)
		if cfg.CacheSweepInterval > 0 {
			store.StartSweeper(ctx, cfg.CacheSweepInterval)
		}
		return store, nil
	}
}
