package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// deleteIfUnchanged removes KEYS[1] only while it still holds ARGV[1], so an
// expired entry observed by Get never takes a concurrent fresh Put with it.
var deleteIfUnchanged = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is a Store backed by Redis, shared by every proxy instance that
// points at the same server.
type RedisStore struct {
	redis  redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewRedisStore creates a store on top of an existing Redis client.
func NewRedisStore(redisClient redis.UniversalClient, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl < 0 {
		panic("cache ttl cannot be negative")
	}
	return &RedisStore{
		redis:  redisClient,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
		logger: log.With().Str("component", "cache").Str("backend", backendRedis).Logger(),
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	cacheKey := redisKey(s.prefix, key)

	data, err := s.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis normally drops the key first; this covers clock skew between
	// the proxy and the server.
	if entry.IsExpired() {
		if err := deleteIfUnchanged.Run(ctx, s.redis, []string{cacheKey}, data).Err(); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete expired entry")
		}
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return &entry, nil
}

// Put stores an entry that Redis expires after the store TTL.
func (s *RedisStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	now := time.Now()
	entry := &Entry{
		ContentType: contentType,
		Body:        body,
		ExpiresAt:   now.Add(s.ttl),
		CachedAt:    now,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// A zero expiration means "keep forever" to Redis.
	expiration := s.ttl
	if expiration < time.Millisecond {
		expiration = time.Millisecond
	}

	if err := s.redis.Set(ctx, redisKey(s.prefix, key), data, expiration).Err(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
