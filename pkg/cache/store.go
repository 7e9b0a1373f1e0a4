package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long an entry lives when CACHE_TTL is not set.
const DefaultTTL = 120 * time.Second

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a key-value store of upstream responses with per-entry expiry.
//
// Get and Put are each atomic for a given key. Nothing spans multiple keys.
type Store interface {
	// Get returns the live entry for key, or ErrCacheMiss. An expired entry
	// is deleted before ErrCacheMiss is returned.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or overwrites the entry for key. It expires TTL from now.
	Put(ctx context.Context, key, contentType string, body []byte) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
