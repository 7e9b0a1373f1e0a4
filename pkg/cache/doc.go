// Package cache provides the TTL response store used by the feed proxy.
//
// A Store maps the raw target URL, exactly as the client sent it, to the most
// recent successful upstream response. Every entry expires a fixed TTL after it
// was written. Expired entries are never served: the lookup that finds one
// deletes it and reports ErrCacheMiss.
//
// # Backends
//
// MemoryStore is the default. It keeps entries in a map guarded by a mutex and
// loses everything on restart.
//
//	store := cache.NewMemoryStore(2 * time.Minute)
//
//	if err := store.Put(ctx, rawURL, "application/rss+xml", body); err != nil {
//		return err
//	}
//
//	entry, err := store.Get(ctx, rawURL)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from upstream
//	}
//
// RedisStore shares entries between proxy instances. Entries are JSON encoded
// and written with a matching PX expiry so Redis reclaims them on its own.
//
//	store := cache.NewRedisStore(redisClient, 2*time.Minute)
//
// # Growth
//
// Neither backend bounds the number of entries. A MemoryStore only reclaims an
// expired entry when the same key is read again, unless a sweeper is started
// with StartSweeper.
//
// # Metrics
//
//   - feedproxy_cache_hits_total{backend} - Cache hits
//   - feedproxy_cache_misses_total{backend} - Cache misses (absent or expired)
//   - feedproxy_cache_entries{backend} - Entries currently held (memory only)
//   - feedproxy_cache_errors_total{operation} - Backend operation errors
package cache
