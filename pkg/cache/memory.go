package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-process Store. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewMemoryStore creates an empty in-memory store whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl < 0 {
		panic("cache ttl cannot be negative")
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  log.With().Str("component", "cache").Str("backend", backendMemory).Logger(),
	}
}

// Get retrieves a live entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpiredAt(s.now()) {
		delete(s.entries, key)
		CacheEntries.WithLabelValues(backendMemory).Dec()
		CacheMisses.WithLabelValues(backendMemory).Inc()
		s.logger.Debug().Str("key", key).Msg("Expired entry removed")
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendMemory).Inc()

	// Callers get a copy so a later Put cannot change what they are serving.
	clone := *entry
	return &clone, nil
}

// Put stores body under key, replacing any previous entry.
func (s *MemoryStore) Put(_ context.Context, key, contentType string, body []byte) error {
	now := s.now()
	entry := &Entry{
		ContentType: contentType,
		Body:        body,
		ExpiresAt:   now.Add(s.ttl),
		CachedAt:    now,
	}

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		CacheEntries.WithLabelValues(backendMemory).Inc()
	}
	s.entries[key] = entry
	s.mu.Unlock()

	return nil
}

// Len returns the number of entries held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep deletes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.IsExpiredAt(now) {
			delete(s.entries, key)
			removed++
		}
	}
	CacheEntries.WithLabelValues(backendMemory).Sub(float64(removed))
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
// Without it expired entries are only reclaimed when their key is read.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					s.logger.Debug().Int("removed", removed).Msg("Swept expired entries")
				}
			}
		}
	}()
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	CacheEntries.WithLabelValues(backendMemory).Sub(float64(len(s.entries)))
	s.entries = make(map[string]*Entry)
	return nil
}
