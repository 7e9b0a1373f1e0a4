package cache

import (
	"time"
)

// Entry is one cached upstream response.
type Entry struct {
	// ContentType is echoed back to clients as the Content-Type header.
	ContentType string `json:"content_type"`

	// Body is the decoded upstream payload, treated as opaque.
	Body []byte `json:"body"`

	// ExpiresAt is the instant after which the entry must not be served.
	ExpiresAt time.Time `json:"expires_at"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the entry is stale at now.
// An entry is still valid at exactly ExpiresAt.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
