package cache

import "strings"

// DefaultKeyPrefix namespaces feed proxy entries in a shared Redis.
const DefaultKeyPrefix = "feedproxy:cache:"

// redisKey builds the Redis key for a raw target URL.
//
// The URL is used verbatim: "http://a/?x=1&y=2" and "http://a/?y=2&x=1" are
// different entries, matching the in-memory store.
func redisKey(prefix, rawURL string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(rawURL))
	b.WriteString(prefix)
	b.WriteString(rawURL)
	return b.String()
}
