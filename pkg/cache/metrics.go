package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

var (
	// CacheHits tracks cache hits by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedproxy_cache_hits_total",
			Help: "Total number of feed proxy cache hits",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses, including expired entries
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedproxy_cache_misses_total",
			Help: "Total number of feed proxy cache misses",
		},
		[]string{"backend"},
	)

	// CacheEntries tracks how many entries a backend currently holds
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedproxy_cache_entries",
			Help: "Current number of entries held by the cache",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedproxy_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "sweep"
	)
)
