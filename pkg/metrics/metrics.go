// Package metrics exposes the feed proxy's Prometheus registry, the HTTP
// instrumentation shared by every route and the /metrics handler.
// Domain metrics are defined in their own packages (cache, upstream, proxy)
// to avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedproxy_http_requests_total",
		Help: "Total inbound HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedproxy_http_request_duration_seconds",
		Help:    "Inbound HTTP request duration in seconds by route",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"route", "method", "code"})
)

// Instrument wraps h so its requests are counted and timed under route.
func Instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		httpRequestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(httpRequestsTotal.MustCurryWith(labels), h),
	)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - feedproxy_cache_hits_total{backend} (Counter): Cache hits by backend (memory, redis)
//   - feedproxy_cache_misses_total{backend} (Counter): Cache misses, expired entries included
//   - feedproxy_cache_entries{backend} (Gauge): Entries held by the memory backend
//   - feedproxy_cache_errors_total{operation} (Counter): Cache operation errors
//
// Upstream Metrics (pkg/upstream):
//   - feedproxy_upstream_requests_total{outcome} (Counter): Fetches by outcome
//     (ok, status, timeout, network, body, request)
//   - feedproxy_upstream_request_duration_seconds (Histogram): Fetch duration, body included
//
// Proxy Metrics (pkg/proxy):
//   - feedproxy_proxy_responses_total{kind} (Counter): hit, miss, missing_parameter,
//     invalid_url, upstream_failure, proxy_error
//
// HTTP Metrics (pkg/metrics):
//   - feedproxy_http_requests_total{route, method, code} (Counter)
//   - feedproxy_http_request_duration_seconds{route, method, code} (Histogram)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(feedproxy_cache_hits_total[5m])) /
//   (sum(rate(feedproxy_cache_hits_total[5m])) + sum(rate(feedproxy_cache_misses_total[5m])))
//
//   # Upstream Timeout Rate
//   rate(feedproxy_upstream_requests_total{outcome="timeout"}[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(feedproxy_upstream_request_duration_seconds_bucket[5m]))
