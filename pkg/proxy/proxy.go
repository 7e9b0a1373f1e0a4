// Package proxy implements the fetch-cache-serve pipeline behind /proxy.
//
// Each request is validated, answered from the cache when a live entry
// exists, and otherwise fetched from the origin with a bounded wait. Only
// successful upstream responses are cached. Concurrent misses for the same
// URL each fetch independently and the last write wins.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/feed-proxy/pkg/cache"
	"github.com/Sternrassler/feed-proxy/pkg/target"
	"github.com/Sternrassler/feed-proxy/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var proxyResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedproxy_proxy_responses_total",
	Help: "Total proxy responses by outcome",
}, []string{"kind"}) // "hit", "miss", or an ErrorKind

// Fetcher retrieves a target URL from its origin.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*upstream.Result, error)
}

// Orchestrator runs the fetch-cache-serve pipeline.
type Orchestrator struct {
	store   cache.Store
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates an orchestrator over store and fetcher.
func New(store cache.Store, fetcher Fetcher) *Orchestrator {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		logger:  log.With().Str("component", "proxy").Logger(),
	}
}

// Handle produces the response for a request whose url parameter is rawURL.
// An empty rawURL means the parameter was missing. Handle always returns a
// complete response; failures are encoded in it rather than returned.
func (o *Orchestrator) Handle(ctx context.Context, rawURL string) *Response {
	resp := o.handle(ctx, o.requestLogger(ctx), rawURL)

	kind := "miss"
	switch {
	case resp.Kind != "":
		kind = string(resp.Kind)
	case resp.FromCache:
		kind = "hit"
	}
	proxyResponsesTotal.WithLabelValues(kind).Inc()

	return resp
}

// requestLogger tags the component logger with the request id assigned by
// the access log middleware, when there is one.
func (o *Orchestrator) requestLogger(ctx context.Context) zerolog.Logger {
	if id, ok := hlog.IDFromCtx(ctx); ok {
		return o.logger.With().Str("request_id", id.String()).Logger()
	}
	return o.logger
}

func (o *Orchestrator) handle(ctx context.Context, logger zerolog.Logger, rawURL string) *Response {
	// Step 1: Validate
	if rawURL == "" {
		return errorResponse(KindMissingParameter, http.StatusBadRequest, errorBody{Error: msgMissingParameter})
	}
	if !target.IsAllowed(rawURL) {
		logger.Debug().Str("url", rawURL).Msg("Rejected target URL")
		return errorResponse(KindInvalidURL, http.StatusBadRequest, errorBody{Error: msgInvalidURL})
	}

	// Step 2: Check Cache
	entry, err := o.store.Get(ctx, rawURL)
	switch {
	case err == nil:
		logger.Debug().
			Str("url", rawURL).
			Bool("cache_hit", true).
			Dur("expires_in", entry.TTL()).
			Msg("Serving cached response")
		return successResponse(entry.ContentType, entry.Body, true)
	case !errors.Is(err, cache.ErrCacheMiss):
		// A broken cache must not take the proxy down with it.
		logger.Warn().Err(err).Str("url", rawURL).Msg("Cache get error")
	}

	// Step 3: Fetch from upstream
	result, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return failureResponse(logger, rawURL, err)
	}

	// Step 4: Update Cache
	if err := o.store.Put(ctx, rawURL, result.ContentType, result.Body); err != nil {
		logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to cache response")
	} else {
		logger.Debug().
			Str("url", rawURL).
			Int("bytes", len(result.Body)).
			Msg("Cached response")
	}

	return successResponse(result.ContentType, result.Body, false)
}

// failureResponse maps a fetch error to the client-facing error response.
func failureResponse(logger zerolog.Logger, rawURL string, err error) *Response {
	var fetchErr *upstream.FetchError
	if errors.As(err, &fetchErr) && fetchErr.IsStatus() {
		return errorResponse(KindUpstreamFailure, http.StatusBadGateway, errorBody{
			Error:  msgUpstreamFailure,
			Status: fetchErr.StatusCode,
		})
	}

	logger.Error().Err(err).Str("url", rawURL).Msg("Proxy fetch failed")
	return errorResponse(KindProxyError, http.StatusInternalServerError, errorBody{
		Error:  msgProxyError,
		Detail: err.Error(),
	})
}

// ServeHTTP serves GET /proxy?url=<target>.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := o.Handle(r.Context(), r.URL.Query().Get("url"))
	if err := resp.Write(w); err != nil {
		logger := o.requestLogger(r.Context())
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// PanicResponse is the response sent when the pipeline panics.
func PanicResponse(recovered any) *Response {
	proxyResponsesTotal.WithLabelValues(string(KindProxyError)).Inc()
	return errorResponse(KindProxyError, http.StatusInternalServerError, errorBody{
		Error:  msgProxyError,
		Detail: fmt.Sprint(recovered),
	})
}
