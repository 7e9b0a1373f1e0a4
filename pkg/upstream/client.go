// Package upstream performs the time-boxed origin fetch behind the feed proxy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream fetches.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedproxy_upstream_requests_total",
		Help: "Total upstream fetches by outcome",
	}, []string{"outcome"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedproxy_upstream_request_duration_seconds",
		Help:    "Upstream fetch duration in seconds, body included",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	})
)

const (
	// DefaultTimeout bounds the wait for upstream response headers.
	DefaultTimeout = 4 * time.Second

	// DefaultUserAgent identifies the proxy to origin servers.
	DefaultUserAgent = "FeedProxy/1.0 (+https://github.com/Sternrassler/feed-proxy)"

	// AcceptHeader prefers feed formats, then JSON, then anything.
	AcceptHeader = "application/rss+xml, application/xml, text/xml, application/json;q=0.9, */*;q=0.8"

	// DefaultContentType is used when the upstream sends no Content-Type.
	DefaultContentType = "text/xml; charset=utf-8"

	// overallTimeout caps a whole fetch, body included, so a trickling
	// origin cannot hold a request forever.
	overallTimeout = 30 * time.Second
)

// Result is a successful upstream response with its body fully read.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent on every upstream request.
	UserAgent string

	// Timeout is how long to wait for response headers before aborting.
	Timeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// Client fetches target URLs from origin servers.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: overallTimeout,
		},
		config: cfg,
		logger: log.With().Str("component", "upstream").Logger(),
	}, nil
}

// Fetch retrieves rawURL with a GET request.
//
// A deadline timer cancels the call if response headers have not arrived
// within the configured timeout. Every failure is returned as a *FetchError:
// ErrorClassStatus for non-2xx answers, any other class for transport
// problems. Nothing is retried.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	deadline := time.AfterFunc(c.config.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer deadline.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(string(ErrorClassRequest)).Inc()
		return nil, &FetchError{Class: ErrorClassRequest, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	c.logger.Debug().
		Str("url", rawURL).
		Msg("Fetching upstream")

	resp, err := c.httpClient.Do(req)
	// Headers are in: the deadline no longer applies.
	deadline.Stop()

	if err != nil {
		fetchErr := c.transportError(err, &timedOut)
		upstreamRequestsTotal.WithLabelValues(string(fetchErr.Class)).Inc()
		c.logger.Error().
			Err(err).
			Str("url", rawURL).
			Str("error_class", string(fetchErr.Class)).
			Msg("Upstream request failed")
		return nil, fetchErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)

		upstreamRequestsTotal.WithLabelValues(string(ErrorClassStatus)).Inc()
		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Msg("Upstream returned non-success status")
		return nil, &FetchError{Class: ErrorClassStatus, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fetchErr := c.transportError(fmt.Errorf("read response body: %w", err), &timedOut)
		if fetchErr.Class == ErrorClassNetwork {
			fetchErr.Class = ErrorClassBody
		}
		upstreamRequestsTotal.WithLabelValues(string(fetchErr.Class)).Inc()
		c.logger.Error().Err(err).Str("url", rawURL).Msg("Failed to read upstream body")
		return nil, fetchErr
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"), c.logger.With().Str("url", rawURL).Logger())
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(string(ErrorClassBody)).Inc()
		c.logger.Error().Err(err).Str("url", rawURL).Msg("Failed to decode upstream body")
		return nil, &FetchError{Class: ErrorClassBody, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}

	upstreamRequestsTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(startTime)).
		Msg("Upstream fetch succeeded")

	return &Result{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// transportError classifies a failed round trip.
func (c *Client) transportError(err error, timedOut *atomic.Bool) *FetchError {
	if timedOut.Load() {
		return &FetchError{
			Class: ErrorClassTimeout,
			Err:   fmt.Errorf("%w: no response within %s: %w", ErrTimeout, c.config.Timeout, err),
		}
	}

	var netTimeout interface{ Timeout() bool }
	if errors.As(err, &netTimeout) && netTimeout.Timeout() {
		return &FetchError{Class: ErrorClassTimeout, Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}

	return &FetchError{Class: ErrorClassNetwork, Err: err}
}
