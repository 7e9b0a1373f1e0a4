// Package server wires the feed proxy's HTTP surface: routing, CORS, access
// logging, panic recovery, metrics and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/feed-proxy/pkg/cache"
	"github.com/Sternrassler/feed-proxy/pkg/logging"
	"github.com/Sternrassler/feed-proxy/pkg/metrics"
	"github.com/Sternrassler/feed-proxy/pkg/proxy"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// HealthBody is the plain-text body served on GET /.
const HealthBody = "Feed Proxy OK"

const (
	// DefaultShutdownTimeout bounds how long Run waits for in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second

	readyTimeout      = 2 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Server serves the proxy endpoint, health, readiness and metrics.
type Server struct {
	cfg     Config
	handler http.Handler
	store   cache.Store
	logger  zerolog.Logger
}

// New builds a server that answers /proxy with orchestrator and reports
// readiness from store.
func New(cfg Config, orchestrator *proxy.Orchestrator, store cache.Store) *Server {
	if orchestrator == nil {
		panic("orchestrator cannot be nil")
	}
	if store == nil {
		panic("cache store cannot be nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logging.NewLogger("server"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", metrics.Instrument("health", http.HandlerFunc(healthHandler)))
	mux.Handle("GET /proxy", metrics.Instrument("proxy", orchestrator))
	mux.Handle("GET /ready", metrics.Instrument("ready", http.HandlerFunc(s.readyHandler)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("OPTIONS /", optionsHandler)
	mux.Handle("/", http.NotFoundHandler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	})

	var h http.Handler = mux
	h = s.recoverer(h)
	h = corsHandler.Handler(h)
	h = logging.Middleware(s.logger)(h)
	s.handler = h

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully and closes the cache store.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Feed proxy listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStore()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", s.cfg.ShutdownTimeout).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.closeStore()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info().Msg("Feed proxy stopped")
	return nil
}

func (s *Server) closeStore() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close cache store")
	}
}

// recoverer turns a panic in next into a 500 Proxy error response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Msg("Recovered from handler panic")
			if err := proxy.PanicResponse(rec).Write(w); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to write panic response")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, HealthBody)
}

func optionsHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "cache unavailable")
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
