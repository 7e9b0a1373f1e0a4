package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/feed-proxy/pkg/cache"
	"github.com/Sternrassler/feed-proxy/pkg/config"
	"github.com/Sternrassler/feed-proxy/pkg/logging"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// brokenStore fails to close.
type brokenStore struct {
	*cache.MemoryStore
}

func (brokenStore) Close() error { return errors.New("connection reset") }

func TestRootCommand_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_TTL", "30000")

	v := config.NewViper()
	cmd := newRootCommand(v)
	if err := cmd.ParseFlags([]string{"--port", "8081", "--log-level", "debug"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8081 {
		t.Errorf("Port = %d, want 8081 (flag)", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s (environment)", cfg.CacheTTL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.UpstreamTimeout != 4*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 4s (default)", cfg.UpstreamTimeout)
	}
}

func TestRootCommand_InvalidConfiguration(t *testing.T) {
	cmd := newRootCommand(config.NewViper())
	cmd.SetArgs([]string{"--cache-backend", "memcached"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected error for unknown cache backend")
	}
}

func TestNewStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  config.Config{CacheBackend: config.BackendMemory, CacheTTL: time.Minute},
			want: "*cache.MemoryStore",
		},
		{
			name: "memory with sweeper",
			cfg:  config.Config{CacheBackend: config.BackendMemory, CacheTTL: time.Minute, CacheSweepInterval: time.Second},
			want: "*cache.MemoryStore",
		},
		{
			name: "redis",
			cfg:  config.Config{CacheBackend: config.BackendRedis, CacheTTL: time.Minute, RedisURL: mr.Addr()},
			want: "*cache.RedisStore",
		},
		{
			name:    "redis unreachable",
			cfg:     config.Config{CacheBackend: config.BackendRedis, CacheTTL: time.Minute, RedisURL: "127.0.0.1:1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := newStore(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newStore failed: %v", err)
			}
			defer store.Close()

			switch store.(type) {
			case *cache.MemoryStore:
				if tt.want != "*cache.MemoryStore" {
					t.Errorf("store type = *cache.MemoryStore, want %s", tt.want)
				}
			case *cache.RedisStore:
				if tt.want != "*cache.RedisStore" {
					t.Errorf("store type = *cache.RedisStore, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected store type %T", store)
			}

			if err := store.Put(ctx, "https://example.com/feed.xml", "text/xml", []byte("<rss/>")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			entry, err := store.Get(ctx, "https://example.com/feed.xml")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(entry.Body) != "<rss/>" {
				t.Errorf("Body = %q, want <rss/>", entry.Body)
			}
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	got := loggingConfig(config.Config{LogLevel: "warn", LogPretty: true})

	if got.Level != logging.LevelWarn {
		t.Errorf("Level = %q, want warn", got.Level)
	}
	if !got.Pretty {
		t.Error("Pretty = false, want true")
	}
	if got.Output != os.Stderr {
		t.Error("Output should default to stderr")
	}
}

func TestCloseStore_LogsError(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = previous }()

	closeStore(brokenStore{MemoryStore: cache.NewMemoryStore(time.Minute)})

	if !strings.Contains(buf.String(), "Failed to close cache store") {
		t.Errorf("log output = %q, want close failure", buf.String())
	}
	if !strings.Contains(buf.String(), "connection reset") {
		t.Errorf("log output = %q, want the close error", buf.String())
	}
}
