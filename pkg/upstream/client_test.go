package upstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/feed-proxy/internal/testutil"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

func newTestClient(t *testing.T, timeout time.Duration) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Timeout = timeout
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "default config",
			config:      DefaultConfig(),
			expectError: false,
		},
		{
			name: "empty user agent",
			config: Config{
				Timeout: time.Second,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "zero timeout",
			config: Config{
				UserAgent: "TestProxy/1.0",
			},
			expectError: true,
			errorMsg:    "timeout must be positive (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 4*time.Second {
		t.Errorf("Timeout = %v, want 4s", cfg.Timeout)
	}
	if cfg.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, DefaultUserAgent)
	}
}

func TestFetch_Success(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/feed.xml", testutil.NewFeedResponse(testutil.SampleFeed))

	c := newTestClient(t, DefaultTimeout)

	result, err := c.Fetch(context.Background(), origin.URL()+"/feed.xml")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.ContentType != "application/rss+xml; charset=utf-8" {
		t.Errorf("ContentType = %q", result.ContentType)
	}
	if string(result.Body) != testutil.SampleFeed {
		t.Errorf("Body = %q, want sample feed", result.Body)
	}
}

func TestFetch_RequestHeaders(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/feed.xml", testutil.NewFeedResponse("<rss/>"))

	cfg := DefaultConfig()
	cfg.UserAgent = "TestProxy/2.0 (+https://example.com)"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, err := c.Fetch(context.Background(), origin.URL()+"/feed.xml"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	headers := origin.LastRequestHeader()
	if got := headers.Get("User-Agent"); got != cfg.UserAgent {
		t.Errorf("User-Agent = %q, want %q", got, cfg.UserAgent)
	}
	if got := headers.Get("Accept"); got != AcceptHeader {
		t.Errorf("Accept = %q, want %q", got, AcceptHeader)
	}
	if got := headers.Get("Accept-Encoding"); got != acceptEncoding {
		t.Errorf("Accept-Encoding = %q, want %q", got, acceptEncoding)
	}
}

func TestFetch_DefaultContentType(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetHandler("/raw", func(w http.ResponseWriter, r *http.Request) {
		// Suppress net/http content sniffing.
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<feed/>"))
	})

	c := newTestClient(t, DefaultTimeout)

	result, err := c.Fetch(context.Background(), origin.URL()+"/raw")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.ContentType != DefaultContentType {
		t.Errorf("ContentType = %q, want %q", result.ContentType, DefaultContentType)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		resp   testutil.MockResponse
		status int
	}{
		{name: "not found", resp: testutil.NewNotFoundResponse(), status: http.StatusNotFound},
		{name: "server error", resp: testutil.NewServerErrorResponse(), status: http.StatusInternalServerError},
		{name: "not modified", resp: testutil.MockResponse{StatusCode: http.StatusNotModified}, status: http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := testutil.NewMockOrigin()
			defer origin.Close()
			origin.SetResponse("/feed", tt.resp)

			c := newTestClient(t, DefaultTimeout)

			_, err := c.Fetch(context.Background(), origin.URL()+"/feed")

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Expected *FetchError, got %v", err)
			}
			if !fetchErr.IsStatus() {
				t.Errorf("Class = %s, want %s", fetchErr.Class, ErrorClassStatus)
			}
			if fetchErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, tt.status)
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/slow", testutil.NewSlowResponse("<rss/>", 5*time.Second))

	c := newTestClient(t, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Fetch(context.Background(), origin.URL()+"/slow")
	elapsed := time.Since(start)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	if fetchErr.Class != ErrorClassTimeout {
		t.Errorf("Class = %s, want %s", fetchErr.Class, ErrorClassTimeout)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(err, ErrTimeout) = false for %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, the deadline did not abort the call", elapsed)
	}

	// The origin sees the abandoned request.
	deadline := time.Now().Add(2 * time.Second)
	for origin.CancelledCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("origin never observed the cancelled request")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFetch_DeadlineOnlyCoversHeaders(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetHandler("/trickle", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("<feed/>"))
	})

	c := newTestClient(t, 50*time.Millisecond)

	result, err := c.Fetch(context.Background(), origin.URL()+"/trickle")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(result.Body) != "<feed/>" {
		t.Errorf("Body = %q", result.Body)
	}
}

func TestFetch_NetworkError(t *testing.T) {
	origin := testutil.NewMockOrigin()
	url := origin.URL() + "/feed"
	origin.Close()

	c := newTestClient(t, DefaultTimeout)

	_, err := c.Fetch(context.Background(), url)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	if fetchErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %s, want %s", fetchErr.Class, ErrorClassNetwork)
	}
	if fetchErr.IsStatus() {
		t.Error("network failure must not be reported as a status failure")
	}
}

func TestFetch_ParentContextCancelled(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/slow", testutil.NewSlowResponse("<rss/>", 5*time.Second))

	c := newTestClient(t, DefaultTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, origin.URL()+"/slow")

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	if fetchErr.IsStatus() {
		t.Errorf("Class = %s, want a transport class", fetchErr.Class)
	}
}

func TestFetch_InvalidRequest(t *testing.T) {
	c := newTestClient(t, DefaultTimeout)

	_, err := c.Fetch(context.Background(), "http://exa mple.com/")

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	if fetchErr.Class != ErrorClassRequest {
		t.Errorf("Class = %s, want %s", fetchErr.Class, ErrorClassRequest)
	}
}

func TestFetch_DecodesContentEncoding(t *testing.T) {
	var gzipped bytes.Buffer
	gw := gzip.NewWriter(&gzipped)
	gw.Write([]byte(testutil.SampleFeed))
	gw.Close()

	var brotlied bytes.Buffer
	bw := brotli.NewWriter(&brotlied)
	bw.Write([]byte(testutil.SampleFeed))
	bw.Close()

	tests := []struct {
		name     string
		encoding string
		payload  []byte
	}{
		{name: "gzip", encoding: "gzip", payload: gzipped.Bytes()},
		{name: "brotli", encoding: "br", payload: brotlied.Bytes()},
		{name: "identity", encoding: "", payload: []byte(testutil.SampleFeed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := testutil.NewMockOrigin()
			defer origin.Close()
			origin.SetHandler("/feed", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/rss+xml")
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				w.WriteHeader(http.StatusOK)
				w.Write(tt.payload)
			})

			c := newTestClient(t, DefaultTimeout)

			result, err := c.Fetch(context.Background(), origin.URL()+"/feed")
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if string(result.Body) != testutil.SampleFeed {
				t.Errorf("Body = %q, want decoded sample feed", result.Body)
			}
		})
	}
}

func TestFetch_UnknownEncodingPassthrough(t *testing.T) {
	for _, encoding := range []string{"utf-8", "none", "UTF8"} {
		t.Run(encoding, func(t *testing.T) {
			origin := testutil.NewMockOrigin()
			defer origin.Close()
			origin.SetHandler("/feed", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/rss+xml")
				w.Header().Set("Content-Encoding", encoding)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(testutil.SampleFeed))
			})

			c := newTestClient(t, DefaultTimeout)

			result, err := c.Fetch(context.Background(), origin.URL()+"/feed")
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if string(result.Body) != testutil.SampleFeed {
				t.Errorf("Body = %q, want sample feed unchanged", result.Body)
			}
		})
	}
}

func TestFetch_CorruptEncoding(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetHandler("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not gzip at all"))
	})

	c := newTestClient(t, DefaultTimeout)

	_, err := c.Fetch(context.Background(), origin.URL()+"/feed")

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	if fetchErr.Class != ErrorClassBody {
		t.Errorf("Class = %s, want %s", fetchErr.Class, ErrorClassBody)
	}
}
