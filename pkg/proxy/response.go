package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorKind classifies a failed proxy request.
type ErrorKind string

const (
	// KindMissingParameter means the url query parameter was absent or empty.
	KindMissingParameter ErrorKind = "missing_parameter"

	// KindInvalidURL means the target is not an absolute http(s) URL.
	KindInvalidURL ErrorKind = "invalid_url"

	// KindUpstreamFailure means the origin answered outside 200-299.
	KindUpstreamFailure ErrorKind = "upstream_failure"

	// KindProxyError means the origin could not be fetched at all.
	KindProxyError ErrorKind = "proxy_error"
)

// Error messages sent to clients.
const (
	msgMissingParameter = "Missing url param"
	msgInvalidURL       = "Invalid url"
	msgUpstreamFailure  = "Upstream fetch failed"
	msgProxyError       = "Proxy error"
)

const (
	// HeaderFromCache is "1" for cached responses and "0" for fresh ones.
	HeaderFromCache = "X-From-Cache"

	// clientCacheControl lets browsers and CDNs keep any success for a minute.
	clientCacheControl = "public, max-age=60"

	jsonContentType = "application/json; charset=utf-8"
)

// Response is the complete outcome of one proxy request. The body is always
// fully buffered.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is true when the body came from the store.
	FromCache bool

	// Kind is empty on success.
	Kind ErrorKind
}

// errorBody is the JSON payload of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func successResponse(contentType string, body []byte, fromCache bool) *Response {
	fromCacheValue := "0"
	if fromCache {
		fromCacheValue = "1"
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", clientCacheControl)
	header.Set(HeaderFromCache, fromCacheValue)

	return &Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       body,
		FromCache:  fromCache,
	}
}

func errorResponse(kind ErrorKind, statusCode int, payload errorBody) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		// errorBody only holds strings and ints.
		body = []byte(`{"error":"` + msgProxyError + `"}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", jsonContentType)

	return &Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
		Kind:       kind,
	}
}

// Write sends the response to w.
func (r *Response) Write(w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))

	w.WriteHeader(r.StatusCode)

	_, err := w.Write(r.Body)
	return err
}
