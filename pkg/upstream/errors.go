package upstream

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassStatus is an upstream answer outside 200-299.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassTimeout means no response headers arrived before the deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork covers DNS, connect, TLS and other transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassBody means the response body could not be read or decoded.
	ErrorClassBody ErrorClass = "body"

	// ErrorClassRequest means no request could be built from the URL.
	ErrorClassRequest ErrorClass = "request"
)

// ErrTimeout is wrapped by every FetchError of class ErrorClassTimeout.
var ErrTimeout = errors.New("upstream timeout")

// FetchError describes why an upstream fetch produced no usable response.
type FetchError struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Class == ErrorClassStatus {
		return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("upstream %s error", e.Class)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether the upstream answered, just not with success.
// Every other class is a transport failure.
func (e *FetchError) IsStatus() bool {
	return e.Class == ErrorClassStatus
}
