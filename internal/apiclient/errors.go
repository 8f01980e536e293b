package apiclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidResponse marks a 2xx response whose body could not be decoded.
var ErrInvalidResponse = errors.New("invalid response body")

// TransportError is a request that never produced a response: connection
// refused, DNS failure, reset, and the like.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is a request that exceeded the client's fixed bound or the
// caller's deadline.
type TimeoutError struct {
	Method  string
	Path    string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Method, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UnauthorizedError is an HTTP 401. The stored token has already been
// evicted by the time the caller sees it.
type UnauthorizedError struct {
	Method string
	Path   string
	Body   []byte
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s %s: unauthorized", e.Method, e.Path)
}

// StatusError is any other non-2xx response. Body is the remote payload,
// untouched.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, truncate(string(e.Body), 256))
}

func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
