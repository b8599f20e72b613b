package httpx

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ia-tools/ia-get/internal/constants"
)

// ErrorType represents the classes of request failure the retry layers
// distinguish between.
type ErrorType int

const (
	// ErrorTypeSuccess indicates the request succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeTransient indicates network hiccups and 5xx responses worth retrying
	ErrorTypeTransient
	// ErrorTypeRateLimited indicates HTTP 429
	ErrorTypeRateLimited
	// ErrorTypeNotFound indicates HTTP 404
	ErrorTypeNotFound
	// ErrorTypePermanent indicates everything not worth retrying
	ErrorTypePermanent
)

// StatusError is returned when a request completes with an unexpected
// HTTP status code.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
}

// RateLimitedError is returned for HTTP 429 responses. RetryAfter carries
// the server's Retry-After value, or the default wait when absent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// NewStatusError builds the error matching a non-2xx response, consuming
// no body. 429 responses become RateLimitedError so callers can honor the
// advertised wait.
func NewStatusError(resp *nethttp.Response) error {
	if resp.StatusCode == nethttp.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: ParseRetryAfter(resp)}
	}
	return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
}

// ParseRetryAfter reads the Retry-After header of a 429 response.
// Only the delta-seconds form is produced by the archive; absent or
// malformed values fall back to the default wait.
func ParseRetryAfter(resp *nethttp.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return constants.RateLimitDefaultWait
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs < 0 {
		return constants.RateLimitDefaultWait
	}
	return time.Duration(secs) * time.Second
}

// Classify determines the error type for retry strategy.
//
// Typed errors from this package classify by status code; anything else
// falls back to message inspection, which catches the long tail of
// net/url and TLS errors without enumerating their concrete types.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return ErrorTypeRateLimited
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == nethttp.StatusNotFound:
			return ErrorTypeNotFound
		case se.StatusCode == nethttp.StatusNotImplemented:
			return ErrorTypePermanent
		case se.StatusCode >= 500:
			return ErrorTypeTransient
		default:
			return ErrorTypePermanent
		}
	}

	// Cancellation is never retried; surface it as permanent so retry
	// loops unwind promptly.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypePermanent
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof") {
		return ErrorTypeTransient
	}

	return ErrorTypePermanent
}

// ErrorTypeName returns a human-readable name for an ErrorType.
func ErrorTypeName(t ErrorType) string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeRateLimited:
		return "rate-limited"
	case ErrorTypeNotFound:
		return "not-found"
	case ErrorTypePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}
