package download

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ia-tools/ia-get/internal/httpx"
	"github.com/ia-tools/ia-get/internal/verify"
)

// ConfigError reports an invalid download request. It is fatal for the
// whole run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NotFoundError is a per-file fatal error: the delivery servers report
// 404 and no failover will help.
type NotFoundError struct {
	Name string
	URL  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file %s not found at %s", e.Name, e.URL)
}

// CompressionError wraps body-stream failures caused by transfer
// decoding. It is treated as transient for retry purposes.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compressed stream error: %v", e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// SizeMismatchError is returned when the downloaded byte total disagrees
// with the recorded size. The temp file is preserved as a resume point.
type SizeMismatchError struct {
	Name     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Name, e.Expected, e.Actual)
}

// isDecodeError recognizes stream failures coming from the transfer
// decompression layer by message, since the decoder types are private to
// their packages.
func isDecodeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "decode") ||
		strings.Contains(msg, "decompress") ||
		strings.Contains(msg, "gzip") ||
		strings.Contains(msg, "flate")
}

// retriable reports whether a per-attempt error is worth another server
// or another attempt, as opposed to failing the file outright.
func retriable(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	var ce *CompressionError
	if errors.As(err, &ce) {
		return true
	}
	var sm *SizeMismatchError
	if errors.As(err, &sm) {
		// The preserved temp file makes another attempt cheap.
		return true
	}
	var hm *verify.HashMismatchError
	if errors.As(err, &hm) {
		// A different server may hold an uncorrupted copy.
		return true
	}
	switch httpx.Classify(err) {
	case httpx.ErrorTypeTransient, httpx.ErrorTypeRateLimited:
		return true
	case httpx.ErrorTypeNotFound:
		return false
	}
	// Permanent HTTP statuses still rotate to the next server; a different
	// host may not share the fault.
	var se *httpx.StatusError
	return errors.As(err, &se)
}
