package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/httpx"
	"github.com/ia-tools/ia-get/internal/logging"
)

// malformedSnippetLimit bounds how much of a bad response body is kept
// for diagnostics.
const malformedSnippetLimit = 512

// UnreachableError is returned when the metadata endpoint stays
// unreachable after the transient retry budget is spent.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("metadata unreachable at %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedError is returned when the endpoint answered but the document
// could not be parsed. Snippet holds a bounded prefix of the body.
type MalformedError struct {
	URL     string
	Snippet string
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed metadata from %s: %v (body starts %q)", e.URL, e.Err, e.Snippet)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Fetcher retrieves and parses item metadata with retry/backoff.
type Fetcher struct {
	retry  *retryablehttp.Client
	logger *logging.Logger
}

// retryLogger adapts our logger to the retryablehttp.LeveledLogger interface.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Retry attempts are already surfaced at warn level.
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// NewFetcher wraps the shared HTTP client with the metadata retry policy:
// up to MetadataRetryMax retries on transient failures, exponential backoff
// from 30s doubling to a 600s cap. Rate limiting is handled outside the
// retry budget in Fetch.
func NewFetcher(client *nethttp.Client, logger *logging.Logger) *Fetcher {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.RetryMax = constants.MetadataRetryMax
	rc.RetryWaitMin = constants.MetadataBackoffInitial
	rc.RetryWaitMax = constants.MetadataBackoffCap
	rc.Logger = &retryLogger{logger: logger}
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Fetcher{retry: rc, logger: logger}
}

// checkRetry retries transient failures only: connection-level errors and
// 5xx responses other than 501. Everything else, 429 included, is handed
// back to Fetch for its own handling.
func checkRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return httpx.Classify(err) == httpx.ErrorTypeTransient, nil
	}
	if resp.StatusCode >= 500 && resp.StatusCode != nethttp.StatusNotImplemented {
		return true, nil
	}
	return false, nil
}

// Fetch GETs the metadata document and parses it into the typed model.
//
// HTTP 429 honors Retry-After (default 60s) and does not count against
// the transient retry budget; the loop simply waits and goes again.
func (f *Fetcher) Fetch(ctx context.Context, metadataURL string) (*ItemMetadata, error) {
	for {
		item, retryAfter, err := f.fetchOnce(ctx, metadataURL)
		if err != nil {
			return nil, err
		}
		if retryAfter > 0 {
			f.logger.Warn().
				Str("url", metadataURL).
				Dur("retry_after", retryAfter).
				Msg("Metadata endpoint rate limited, waiting")
			if waitErr := sleepCtx(ctx, retryAfter); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return item, nil
	}
}

// fetchOnce performs one metadata request cycle. A positive retryAfter
// with nil error signals a 429 that the caller should wait out.
func (f *Fetcher) fetchOnce(ctx context.Context, metadataURL string) (*ItemMetadata, time.Duration, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := f.retry.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &UnreachableError{URL: metadataURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == nethttp.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		wait := httpx.ParseRetryAfter(resp)
		if wait <= 0 {
			wait = time.Second
		}
		return nil, wait, nil
	case resp.StatusCode >= 500:
		// Retry budget exhausted inside retryablehttp.
		return nil, 0, &UnreachableError{URL: metadataURL, Err: httpx.NewStatusError(resp)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, 0, &UnreachableError{URL: metadataURL, Err: httpx.NewStatusError(resp)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &UnreachableError{URL: metadataURL, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	var item ItemMetadata
	if err := json.Unmarshal(body, &item); err != nil {
		snippet := body
		if len(snippet) > malformedSnippetLimit {
			snippet = snippet[:malformedSnippetLimit]
		}
		return nil, 0, &MalformedError{URL: metadataURL, Snippet: string(snippet), Err: err}
	}

	if len(item.Files) == 0 {
		f.logger.Warn().Str("url", metadataURL).Msg("Metadata document lists no files")
	}

	return &item, 0, nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
