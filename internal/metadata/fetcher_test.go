package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ia-tools/ia-get/internal/logging"
)

const metadataDoc = `{
	"dir": "/5/items/test_item",
	"server": "ia800100.us.archive.org",
	"workable_servers": ["ia800100.us.archive.org"],
	"files": [{"name": "a.txt", "source": "original", "format": "Text", "size": "3"}]
}`

// newTestFetcher shrinks the retry waits so failure paths finish quickly.
func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := NewFetcher(&http.Client{Timeout: 5 * time.Second}, logging.NewNop())
	f.retry.RetryWaitMin = 10 * time.Millisecond
	f.retry.RetryWaitMax = 50 * time.Millisecond
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(metadataDoc))
	}))
	defer srv.Close()

	meta, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(meta.Files) != 1 || meta.Files[0].Name != "a.txt" {
		t.Errorf("unexpected files: %+v", meta.Files)
	}
	if meta.Server != "ia800100.us.archive.org" {
		t.Errorf("Server = %q", meta.Server)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(metadataDoc))
	}))
	defer srv.Close()

	meta, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(meta.Files) != 1 {
		t.Errorf("unexpected files: %+v", meta.Files)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v, want *UnreachableError", err)
	}
	// Initial attempt plus the retry budget.
	if got := calls.Load(); got != 4 {
		t.Errorf("server calls = %d, want 4", got)
	}
}

func TestFetchWaitsOutRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(metadataDoc))
	}))
	defer srv.Close()

	start := time.Now()
	meta, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if meta == nil || len(meta.Files) != 1 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
	// A zero Retry-After still waits a beat rather than hammering.
	if time.Since(start) < time.Second {
		t.Error("rate-limited fetch returned without waiting")
	}
}

func TestFetchRateLimitCancellable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher(t).Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v, want *UnreachableError", err)
	}
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want *MalformedError", err)
	}
	if malformed.Snippet == "" {
		t.Error("MalformedError carries no body snippet")
	}
}
