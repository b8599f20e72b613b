package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/extract"
	"github.com/ia-tools/ia-get/internal/httpx"
	"github.com/ia-tools/ia-get/internal/logging"
	"github.com/ia-tools/ia-get/internal/metadata"
	"github.com/ia-tools/ia-get/internal/sanitize"
	"github.com/ia-tools/ia-get/internal/session"
	"github.com/ia-tools/ia-get/internal/verify"
)

// fileDownloader downloads one file at a time: server selection, ranged
// resume, streaming write, verification, atomic rename, optional
// decompression. Instances are shared across tasks and hold no per-file
// state.
type fileDownloader struct {
	client    *nethttp.Client
	logger    *logging.Logger
	meta      *metadata.ItemMetadata
	cfg       session.Config
	outputDir string
}

// fileResult is the typed outcome a download task reports back to the
// orchestrator. Tasks never mutate the session directly.
type fileResult struct {
	name      string
	state     session.State
	bytes     int64
	server    string
	retries   int
	localPath string
	err       error
}

// download fetches one file entry. onBytes receives byte deltas as the
// body streams, for speed tracking.
func (d *fileDownloader) download(ctx context.Context, entry metadata.FileEntry, onBytes func(int64)) fileResult {
	result := fileResult{name: entry.Name}

	rel, err := sanitize.RelativePath(entry.Name)
	if err != nil {
		result.state = session.StateFailed
		result.err = err
		return result
	}
	target := filepath.Join(d.outputDir, filepath.FromSlash(rel))
	if err := sanitize.ValidatePathLength(d.outputDir, rel); err != nil {
		result.state = session.StateFailed
		result.err = err
		return result
	}
	result.localPath = target

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		result.state = session.StateFailed
		result.err = fmt.Errorf("failed to create target directory: %w", err)
		return result
	}

	// A file already on disk is only skipped when we can trust it.
	if info, statErr := os.Stat(target); statErr == nil {
		if skip := d.shouldSkipExisting(ctx, target, &entry); skip {
			result.state = session.StateSkipped
			result.bytes = info.Size()
			return result
		}
	}

	servers := d.meta.Servers()
	tmp := target + ".tmp"

	var lastErr error
	for _, server := range servers {
		for attempt := 1; attempt <= constants.ServerAttempts; attempt++ {
			if ctx.Err() != nil {
				return d.paused(result, tmp)
			}

			err := d.fetchOnce(ctx, server, &entry, target, tmp, onBytes)
			if err == nil {
				res, verr := d.finalize(ctx, result, &entry, server, target, tmp)
				if verr == nil {
					return res
				}
				// Verification failures fall through to the retry handling
				// below; a different server may hold a clean copy.
				err = verr
			}
			if ctx.Err() != nil {
				return d.paused(result, tmp)
			}
			lastErr = err
			result.retries++

			var nf *NotFoundError
			if errors.As(err, &nf) {
				// No server will have it under another name; fail now.
				result.state = session.StateFailed
				result.err = err
				result.bytes = tmpSize(tmp)
				return result
			}

			d.logger.Warn().
				Str("file", entry.Name).
				Str("server", server).
				Int("attempt", attempt).
				Err(err).
				Msg("Download attempt failed")

			if !retriable(err) {
				break // rotate to next server
			}

			var rl *httpx.RateLimitedError
			var se *httpx.StatusError
			var hm *verify.HashMismatchError
			switch {
			case errors.As(err, &hm):
				// Corrupt copy on this host; go straight to the next server.
				attempt = constants.ServerAttempts
			case errors.As(err, &rl):
				wait := backoffSeconds(attempt, constants.RateLimitBackoffCap)
				if rl.RetryAfter > wait {
					wait = rl.RetryAfter
				}
				if sleepCtx(ctx, wait) != nil {
					return d.paused(result, tmp)
				}
				attempt = constants.ServerAttempts // next server
			case errors.As(err, &se) && se.StatusCode == nethttp.StatusServiceUnavailable:
				if sleepCtx(ctx, backoffSeconds(attempt, constants.UnavailableBackoffCap)) != nil {
					return d.paused(result, tmp)
				}
				attempt = constants.ServerAttempts // next server
			default:
				// Transient mid-stream failure: the temp file is the resume
				// point, retry the same server after a short pause.
				if sleepCtx(ctx, constants.ResumeRetryPause) != nil {
					return d.paused(result, tmp)
				}
			}
		}
	}

	result.state = session.StateFailed
	if lastErr == nil {
		lastErr = fmt.Errorf("no workable servers for %s", entry.Name)
	}
	result.err = lastErr
	result.bytes = tmpSize(tmp)
	return result
}

// shouldSkipExisting decides whether a file already on disk satisfies
// this session. With verification off, presence is enough.
func (d *fileDownloader) shouldSkipExisting(ctx context.Context, target string, entry *metadata.FileEntry) bool {
	if !d.cfg.VerifyMD5 {
		return true
	}
	if entry.MD5 == "" && !entry.IsXML() {
		return true
	}
	if err := verify.File(ctx, target, entry); err != nil {
		d.logger.Warn().
			Str("file", entry.Name).
			Err(err).
			Msg("Existing file failed verification, re-downloading")
		return false
	}
	return true
}

// fetchOnce performs one request against one server, streaming the body
// into the temp file with resume support.
func (d *fileDownloader) fetchOnce(ctx context.Context, server string, entry *metadata.FileEntry, target, tmp string, onBytes func(int64)) error {
	fileURL := d.fileURL(server, entry.Name)

	offset := tmpSize(tmp)

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", fileURL, err)
	}
	req.Header.Set(httpx.HeaderReducedPriority, "1")
	if !d.cfg.EnableCompression {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", server, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == nethttp.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return &NotFoundError{Name: entry.Name, URL: fileURL}
	case resp.StatusCode == nethttp.StatusRequestedRangeNotSatisfiable:
		// The temp file already covers the full size (or the server lost
		// track); restart from scratch on the next attempt.
		io.Copy(io.Discard, resp.Body)
		os.Remove(tmp)
		return &httpx.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	case resp.StatusCode != nethttp.StatusOK && resp.StatusCode != nethttp.StatusPartialContent:
		io.Copy(io.Discard, resp.Body)
		return httpx.NewStatusError(resp)
	}

	// A 200 on a ranged request means the server ignored the Range header;
	// the body is the whole file, so the partial temp file must go.
	if offset > 0 && resp.StatusCode == nethttp.StatusOK {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to reset temp file: %w", err)
		}
		offset = 0
	}

	if entry.Size.Valid && resp.ContentLength > 0 {
		if offset+resp.ContentLength != entry.Size.Value {
			d.logger.Warn().
				Str("file", entry.Name).
				Int64("expected", entry.Size.Value).
				Int64("announced", offset+resp.ContentLength).
				Msg("Content length disagrees with recorded size, continuing")
		}
	}

	written, err := d.streamBody(ctx, resp.Body, tmp, onBytes)
	if err != nil {
		if isDecodeError(err) {
			return &CompressionError{Err: err}
		}
		return fmt.Errorf("body stream for %s interrupted: %w", entry.Name, err)
	}

	total := offset + written
	if entry.Size.Valid && total != entry.Size.Value {
		// Keep the temp file; it is the resume point for the next attempt.
		return &SizeMismatchError{Name: entry.Name, Expected: entry.Size.Value, Actual: total}
	}
	return nil
}

// streamBody appends the response body to the temp file.
func (d *fileDownloader) streamBody(ctx context.Context, body io.Reader, tmp string, onBytes func(int64)) (int64, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open temp file: %w", err)
	}
	defer f.Close()

	var written int64
	buf := make([]byte, constants.DownloadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("failed to write temp file: %w", writeErr)
			}
			written += int64(n)
			if onBytes != nil {
				onBytes(int64(n))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// finalize verifies the completed temp file, publishes it atomically,
// and runs optional post-processing. A non-nil error hands the attempt
// back to the retry loop.
func (d *fileDownloader) finalize(ctx context.Context, result fileResult, entry *metadata.FileEntry, server, target, tmp string) (fileResult, error) {
	result.server = server
	result.bytes = tmpSize(tmp)

	if d.cfg.VerifyMD5 {
		if err := verify.File(ctx, tmp, entry); err != nil {
			var hm *verify.HashMismatchError
			if errors.As(err, &hm) {
				// Corrupt payload; discard so the next server starts clean.
				os.Remove(tmp)
			}
			return result, err
		}
	}

	if d.cfg.PreserveMtime && entry.Mtime.Valid {
		mtime := time.Unix(entry.Mtime.Value, 0)
		if err := os.Chtimes(tmp, mtime, mtime); err != nil {
			d.logger.Warn().Str("file", entry.Name).Err(err).Msg("Failed to preserve mtime")
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		return result, fmt.Errorf("failed to publish %s: %w", target, err)
	}

	d.maybeDecompress(ctx, target, entry)

	result.state = session.StateCompleted
	return result, nil
}

// maybeDecompress expands the completed file when auto-decompression is
// on and its format is requested. Failure never fails the file.
func (d *fileDownloader) maybeDecompress(ctx context.Context, target string, entry *metadata.FileEntry) {
	if !d.cfg.AutoDecompress {
		return
	}
	kind := extract.Detect(entry.Name, entry.Format)
	if kind == extract.KindNone || !d.formatRequested(entry, kind) {
		return
	}
	outputs, err := extract.Expand(ctx, target, kind)
	if err != nil {
		d.logger.Warn().
			Str("file", entry.Name).
			Str("format", kind.String()).
			Err(err).
			Msg("Decompression failed, compressed file kept")
		return
	}
	d.logger.Info().
		Str("file", entry.Name).
		Int("outputs", len(outputs)).
		Msg("Decompressed")
}

// formatRequested checks the configured decompress format set. An empty
// set means every detected format.
func (d *fileDownloader) formatRequested(entry *metadata.FileEntry, kind extract.Kind) bool {
	if len(d.cfg.DecompressFormats) == 0 {
		return true
	}
	for _, tag := range d.cfg.DecompressFormats {
		tag = strings.ToLower(tag)
		if tag == kind.String() || tag == strings.ToLower(entry.Format) {
			return true
		}
	}
	return false
}

// paused records a cancellation, leaving the temp file as a resume point.
func (d *fileDownloader) paused(result fileResult, tmp string) fileResult {
	result.state = session.StatePaused
	result.bytes = tmpSize(tmp)
	return result
}

// fileURL builds https://<server><dir>/<name> with each path segment
// escaped. A server carrying its own scheme is used as-is.
func (d *fileDownloader) fileURL(server, name string) string {
	base := server
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	dir := d.meta.Dir
	if dir != "" && !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + dir + "/" + strings.Join(segments, "/")
}

func tmpSize(tmp string) int64 {
	info, err := os.Stat(tmp)
	if err != nil {
		return 0
	}
	return info.Size()
}

// backoffSeconds implements min(cap, 2^attempt) seconds.
func backoffSeconds(attempt, capSeconds int) time.Duration {
	secs := 1 << uint(attempt)
	if secs > capSeconds {
		secs = capSeconds
	}
	return time.Duration(secs) * time.Second
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
