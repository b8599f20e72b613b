// Package httpx provides the shared HTTP client for metadata and file
// requests, plus the error classification the retry layers depend on.
package httpx

import (
	"io"
	nethttp "net/http"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/http2"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/version"
)

// Header names the archive endpoints care about.
const (
	// HeaderReducedPriority is sent on bulk file GETs so the archive can
	// deprioritize us instead of returning 429s.
	HeaderReducedPriority = "X-Accept-Reduced-Priority"

	// acceptEncoding is sent on every outgoing request. The wrapped
	// transport decodes matching Content-Encoding responses itself, so
	// Go's automatic gzip handling is left disabled.
	acceptEncoding = "deflate, gzip"
)

// NewClient creates the long-lived HTTP client shared by all components.
//
// Key characteristics:
//   - Connection pool sized for a handful of delivery hosts with up to
//     MaxConcurrency streams each
//   - HTTP/2 enabled (the archive's frontends negotiate it)
//   - User-Agent and Accept-Encoding applied to every request
//   - gzip/deflate response bodies decoded transparently
//
// The client carries no overall timeout; callers bound requests with
// contexts. Header exchange is bounded by the transport timeouts.
func NewClient() *nethttp.Client {
	tr := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		MaxConnsPerHost:       constants.MaxConnsPerHost,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: constants.HTTPRequestTimeout,

		// We negotiate compression ourselves via Accept-Encoding so that
		// resumed Range requests see raw bytes on the wire.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	_ = http2.ConfigureTransport(tr)

	return &nethttp.Client{
		Transport: &headerTransport{
			base:      tr,
			userAgent: version.UserAgent(),
		},
	}
}

// headerTransport stamps the standard headers on every request and decodes
// compressed response bodies.
type headerTransport struct {
	base      nethttp.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	// Clone before mutating; the request may be retried by callers.
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Ranged responses are never content-encoded by the archive, but the
	// metadata endpoint compresses aggressively.
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			resp.Body.Close()
			return nil, gzErr
		}
		resp.Body = &decodedBody{ReadCloser: gz, raw: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.ContentLength = -1
	case "deflate":
		fl := flate.NewReader(resp.Body)
		resp.Body = &decodedBody{ReadCloser: fl, raw: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.ContentLength = -1
	}

	return resp, nil
}

// decodedBody closes both the decoder and the underlying connection body.
type decodedBody struct {
	io.ReadCloser
	raw io.Closer
}

func (b *decodedBody) Close() error {
	err := b.ReadCloser.Close()
	if rawErr := b.raw.Close(); err == nil {
		err = rawErr
	}
	return err
}
