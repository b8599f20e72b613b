// Package constants centralizes tunables for the download engine.
package constants

import (
	"time"
)

// Application identity
const (
	// AppName - binary and session file prefix
	AppName = "ia-get"

	// ArchiveHost - canonical archive.org host for metadata requests
	ArchiveHost = "archive.org"

	// MetadataURLFormat - metadata endpoint template (identifier appended)
	MetadataURLFormat = "https://archive.org/metadata/%s"
)

// HTTP transport
const (
	// HTTPRequestTimeout - per-request timeout for metadata and file requests.
	// Individual body streams can run longer; this bounds header exchange.
	HTTPRequestTimeout = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle pooled connections are kept
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake deadline
	HTTPTLSHandshakeTimeout = 20 * time.Second

	// HTTPExpectContinueTimeout - wait for HTTP 100-continue
	HTTPExpectContinueTimeout = 5 * time.Second

	// MaxIdleConns / MaxConnsPerHost - pool sizing for concurrent file
	// downloads against a small set of delivery hosts.
	MaxIdleConns        = 64
	MaxIdleConnsPerHost = 16
	MaxConnsPerHost     = 16
)

// Metadata fetch retry discipline
const (
	// MetadataRetryMax - transient failures tolerated before giving up
	MetadataRetryMax = 3

	// MetadataBackoffInitial - first transient backoff (doubles each retry)
	MetadataBackoffInitial = 30 * time.Second

	// MetadataBackoffCap - upper bound on transient backoff
	MetadataBackoffCap = 600 * time.Second

	// RateLimitDefaultWait - used when a 429 carries no Retry-After header
	RateLimitDefaultWait = 60 * time.Second
)

// Per-file download discipline
const (
	// ServerAttempts - attempts against each workable server before failover
	ServerAttempts = 3

	// ResumeRetryPause - fixed pause between resume retries on one server
	ResumeRetryPause = 1 * time.Second

	// RateLimitBackoffCap - cap for 429 backoff between servers (seconds)
	RateLimitBackoffCap = 60

	// UnavailableBackoffCap - cap for 503 backoff between servers (seconds)
	UnavailableBackoffCap = 30

	// DownloadBufferSize - copy buffer for streaming bodies to disk
	DownloadBufferSize = 256 * 1024

	// VerifyChunkSize - read size for MD5 verification; also the cancellation
	// check granularity while hashing
	VerifyChunkSize = 1024 * 1024
)

// Session persistence
const (
	// SessionFilePrefix - session files are named
	// <prefix><sanitized-id>-<unix-seconds>.json
	SessionFilePrefix = "ia-get-session-"

	// SessionSaveInterval - minimum spacing between periodic session writes
	// while downloads are in flight. Terminal transitions always persist.
	SessionSaveInterval = 500 * time.Millisecond
)

// Concurrency limits
const (
	// MinConcurrency / MaxConcurrency - accepted range for parallel file tasks
	MinConcurrency = 1
	MaxConcurrency = 16

	// DefaultConcurrency - used by the CLI when no flag is given
	DefaultConcurrency = 4
)

// Path limits
const (
	// MaxIdentifierLength - identifiers longer than this are truncated with a
	// hash suffix when used as directory names
	MaxIdentifierLength = 200

	// MaxFilenameLength - per-component filesystem limit
	MaxFilenameLength = 255

	// WindowsClassicPathLimit - MAX_PATH on Windows without long-path support
	WindowsClassicPathLimit = 260

	// ExtendedPathLimit - soft limit elsewhere (NTFS extended / POSIX)
	ExtendedPathLimit = 32767
)
