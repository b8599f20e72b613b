package download

import (
	"context"
	"fmt"
	nethttp "net/http"
	"path/filepath"
	"strings"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/filter"
	"github.com/ia-tools/ia-get/internal/httpx"
	"github.com/ia-tools/ia-get/internal/identifier"
	"github.com/ia-tools/ia-get/internal/logging"
	"github.com/ia-tools/ia-get/internal/metadata"
	"github.com/ia-tools/ia-get/internal/sanitize"
	"github.com/ia-tools/ia-get/internal/session"
)

// Request is the full download request any front-end hands to the engine.
type Request struct {
	IdentifierOrURL string
	OutputDir       string

	IncludeFormats []string
	ExcludeFormats []string
	MinSize        int64
	MaxSize        int64
	SourceTypes    []string

	Concurrency       int
	EnableCompression bool
	AutoDecompress    bool
	DecompressFormats []string
	DryRun            bool
	VerifyMD5         bool
	PreserveMtime     bool

	// SessionDir overrides the default per-user session directory.
	SessionDir string
}

// Outcome is the engine's result for a completed (or dry) run.
type Outcome struct {
	Session     *session.Session
	SessionPath string
	DryRun      bool
}

// Engine ties the pipeline together: normalize, fetch metadata, filter,
// create or resume the session, then orchestrate downloads.
type Engine struct {
	client *nethttp.Client
	logger *logging.Logger
}

// NewEngine creates an engine around the shared HTTP client.
func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{
		client: httpx.NewClient(),
		logger: logger,
	}
}

// Download runs one request end to end. Progress events are delivered on
// events, which may be nil when the caller does not care. The channel is
// not closed by the engine.
//
// In dry-run mode the working set is resolved and recorded in the
// session, but no file task is launched.
func (e *Engine) Download(ctx context.Context, req Request, events chan<- Progress) (*Outcome, error) {
	emitter := NewEmitter(events)

	cfg, spec, err := e.validate(&req)
	if err != nil {
		return nil, err
	}

	norm, err := identifier.Normalize(req.IdentifierOrURL)
	if err != nil {
		return nil, err
	}

	emitter.Interior(Progress{Status: fmt.Sprintf("fetching metadata for %s", norm.Identifier)})
	fetcher := metadata.NewFetcher(e.client, e.logger)
	meta, err := fetcher.Fetch(ctx, norm.MetadataURL)
	if err != nil {
		return nil, err
	}
	if len(meta.Files) == 0 {
		emitter.Interior(Progress{Status: fmt.Sprintf("item %s lists no files", norm.Identifier)})
	}

	working := filter.Apply(meta.Files, *spec)
	e.logger.Info().
		Str("identifier", norm.Identifier).
		Int("available", len(meta.Files)).
		Int("selected", len(working)).
		Msg("Resolved working set")

	if len(working) > 0 && len(meta.Servers()) == 0 {
		return nil, &ConfigError{Field: "workable_servers", Reason: "metadata lists no delivery servers"}
	}

	cfg.OutputDir = filepath.Join(req.OutputDir, sanitize.Identifier(norm.Identifier))

	sessionDir := req.SessionDir
	if sessionDir == "" {
		sessionDir, err = session.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	store, err := session.NewStore(sessionDir, e.logger)
	if err != nil {
		return nil, err
	}

	if req.DryRun {
		sess, path, err := store.CreateOrResume(req.IdentifierOrURL, norm.Identifier, meta, *cfg, working)
		if err != nil {
			return nil, err
		}
		if err := store.Save(sess, path); err != nil {
			return nil, fmt.Errorf("failed to persist dry-run session: %w", err)
		}
		emitter.Terminal(Progress{
			Total:  len(sess.RequestedFiles),
			Status: fmt.Sprintf("dry run: %d files selected, nothing downloaded", len(working)),
		})
		return &Outcome{Session: sess, SessionPath: path, DryRun: true}, nil
	}

	orch := NewOrchestrator(e.client, store, e.logger)
	sess, path, err := orch.Run(ctx, req.IdentifierOrURL, norm.Identifier, meta, *cfg, working, emitter)
	if err != nil {
		return nil, err
	}
	return &Outcome{Session: sess, SessionPath: path}, nil
}

// validate checks the request and derives the session config and filter
// spec from it.
func (e *Engine) validate(req *Request) (*session.Config, *filter.Spec, error) {
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, nil, &ConfigError{Field: "output_dir", Reason: "must not be empty"}
	}
	if req.Concurrency < constants.MinConcurrency {
		return nil, nil, &ConfigError{
			Field:  "concurrency",
			Reason: fmt.Sprintf("%d is below the minimum %d", req.Concurrency, constants.MinConcurrency),
		}
	}
	if req.Concurrency > constants.MaxConcurrency {
		return nil, nil, &ConfigError{
			Field:  "concurrency",
			Reason: fmt.Sprintf("%d exceeds the maximum %d", req.Concurrency, constants.MaxConcurrency),
		}
	}

	sources := req.SourceTypes
	if len(sources) == 0 {
		sources = []string{metadata.SourceOriginal}
	}

	spec := &filter.Spec{
		IncludeFormats: req.IncludeFormats,
		ExcludeFormats: req.ExcludeFormats,
		MinSize:        req.MinSize,
		MaxSize:        req.MaxSize,
		SourceClasses:  sources,
	}
	if err := spec.Validate(); err != nil {
		return nil, nil, &ConfigError{Field: "filters", Reason: err.Error()}
	}

	cfg := &session.Config{
		OutputDir:         req.OutputDir, // finalized after normalization
		Concurrency:       req.Concurrency,
		VerifyMD5:         req.VerifyMD5,
		PreserveMtime:     req.PreserveMtime,
		EnableCompression: req.EnableCompression,
		AutoDecompress:    req.AutoDecompress,
		DecompressFormats: req.DecompressFormats,
	}
	return cfg, spec, nil
}
