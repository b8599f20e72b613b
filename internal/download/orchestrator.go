package download

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/logging"
	"github.com/ia-tools/ia-get/internal/metadata"
	"github.com/ia-tools/ia-get/internal/session"
)

// Orchestrator schedules per-file downloads over the working set with
// bounded concurrency, merges their progress, and owns all session
// mutation and persistence.
type Orchestrator struct {
	client *nethttp.Client
	store  *session.Store
	logger *logging.Logger
}

// NewOrchestrator wires the shared HTTP client and session store.
func NewOrchestrator(client *nethttp.Client, store *session.Store, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{client: client, store: store, logger: logger}
}

// Run downloads the working set and returns the final session.
//
// Individual file failures transition that file to Failed and the run
// continues; only session-file I/O errors abort the whole run. On
// cancellation the session is persisted in its partial state before
// returning.
func (o *Orchestrator) Run(
	ctx context.Context,
	originalURL, identifier string,
	meta *metadata.ItemMetadata,
	cfg session.Config,
	requested []metadata.FileEntry,
	emitter *Emitter,
) (*session.Session, string, error) {
	sess, path, err := o.store.CreateOrResume(originalURL, identifier, meta, cfg, requested)
	if err != nil {
		return nil, "", err
	}
	if err := o.store.Save(sess, path); err != nil {
		return nil, "", fmt.Errorf("failed to persist initial session: %w", err)
	}

	pending := sess.PendingFiles()
	total := len(sess.RequestedFiles)
	completedBefore, skippedBefore, _, _ := sess.Counts()

	// done and failed are written by the result loop and read by every
	// task's progress closure, so they must be atomic.
	var done, failed atomic.Int64
	done.Store(int64(completedBefore + skippedBefore))

	if len(pending) == 0 {
		emitter.Terminal(Progress{
			Completed: int(done.Load()),
			Total:     total,
			Status:    "nothing to do, all files already completed",
		})
		return sess, path, nil
	}

	o.logger.Info().
		Int("pending", len(pending)).
		Int("total", total).
		Int("concurrency", cfg.Concurrency).
		Msg("Starting downloads")

	dl := &fileDownloader{
		client:    o.client,
		logger:    o.logger,
		meta:      meta,
		cfg:       cfg,
		outputDir: cfg.OutputDir,
	}

	speed := newSpeedometer(5 * time.Second)
	var remaining int64
	for _, name := range pending {
		if fs, ok := sess.FileStatus[name]; ok && fs.FileInfo.Size.Valid {
			remaining += fs.FileInfo.Size.Value - fs.BytesDownloaded
		}
	}

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	results := make(chan fileResult)
	var wg sync.WaitGroup

	for _, name := range pending {
		fs := sess.FileStatus[name]
		entry := fs.FileInfo

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled while queued; the file stays in its prior state.
				results <- fileResult{name: entry.Name, state: session.StatePaused}
				return
			}
			defer sem.Release(1)

			// Report the transition to InProgress through the result
			// channel; the writer loop owns the session.
			results <- fileResult{name: entry.Name, state: session.StateInProgress}

			onBytes := func(n int64) {
				speed.Add(n)
				rate := speed.Rate()
				emitter.Interior(Progress{
					File:        entry.Name,
					Completed:   int(done.Load()),
					Total:       total,
					Failed:      int(failed.Load()),
					BytesPerSec: rate,
					ETA:         formatETA(remaining-speed.Total(), rate),
					Status:      fmt.Sprintf("downloading %s", entry.Name),
				})
			}
			results <- dl.download(ctx, entry, onBytes)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single-writer loop: only this goroutine touches the session.
	lastSave := time.Now()
	var saveErr error
	for res := range results {
		if res.state == session.StateInProgress {
			if err := sess.MarkStarted(res.name); err != nil {
				o.logger.Error().Str("file", res.name).Err(err).Msg("Failed to record start")
			}
			emitter.Interior(Progress{
				File:      res.name,
				Completed: int(done.Load()),
				Total:     total,
				Failed:    int(failed.Load()),
				Status:    fmt.Sprintf("starting %s", res.name),
			})
			continue
		}

		o.apply(sess, res)

		switch res.state {
		case session.StateCompleted, session.StateSkipped:
			done.Add(1)
		case session.StateFailed:
			failed.Add(1)
		}

		emitter.Terminal(Progress{
			File:        res.name,
			Completed:   int(done.Load()),
			Total:       total,
			Failed:      int(failed.Load()),
			BytesPerSec: speed.Rate(),
			Status:      fileStatusLine(res),
		})

		// Throttled persistence; terminal transitions always hit disk.
		terminal := res.state.Terminal() || res.state == session.StateFailed
		if terminal || time.Since(lastSave) >= constants.SessionSaveInterval {
			if err := o.store.Save(sess, path); err != nil && saveErr == nil {
				saveErr = fmt.Errorf("failed to persist session: %w", err)
			}
			lastSave = time.Now()
		}
	}

	if err := o.store.Save(sess, path); err != nil && saveErr == nil {
		saveErr = fmt.Errorf("failed to persist final session: %w", err)
	}
	if saveErr != nil {
		return sess, path, saveErr
	}

	status := fmt.Sprintf("done: %d completed, %d failed of %d", done.Load(), failed.Load(), total)
	if ctx.Err() != nil {
		status = fmt.Sprintf("cancelled: %d completed, %d failed of %d", done.Load(), failed.Load(), total)
	}
	emitter.Terminal(Progress{
		Completed: int(done.Load()),
		Total:     total,
		Failed:    int(failed.Load()),
		Status:    status,
	})

	return sess, path, nil
}

// apply folds one task result into the session.
func (o *Orchestrator) apply(sess *session.Session, res fileResult) {
	switch res.state {
	case session.StateCompleted, session.StateSkipped:
		if err := sess.MarkCompleted(res.name, res.state, res.localPath, res.server, res.bytes, res.retries); err != nil {
			o.logger.Error().Str("file", res.name).Err(err).Msg("Failed to record completion")
		}
	case session.StateFailed:
		if err := sess.MarkFailed(res.name, res.err, res.server, res.bytes, res.retries); err != nil {
			o.logger.Error().Str("file", res.name).Err(err).Msg("Failed to record failure")
		}
	case session.StatePaused:
		if err := sess.MarkPaused(res.name, res.bytes); err != nil {
			o.logger.Error().Str("file", res.name).Err(err).Msg("Failed to record pause")
		}
	}
}

func fileStatusLine(res fileResult) string {
	switch res.state {
	case session.StateCompleted:
		return fmt.Sprintf("completed %s", res.name)
	case session.StateSkipped:
		return fmt.Sprintf("skipped %s (already present)", res.name)
	case session.StateFailed:
		return fmt.Sprintf("failed %s: %v", res.name, res.err)
	case session.StatePaused:
		return fmt.Sprintf("paused %s", res.name)
	}
	return res.name
}
