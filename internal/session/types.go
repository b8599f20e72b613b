// Package session provides the durable per-item record of download
// progress, so an interrupted run can resume without redoing work.
package session

import (
	"fmt"
	"time"

	"github.com/ia-tools/ia-get/internal/metadata"
)

// State is the lifecycle state of one file within a session.
type State string

// File states. Completed and Skipped are terminal; Failed is resumable
// on a later run.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StatePaused     State = "paused"
	StateSkipped    State = "skipped"
)

// Terminal reports whether no further work will happen for this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateSkipped
}

// Resumable reports whether a later run should pick this file up again.
func (s State) Resumable() bool {
	return s == StatePending || s == StateFailed || s == StatePaused || s == StateInProgress
}

// FileStatus tracks one requested file. FileInfo is the metadata entry as
// captured at session creation; it stays authoritative for this session
// even if the remote item changes.
type FileStatus struct {
	FileInfo        metadata.FileEntry `json:"file_info"`
	Status          State              `json:"status"`
	BytesDownloaded int64              `json:"bytes_downloaded"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	RetryCount      int                `json:"retry_count"`
	ServerUsed      string             `json:"server_used,omitempty"`
	LocalPath       string             `json:"local_path,omitempty"`
}

// Config is the download configuration captured in the session record.
type Config struct {
	OutputDir         string   `json:"output_dir"`
	Concurrency       int      `json:"concurrency"`
	VerifyMD5         bool     `json:"verify_md5"`
	PreserveMtime     bool     `json:"preserve_mtime"`
	EnableCompression bool     `json:"enable_compression"`
	AutoDecompress    bool     `json:"auto_decompress"`
	DecompressFormats []string `json:"decompress_formats,omitempty"`
}

// Session is the durable record of one attempt to download a working set.
// The orchestrator is the sole mutator during a run.
type Session struct {
	OriginalURL     string                 `json:"original_url"`
	Identifier      string                 `json:"identifier"`
	ArchiveMetadata *metadata.ItemMetadata `json:"archive_metadata"`
	DownloadConfig  Config                 `json:"download_config"`
	RequestedFiles  []string               `json:"requested_files"`
	FileStatus      map[string]*FileStatus `json:"file_status"`
	SessionStart    time.Time              `json:"session_start"`
	LastUpdated     time.Time              `json:"last_updated"`
}

// New creates a fresh session with every requested file in Pending.
func New(originalURL, identifier string, meta *metadata.ItemMetadata, cfg Config, requested []metadata.FileEntry) *Session {
	now := time.Now().UTC()
	s := &Session{
		OriginalURL:     originalURL,
		Identifier:      identifier,
		ArchiveMetadata: meta,
		DownloadConfig:  cfg,
		FileStatus:      make(map[string]*FileStatus, len(requested)),
		SessionStart:    now,
		LastUpdated:     now,
	}
	s.MergeRequested(requested)
	return s
}

// MergeRequested adds newly requested files as Pending without disturbing
// files the session already tracks. Keeps requested_files and file_status
// domains equal.
func (s *Session) MergeRequested(requested []metadata.FileEntry) {
	for _, f := range requested {
		if _, exists := s.FileStatus[f.Name]; exists {
			continue
		}
		s.RequestedFiles = append(s.RequestedFiles, f.Name)
		s.FileStatus[f.Name] = &FileStatus{
			FileInfo: f,
			Status:   StatePending,
		}
	}
	s.touch()
}

// PendingFiles returns the names that still need work, in working-set
// order: Pending and Failed files, plus InProgress/Paused left behind by
// an interrupted run.
func (s *Session) PendingFiles() []string {
	var pending []string
	for _, name := range s.RequestedFiles {
		if fs, ok := s.FileStatus[name]; ok && !fs.Status.Terminal() {
			pending = append(pending, name)
		}
	}
	return pending
}

// MarkStarted transitions a file to InProgress and stamps StartedAt.
func (s *Session) MarkStarted(name string) error {
	fs, err := s.status(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	fs.Status = StateInProgress
	if fs.StartedAt == nil {
		fs.StartedAt = &now
	}
	fs.ErrorMessage = ""
	s.touch()
	return nil
}

// MarkCompleted transitions a file to a terminal success state.
func (s *Session) MarkCompleted(name string, state State, localPath, serverUsed string, bytes int64, retries int) error {
	if !state.Terminal() {
		return fmt.Errorf("state %s is not terminal", state)
	}
	fs, err := s.status(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	fs.Status = state
	fs.CompletedAt = &now
	fs.LocalPath = localPath
	fs.ServerUsed = serverUsed
	fs.RetryCount += retries
	fs.ErrorMessage = ""
	fs.setBytes(bytes)
	s.touch()
	return nil
}

// MarkFailed records a per-file failure. The file stays resumable.
func (s *Session) MarkFailed(name string, cause error, serverUsed string, bytes int64, retries int) error {
	fs, err := s.status(name)
	if err != nil {
		return err
	}
	fs.Status = StateFailed
	if cause != nil {
		fs.ErrorMessage = cause.Error()
	}
	fs.ServerUsed = serverUsed
	fs.RetryCount += retries
	fs.setBytes(bytes)
	s.touch()
	return nil
}

// MarkPaused records a cancellation mid-download, preserving progress.
func (s *Session) MarkPaused(name string, bytes int64) error {
	fs, err := s.status(name)
	if err != nil {
		return err
	}
	fs.Status = StatePaused
	fs.setBytes(bytes)
	s.touch()
	return nil
}

// SetBytes updates a file's progress counter. Decreases are ignored so
// the recorded value stays monotonic.
func (s *Session) SetBytes(name string, bytes int64) {
	if fs, ok := s.FileStatus[name]; ok {
		fs.setBytes(bytes)
	}
}

func (fs *FileStatus) setBytes(bytes int64) {
	if bytes > fs.BytesDownloaded {
		fs.BytesDownloaded = bytes
	}
}

// Counts tallies files per state for summaries.
func (s *Session) Counts() (completed, skipped, failed, pending int) {
	for _, fs := range s.FileStatus {
		switch fs.Status {
		case StateCompleted:
			completed++
		case StateSkipped:
			skipped++
		case StateFailed:
			failed++
		default:
			pending++
		}
	}
	return
}

func (s *Session) status(name string) (*FileStatus, error) {
	fs, ok := s.FileStatus[name]
	if !ok {
		return nil, fmt.Errorf("file %q is not part of this session", name)
	}
	return fs, nil
}

func (s *Session) touch() {
	now := time.Now().UTC()
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}
