package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/logging"
	"github.com/ia-tools/ia-get/internal/metadata"
	"github.com/ia-tools/ia-get/internal/sanitize"
)

// Store persists sessions as pretty-printed JSON documents named
// ia-get-session-<sanitized-id>-<unix-seconds>.json in a session directory.
type Store struct {
	dir    string
	logger *logging.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// DefaultDir returns the per-user session directory (~/.ia-get/sessions).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, "."+constants.AppName, "sessions"), nil
}

// Dir returns the session directory.
func (st *Store) Dir() string {
	return st.dir
}

// CreateOrResume returns the session to run: the newest loadable session
// for the identifier with any newly requested files merged in as Pending,
// or a fresh session when none exists. The returned path is where Save
// should persist it.
func (st *Store) CreateOrResume(originalURL, identifier string, meta *metadata.ItemMetadata, cfg Config, requested []metadata.FileEntry) (*Session, string, error) {
	if path, ok := st.Latest(identifier); ok {
		s, err := st.Load(path)
		if err != nil {
			st.logger.Warn().
				Str("path", path).
				Err(err).
				Msg("Existing session file unreadable, starting fresh")
		} else {
			s.MergeRequested(requested)
			s.DownloadConfig = cfg
			st.logger.Info().
				Str("path", path).
				Int("files", len(s.RequestedFiles)).
				Msg("Resuming existing session")
			return s, path, nil
		}
	}

	s := New(originalURL, identifier, meta, cfg, requested)
	path := filepath.Join(st.dir, fmt.Sprintf("%s%s-%d.json",
		constants.SessionFilePrefix, sanitize.Identifier(identifier), time.Now().Unix()))
	return s, path, nil
}

// Latest finds the newest session file for an identifier. Both the
// sanitized and the raw identifier are matched, for compatibility with
// session files written before sanitization was applied to the name.
// Newest means highest timestamp suffix; ties break lexicographically so
// the result is deterministic.
func (st *Store) Latest(identifier string) (string, bool) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return "", false
	}

	prefixes := []string{
		constants.SessionFilePrefix + sanitize.Identifier(identifier) + "-",
		constants.SessionFilePrefix + identifier + "-",
	}

	type candidate struct {
		name string
		ts   int64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		for _, prefix := range prefixes {
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
				continue
			}
			tsPart := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
			ts, parseErr := strconv.ParseInt(tsPart, 10, 64)
			if parseErr != nil {
				continue
			}
			candidates = append(candidates, candidate{name: name, ts: ts})
			break
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ts != candidates[j].ts {
			return candidates[i].ts > candidates[j].ts
		}
		return candidates[i].name > candidates[j].name
	})
	return filepath.Join(st.dir, candidates[0].name), true
}

// Load reads and parses a session file.
func (st *Store) Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	if s.FileStatus == nil {
		s.FileStatus = make(map[string]*FileStatus)
	}
	return &s, nil
}

// Save writes the session atomically: temp file in the same directory,
// fsync, then rename over the target. A reader never observes a partial
// document.
func (st *Store) Save(s *Session, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write session temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync session temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close session temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish session file: %w", err)
	}
	return nil
}
