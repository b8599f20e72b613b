package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ia-tools/ia-get/internal/constants"
)

var (
	longPathOnce    sync.Once
	longPathEnabled bool
)

// ValidatePathLength fails when dir joined with name exceeds the platform
// path limit: 260 characters on classic Windows without long-path
// support, a soft 32767 elsewhere.
func ValidatePathLength(dir, name string) error {
	full := filepath.Join(dir, name)
	limit := PathLimit()
	if len(full) > limit {
		return fmt.Errorf("path length %d exceeds platform limit %d: %s", len(full), limit, full)
	}
	return nil
}

// PathLimit returns the effective maximum path length for this process.
func PathLimit() int {
	if runtime.GOOS != "windows" {
		return constants.ExtendedPathLimit
	}
	longPathOnce.Do(func() {
		longPathEnabled = probeLongPaths()
	})
	if longPathEnabled {
		return constants.ExtendedPathLimit
	}
	return constants.WindowsClassicPathLimit
}

// probeLongPaths detects long-path capability by attempting to create a
// directory chain in the temp directory that exceeds the classic 260
// character limit. Registry state and manifest flags both influence the
// outcome, so an actual filesystem probe is the only reliable signal.
func probeLongPaths() bool {
	base, err := os.MkdirTemp("", "ia-get-pathprobe")
	if err != nil {
		return false
	}
	defer os.RemoveAll(base)

	segment := strings.Repeat("d", 50)
	probe := base
	for len(probe) <= constants.WindowsClassicPathLimit {
		probe = filepath.Join(probe, segment)
	}
	if err := os.MkdirAll(probe, 0o755); err != nil {
		return false
	}
	return true
}
