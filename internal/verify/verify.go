// Package verify checks downloaded files against the metadata record.
//
// Regular files are verified by MD5. Archive-generated XML files carry
// stale hashes in the metadata, so they get a structural validation
// instead.
package verify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/metadata"
)

// HashMismatchError is returned when a file's MD5 disagrees with the
// recorded hash.
type HashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("MD5 mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// minXMLSize - structural validation rejects anything smaller.
const minXMLSize = 10

// File verifies a downloaded file against its metadata entry, picking
// the right mode: structural validation for XML files, MD5 otherwise.
func File(ctx context.Context, path string, entry *metadata.FileEntry) error {
	if entry.IsXML() {
		return XML(path, entry.Size)
	}
	return MD5(ctx, path, entry.MD5)
}

// MD5 streams the file, computes its MD5, and compares it
// case-insensitively to expected. An empty expected hash passes
// vacuously. The hash loop checks for cancellation at every chunk so
// large files stay interruptible.
func MD5(ctx context.Context, path string, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file for verification: %w", err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, constants.VerifyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read file for verification: %w", readErr)
		}
	}

	if expected == "" {
		return nil
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return &HashMismatchError{Path: path, Expected: strings.ToLower(expected), Actual: actual}
	}
	return nil
}

// XML structurally validates an archive XML file:
//   - exists and is at least 10 bytes
//   - when a size is recorded, the actual size is within max(10%, 100 B)
//   - content decodes as UTF-8 and starts with "<?xml" or "<"
//   - '<' and '>' counts balance
//   - at least one archive-idiom token is present
func XML(path string, declaredSize metadata.FlexInt) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("XML file missing: %w", err)
	}
	if info.Size() < minXMLSize {
		return fmt.Errorf("XML file %s too small: %d bytes", path, info.Size())
	}

	if declaredSize.Valid {
		tolerance := declaredSize.Value / 10
		if tolerance < 100 {
			tolerance = 100
		}
		diff := info.Size() - declaredSize.Value
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			return fmt.Errorf("XML file %s size %d deviates from declared %d beyond tolerance %d",
				path, info.Size(), declaredSize.Value, tolerance)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read XML file: %w", err)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("XML file %s is not valid UTF-8", path)
	}

	content := strings.TrimPrefix(string(data), "\ufeff")
	content = strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(content, "<?xml") && !strings.HasPrefix(content, "<") {
		return fmt.Errorf("XML file %s does not start with an XML declaration or tag", path)
	}

	if open, close := strings.Count(content, "<"), strings.Count(content, ">"); open != close {
		return fmt.Errorf("XML file %s has unbalanced brackets: %d '<' vs %d '>'", path, open, close)
	}

	for _, token := range []string{"<files>", "<file ", "name=", "size="} {
		if strings.Contains(content, token) {
			return nil
		}
	}
	return fmt.Errorf("XML file %s carries no recognizable archive structure", path)
}
