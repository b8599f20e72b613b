// Package sanitize produces filesystem-safe names and paths for archive
// identifiers and file names across platforms.
//
// Both operations are pure and idempotent: applying them to their own
// output is a no-op. The regexes are compiled once at init.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ia-tools/ia-get/internal/constants"
)

// Characters that cause trouble in shells or filesystems. Kept in one
// place so identifier and filename handling agree on the set.
const unsafeChars = "<>:\"|?*\\/&$!%^()[]{};"

var (
	collapseRuns  = regexp.MustCompile(`[-_]{2,}`)
	reservedStems = map[string]struct{}{
		"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
		"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
		"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
		"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
		"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
	}
)

// Identifier turns an archive identifier into a safe directory name.
//
// Unsafe and control characters are removed, spaces become underscores,
// runs of '-' or '_' collapse to one, and leading/trailing '. -_' are
// trimmed. An empty result falls back to "archive". Results longer than
// 200 characters are truncated with a hash suffix derived from the
// original so distinct identifiers stay distinct.
func Identifier(s string) string {
	original := s

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(unsafeChars, r):
			// drop
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := collapseRuns.ReplaceAllString(b.String(), "_")
	out = strings.Trim(out, ". -_")

	if out == "" {
		return "archive"
	}
	if len(out) > constants.MaxIdentifierLength {
		suffix := shortHash(original)
		out = out[:constants.MaxIdentifierLength-len(suffix)-1] + "-" + suffix
	}
	return out
}

// Filename turns a single path component into a safe filename.
//
// Unlike Identifier, unsafe characters are replaced (not dropped) with
// underscores so names stay recognizable. Windows reserved stems get a
// "_file" suffix before the extension. Results are capped at 255
// characters, preserving the extension where possible.
func Filename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(unsafeChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()

	ext := path.Ext(out)
	stem := strings.TrimSuffix(out, ext)
	if _, reserved := reservedStems[strings.ToUpper(stem)]; reserved {
		stem += "_file"
		out = stem + ext
	}

	if len(out) > constants.MaxFilenameLength {
		if len(ext) > 0 && len(ext) < constants.MaxFilenameLength {
			out = out[:constants.MaxFilenameLength-len(ext)] + ext
		} else {
			out = out[:constants.MaxFilenameLength]
		}
	}
	return out
}

// RelativePath sanitizes a slash-separated relative file name from item
// metadata, component by component, preserving the directory structure.
// Components that would escape the target root ("..", empty, absolute)
// are rejected.
func RelativePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute file name not allowed: %s", name)
	}

	parts := strings.Split(name, "/")
	sanitized := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			return "", fmt.Errorf("file name escapes target directory: %s", name)
		}
		sanitized = append(sanitized, Filename(part))
	}
	if len(sanitized) == 0 {
		return "", fmt.Errorf("file name reduces to nothing: %s", name)
	}
	return strings.Join(sanitized, "/"), nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
