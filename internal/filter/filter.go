// Package filter selects the working set of files from item metadata.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/ia-tools/ia-get/internal/metadata"
)

// Spec describes which files of an item to download.
//
// Format sets are matched case-insensitively against both the entry's
// format label and its filename extension. An empty include set means
// "all formats"; an empty exclude set means "none". Exclude wins when a
// file matches both.
type Spec struct {
	IncludeFormats []string
	ExcludeFormats []string

	// MinSize/MaxSize are inclusive byte bounds; zero means unbounded.
	// Files with unknown size always pass the size rules.
	MinSize int64
	MaxSize int64

	// SourceClasses restricts entries by source. Must be non-empty;
	// callers default to {original}.
	SourceClasses []string
}

// Validate rejects specs the engine cannot act on.
func (s *Spec) Validate() error {
	if len(s.SourceClasses) == 0 {
		return fmt.Errorf("at least one source class is required")
	}
	for _, c := range s.SourceClasses {
		switch c {
		case metadata.SourceOriginal, metadata.SourceDerivative, metadata.SourceMetadata:
		default:
			return fmt.Errorf("unknown source class %q", c)
		}
	}
	if s.MinSize < 0 || s.MaxSize < 0 {
		return fmt.Errorf("size bounds must be non-negative")
	}
	if s.MinSize > 0 && s.MaxSize > 0 && s.MinSize > s.MaxSize {
		return fmt.Errorf("min size %d exceeds max size %d", s.MinSize, s.MaxSize)
	}
	return nil
}

// Apply returns the files satisfying the spec, preserving source order.
// The result is always a subsequence of the input.
func Apply(files []metadata.FileEntry, spec Spec) []metadata.FileEntry {
	include := lowerSet(spec.IncludeFormats)
	exclude := lowerSet(spec.ExcludeFormats)
	sources := lowerSet(spec.SourceClasses)

	var selected []metadata.FileEntry
	for _, f := range files {
		if _, ok := sources[strings.ToLower(f.Source)]; !ok {
			continue
		}
		if len(include) > 0 && !matchesFormat(&f, include) {
			continue
		}
		if len(exclude) > 0 && matchesFormat(&f, exclude) {
			continue
		}
		if !sizeAllowed(f.Size, spec.MinSize, spec.MaxSize) {
			continue
		}
		selected = append(selected, f)
	}
	return selected
}

// matchesFormat reports whether the entry's format label or filename
// extension appears in the (lowercased) set.
func matchesFormat(f *metadata.FileEntry, set map[string]struct{}) bool {
	if _, ok := set[strings.ToLower(f.Format)]; ok {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
	if ext == "" {
		return false
	}
	_, ok := set[ext]
	return ok
}

func sizeAllowed(size metadata.FlexInt, min, max int64) bool {
	if !size.Valid {
		return true
	}
	if min > 0 && size.Value < min {
		return false
	}
	if max > 0 && size.Value > max {
		return false
	}
	return true
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
