// Package identifier normalizes user input into a canonical archive
// identifier and its metadata endpoint URL.
package identifier

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ia-tools/ia-get/internal/constants"
)

// InvalidIdentifierError is returned when the input is neither a bare
// identifier nor a recognizable archive URL.
type InvalidIdentifierError struct {
	Input  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Input, e.Reason)
}

// Normalized is the result of resolving an input string.
type Normalized struct {
	// Identifier is the bare archive identifier.
	Identifier string

	// MetadataURL is the canonical metadata endpoint for the identifier.
	MetadataURL string
}

// Normalize maps any accepted input form to its canonical identifier.
//
// Accepted forms:
//   - bare identifier ("nasa")
//   - details URL ("https://archive.org/details/nasa")
//   - metadata URL ("https://archive.org/metadata/nasa")
//
// Normalizing an already-normalized identifier is a no-op, so
// Normalize(Normalize(x).Identifier) always equals Normalize(x).
func Normalize(input string) (*Normalized, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &InvalidIdentifierError{Input: input, Reason: "empty input"}
	}

	if id, ok := identifierFromURL(trimmed); ok {
		return normalized(id)
	}

	// A bare identifier never contains a path separator or a dot; anything
	// else that failed URL extraction is URL-shaped garbage.
	if strings.ContainsAny(trimmed, "/.") {
		return nil, &InvalidIdentifierError{
			Input:  input,
			Reason: "looks like a URL but is not an archive.org details or metadata URL",
		}
	}

	return normalized(trimmed)
}

func normalized(id string) (*Normalized, error) {
	if id == "" {
		return nil, &InvalidIdentifierError{Input: id, Reason: "empty identifier"}
	}
	return &Normalized{
		Identifier:  id,
		MetadataURL: fmt.Sprintf(constants.MetadataURLFormat, id),
	}, nil
}

// identifierFromURL extracts the identifier from a details- or
// metadata-style archive URL. Returns false for anything else.
func identifierFromURL(input string) (string, bool) {
	u, err := url.Parse(input)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host != constants.ArchiveHost && !strings.HasSuffix(host, "."+constants.ArchiveHost) {
		return "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", false
	}
	switch parts[0] {
	case "details", "metadata":
		// Identifiers never contain slashes; extra path segments after the
		// identifier (e.g. a file path on a details page) are ignored.
		return parts[1], parts[1] != ""
	}
	return "", false
}
