// Package metadata defines the typed model of an archive item and the
// fetcher that retrieves it from the metadata endpoint.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source classes a file entry can carry.
const (
	SourceOriginal   = "original"
	SourceDerivative = "derivative"
	SourceMetadata   = "metadata"
)

// FlexInt is an optional integer that tolerates the metadata endpoint's
// loose typing: values arrive as JSON numbers, numeric strings, empty
// strings, or null. Negative values are rejected.
type FlexInt struct {
	Value int64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	f.Value, f.Valid = 0, false

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}

	s := string(trimmed)
	if s[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(trimmed, &unquoted); err != nil {
			return err
		}
		unquoted = strings.TrimSpace(unquoted)
		if unquoted == "" {
			return nil
		}
		s = unquoted
	}

	// Some generated entries carry fractional mtimes; truncate them.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cannot parse %q as integer: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("negative value %d not allowed", v)
	}

	f.Value, f.Valid = v, true
	return nil
}

// MarshalJSON implements json.Marshaler. Absent values serialize as null
// so a round-tripped entry stays distinguishable from an explicit zero.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, f.Value, 10), nil
}

// Int returns the value, or def when absent.
func (f FlexInt) Int(def int64) int64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

// FileEntry describes one file of an item as enumerated by the metadata
// endpoint. Name is relative to ItemMetadata.Dir and may contain slashes.
type FileEntry struct {
	Name   string  `json:"name"`
	Source string  `json:"source,omitempty"`
	Format string  `json:"format,omitempty"`
	Size   FlexInt `json:"size,omitempty"`
	Mtime  FlexInt `json:"mtime,omitempty"`
	MD5    string  `json:"md5,omitempty"`
	SHA1   string  `json:"sha1,omitempty"`
	CRC32  string  `json:"crc32,omitempty"`
	BTIH   string  `json:"btih,omitempty"`
}

// IsXML reports whether the entry is one of the archive-generated XML
// files whose recorded hashes are known to go stale.
func (f *FileEntry) IsXML() bool {
	return strings.HasSuffix(strings.ToLower(f.Name), ".xml")
}

// ItemMetadata is the typed form of the metadata document for one item.
// Unknown fields in the upstream JSON are ignored.
type ItemMetadata struct {
	Created         FlexInt                    `json:"created,omitempty"`
	ItemLastUpdated FlexInt                    `json:"item_last_updated,omitempty"`
	Dir             string                     `json:"dir"`
	Server          string                     `json:"server,omitempty"`
	WorkableServers []string                   `json:"workable_servers,omitempty"`
	ItemSize        FlexInt                    `json:"item_size,omitempty"`
	FilesCount      FlexInt                    `json:"files_count,omitempty"`
	Files           []FileEntry                `json:"files"`
	Metadata        map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Servers returns the delivery hosts to try, in order. The preferred
// server leads when it is not already listed.
func (m *ItemMetadata) Servers() []string {
	if m.Server == "" {
		return m.WorkableServers
	}
	for _, s := range m.WorkableServers {
		if s == m.Server {
			return m.WorkableServers
		}
	}
	servers := make([]string, 0, len(m.WorkableServers)+1)
	servers = append(servers, m.Server)
	servers = append(servers, m.WorkableServers...)
	return servers
}

// Field returns the string value of a free-form metadata field (title,
// creator, ...). Array-valued fields yield their first element.
func (m *ItemMetadata) Field(key string) string {
	raw, ok := m.Metadata[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
