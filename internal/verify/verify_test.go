package verify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ia-tools/ia-get/internal/metadata"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func md5Of(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestMD5(t *testing.T) {
	const content = "some downloaded bytes"
	path := writeFile(t, "file.bin", content)

	if err := MD5(context.Background(), path, md5Of(content)); err != nil {
		t.Errorf("matching hash rejected: %v", err)
	}
	if err := MD5(context.Background(), path, strings.ToUpper(md5Of(content))); err != nil {
		t.Errorf("uppercase hash rejected: %v", err)
	}
	if err := MD5(context.Background(), path, ""); err != nil {
		t.Errorf("empty expected hash must pass: %v", err)
	}

	err := MD5(context.Background(), path, md5Of("different"))
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *HashMismatchError", err)
	}
	if mismatch.Actual != md5Of(content) {
		t.Errorf("Actual = %s, want %s", mismatch.Actual, md5Of(content))
	}
}

func TestMD5MissingFile(t *testing.T) {
	err := MD5(context.Background(), filepath.Join(t.TempDir(), "nope"), "abc")
	if err == nil {
		t.Error("missing file passed verification")
	}
}

func TestMD5Cancelled(t *testing.T) {
	path := writeFile(t, "file.bin", "content")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := MD5(ctx, path, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func validXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<files>
  <file name="track01.mp3" source="original">
    <size>8388608</size>
  </file>
</files>`
}

func TestXML(t *testing.T) {
	size := func(v int64) metadata.FlexInt { return metadata.FlexInt{Value: v, Valid: true} }

	tests := []struct {
		name     string
		content  string
		declared metadata.FlexInt
		wantFail bool
	}{
		{name: "valid document", content: validXML()},
		{name: "valid with declared size", content: validXML(), declared: size(int64(len(validXML())))},
		{name: "size within tolerance", content: validXML(), declared: size(int64(len(validXML())) + 50)},
		{name: "size beyond tolerance", content: validXML(), declared: size(int64(len(validXML())) + 500), wantFail: true},
		{name: "leading BOM accepted", content: "\ufeff" + validXML()},
		{name: "leading whitespace accepted", content: "\n  " + validXML()},
		{name: "too small", content: "<a>", wantFail: true},
		{name: "not xml at all", content: "just some plain text here", wantFail: true},
		{name: "unbalanced brackets", content: "<files><file name=\"x\" <<", wantFail: true},
		{name: "no archive tokens", content: "<html><body>error page</body></html>", wantFail: true},
		{name: "invalid utf8", content: "<files>\xff\xfe</files> name=", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "doc.xml", tt.content)
			err := XML(path, tt.declared)
			if tt.wantFail && err == nil {
				t.Error("XML() = nil, want error")
			}
			if !tt.wantFail && err != nil {
				t.Errorf("XML() error: %v", err)
			}
		})
	}
}

func TestXMLMissingFile(t *testing.T) {
	if err := XML(filepath.Join(t.TempDir(), "gone.xml"), metadata.FlexInt{}); err == nil {
		t.Error("missing XML file passed validation")
	}
}

func TestFileDispatch(t *testing.T) {
	const content = "audio bytes"
	binPath := writeFile(t, "track.mp3", content)

	// Regular file goes through MD5; a stale hash fails it.
	entry := &metadata.FileEntry{Name: "track.mp3", MD5: md5Of("stale")}
	if err := File(context.Background(), binPath, entry); err == nil {
		t.Error("stale MD5 passed for a regular file")
	}

	// XML files skip the (stale) hash and validate structurally.
	xmlPath := writeFile(t, "item_meta.xml", validXML())
	entry = &metadata.FileEntry{Name: "item_meta.xml", MD5: md5Of("stale")}
	if err := File(context.Background(), xmlPath, entry); err != nil {
		t.Errorf("structural validation failed: %v", err)
	}
}
