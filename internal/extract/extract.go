// Package extract expands downloaded files: single-stream decompression
// into a sibling file, archive extraction into a sibling directory.
//
// Expansion never deletes the source file, and failures are reported to
// the caller without aborting the surrounding download pipeline.
package extract

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/ia-tools/ia-get/internal/constants"
)

// Kind identifies the expansion strategy for a file.
type Kind int

const (
	// KindNone - not a recognized compressed format; expansion is a no-op
	KindNone Kind = iota
	// KindGzip, KindBzip2, KindXz, KindZstd - single-stream formats
	KindGzip
	KindBzip2
	KindXz
	KindZstd
	// KindTar and friends - archives extracted into a directory
	KindTar
	KindTarGz
	KindTarBz2
	KindTarXz
	KindZip
)

// suffixes maps filename suffixes to kinds. Longest match wins, so
// ".tar.gz" is checked before ".gz".
var suffixes = []struct {
	ext  string
	kind Kind
}{
	{".tar.gz", KindTarGz},
	{".tgz", KindTarGz},
	{".tar.bz2", KindTarBz2},
	{".tbz2", KindTarBz2},
	{".tar.xz", KindTarXz},
	{".txz", KindTarXz},
	{".tar.zst", KindNone}, // tar+zstd not produced by the archive
	{".tar", KindTar},
	{".zip", KindZip},
	{".gz", KindGzip},
	{".bz2", KindBzip2},
	{".xz", KindXz},
	{".zst", KindZstd},
}

// formatTags maps metadata format labels (lowercased) to kinds, for
// files whose names carry no recognizable extension.
var formatTags = map[string]Kind{
	"gzip":  KindGzip,
	"bzip2": KindBzip2,
	"xz":    KindXz,
	"zst":   KindZstd,
	"zstd":  KindZstd,
	"tar":   KindTar,
	"zip":   KindZip,
}

// Detect determines the expansion kind from the file name, falling back
// to the metadata format tag.
func Detect(name, formatTag string) Kind {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.ext) {
			return s.kind
		}
	}
	if k, ok := formatTags[strings.ToLower(formatTag)]; ok {
		return k
	}
	return KindNone
}

// IsArchive reports whether the kind expands into a directory.
func (k Kind) IsArchive() bool {
	switch k {
	case KindTar, KindTarGz, KindTarBz2, KindTarXz, KindZip:
		return true
	}
	return false
}

// String returns the format label.
func (k Kind) String() string {
	switch k {
	case KindGzip:
		return "gzip"
	case KindBzip2:
		return "bzip2"
	case KindXz:
		return "xz"
	case KindZstd:
		return "zstd"
	case KindTar:
		return "tar"
	case KindTarGz:
		return "tar.gz"
	case KindTarBz2:
		return "tar.bz2"
	case KindTarXz:
		return "tar.xz"
	case KindZip:
		return "zip"
	}
	return "none"
}

// Expand decompresses or extracts path according to kind.
//
// Single-stream formats write a sibling file named after the source with
// the compression extension stripped. Archives extract into a sibling
// directory of the same base name. Returns the paths produced. KindNone
// returns no outputs and no error.
func Expand(ctx context.Context, path string, kind Kind) ([]string, error) {
	return ExpandWithProgress(ctx, path, kind, nil)
}

// ExpandWithProgress is Expand with an optional hook receiving the
// cumulative count of compressed input bytes consumed. For zip archives
// the hook advances per entry, after each entry completes.
func ExpandWithProgress(ctx context.Context, path string, kind Kind, onRead func(int64)) ([]string, error) {
	switch kind {
	case KindNone:
		return nil, nil
	case KindGzip, KindBzip2, KindXz, KindZstd:
		out, err := expandStream(ctx, path, kind, onRead)
		if err != nil {
			return nil, err
		}
		return []string{out}, nil
	case KindZip:
		return expandZip(ctx, path, baseDir(path), onRead)
	default:
		return expandTar(ctx, path, kind, baseDir(path), onRead)
	}
}

// tapReader counts bytes flowing through a reader.
type tapReader struct {
	r      io.Reader
	onRead func(int64)
	read   int64
}

func tap(r io.Reader, onRead func(int64)) io.Reader {
	if onRead == nil {
		return r
	}
	return &tapReader{r: r, onRead: onRead}
}

func (t *tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read += int64(n)
	t.onRead(t.read)
	return n, err
}

// stripExt removes the (longest) matching compression suffix.
func stripExt(path string) string {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.ext) {
			return path[:len(path)-len(s.ext)]
		}
	}
	return path + ".out"
}

// baseDir is the sibling directory archives extract into.
func baseDir(path string) string {
	return stripExt(path)
}

// expandStream decompresses a single-stream file to its sibling.
func expandStream(ctx context.Context, path string, kind Kind, onRead func(int64)) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer in.Close()

	reader, closer, err := decoder(tap(in, onRead), kind)
	if err != nil {
		return "", fmt.Errorf("failed to initialize %s decoder: %w", kind, err)
	}
	if closer != nil {
		defer closer()
	}

	outPath := stripExt(path)
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}

	if err := copyCtx(ctx, out, reader); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("failed to finalize output file: %w", err)
	}
	return outPath, nil
}

// decoder wraps r with the decompressor for kind. The returned closer,
// when non-nil, releases decoder resources.
func decoder(r io.Reader, kind Kind) (io.Reader, func(), error) {
	switch kind {
	case KindGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case KindBzip2:
		return bzip2.NewReader(r), nil, nil
	case KindXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xzr, nil, nil
	case KindZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr.IOReadCloser(), func() { zr.Close() }, nil
	}
	return nil, nil, fmt.Errorf("no stream decoder for %s", kind)
}

// copyCtx copies with periodic cancellation checks.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, constants.DownloadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// securePath joins an archive entry name onto root, rejecting entries
// that would escape it.
func securePath(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry escapes extraction root: %s", name)
	}
	return filepath.Join(root, cleaned), nil
}
