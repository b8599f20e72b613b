package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// expandTar extracts a tar archive (optionally compressed) into root.
// Unix permission modes from the headers are preserved.
func expandTar(ctx context.Context, path string, kind Kind, root string, onRead func(int64)) ([]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	source := tap(in, onRead)

	var reader io.Reader = source
	switch kind {
	case KindTarGz:
		gz, gzErr := gzip.NewReader(source)
		if gzErr != nil {
			return nil, fmt.Errorf("failed to read gzip stream: %w", gzErr)
		}
		defer gz.Close()
		reader = gz
	case KindTarBz2:
		reader = bzip2.NewReader(source)
	case KindTarXz:
		xzr, xzErr := xz.NewReader(source)
		if xzErr != nil {
			return nil, fmt.Errorf("failed to read xz stream: %w", xzErr)
		}
		reader = xzr
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	var outputs []string
	tr := tar.NewReader(reader)
	for {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return outputs, fmt.Errorf("failed to read archive entry: %w", err)
		}

		target, err := securePath(root, hdr.Name)
		if err != nil {
			return outputs, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.FileInfo().Mode())); err != nil {
				return outputs, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(ctx, target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return outputs, err
			}
			outputs = append(outputs, target)
		default:
			// Symlinks and special files from untrusted archives are skipped.
		}
	}
	return outputs, nil
}

// expandZip extracts a zip archive into root. Zip needs random access,
// so onRead advances by compressed entry size rather than stream position.
func expandZip(ctx context.Context, path, root string, onRead func(int64)) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	var consumed int64
	var outputs []string
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}

		target, err := securePath(root, entry.Name)
		if err != nil {
			return outputs, err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, dirMode(entry.Mode())); err != nil {
				return outputs, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return outputs, fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
		}
		err = writeEntry(ctx, target, rc, entry.Mode().Perm())
		rc.Close()
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, target)

		consumed += int64(entry.CompressedSize64)
		if onRead != nil {
			onRead(consumed)
		}
	}
	return outputs, nil
}

// writeEntry streams one archive entry to disk with the given mode.
func writeEntry(ctx context.Context, target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", target, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if err := copyCtx(ctx, out, r); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to finalize %s: %w", target, err)
	}
	return nil
}

func dirMode(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o755
	}
	return perm | 0o700
}
