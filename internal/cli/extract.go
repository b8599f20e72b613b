package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ia-tools/ia-get/internal/extract"
	"github.com/ia-tools/ia-get/internal/progress"
)

// newExtractCmd expands an already-downloaded file in place.
func newExtractCmd() *cobra.Command {
	var formatTag string

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Decompress or extract a downloaded file",
		Long: `Expand a compressed file or archive previously downloaded.

Single-stream formats (gzip, bzip2, xz, zstd) decompress to a sibling
file with the compression extension stripped. Archives (tar, tar.gz,
tar.bz2, tar.xz, zip) extract into a sibling directory. The source file
is never deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args[0], formatTag)
		},
	}

	cmd.Flags().StringVar(&formatTag, "format", "", "Force the format when the extension is ambiguous (gzip, bzip2, xz, zstd, tar, zip)")
	return cmd
}

func runExtract(cmd *cobra.Command, path, formatTag string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	kind := extract.Detect(path, formatTag)
	if kind == extract.KindNone {
		return fmt.Errorf("%s is not a recognized compressed format (use --format to force one)", path)
	}

	reporter := progress.NewBarReporter()
	reporter.Start(info.Size(), path)

	outputs, err := extract.ExpandWithProgress(cmd.Context(), path, kind, reporter.Update)
	reporter.Finish()
	if err != nil {
		reporter.Error(err)
		return fmt.Errorf("failed to expand %s: %w", path, err)
	}

	logger.Info().Str("path", path).Str("format", kind.String()).Int("outputs", len(outputs)).Msg("Expansion complete")
	if kind.IsArchive() {
		fmt.Printf("extracted %d file(s) from %s\n", len(outputs), path)
	} else {
		for _, out := range outputs {
			fmt.Printf("decompressed %s -> %s\n", path, out)
		}
	}
	return nil
}
