package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ia-tools/ia-get/internal/constants"
	"github.com/ia-tools/ia-get/internal/download"
	"github.com/ia-tools/ia-get/internal/progress"
	"github.com/ia-tools/ia-get/internal/session"
)

var (
	outputDir         string
	includeFormats    []string
	excludeFormats    []string
	minSizeFlag       string
	maxSizeFlag       string
	sourceTypes       []string
	concurrency       int
	enableCompression bool
	autoDecompress    bool
	decompressFormats []string
	dryRun            bool
	noVerify          bool
	preserveMtime     bool
	sessionDir        string
)

func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory (item files go in a subdirectory named after the identifier)")
	cmd.Flags().StringSliceVarP(&includeFormats, "include", "i", nil, "Only download files matching these formats or extensions")
	cmd.Flags().StringSliceVarP(&excludeFormats, "exclude", "x", nil, "Skip files matching these formats or extensions")
	cmd.Flags().StringVar(&minSizeFlag, "min-size", "", "Minimum file size (e.g. 1M, 500K)")
	cmd.Flags().StringVar(&maxSizeFlag, "max-size", "", "Maximum file size (e.g. 2G)")
	cmd.Flags().StringSliceVar(&sourceTypes, "source", []string{"original"}, "Source classes to download: original, derivative, metadata")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", constants.DefaultConcurrency,
		fmt.Sprintf("Concurrent downloads (%d-%d)", constants.MinConcurrency, constants.MaxConcurrency))
	cmd.Flags().BoolVar(&enableCompression, "compress", false, "Request compressed transfer encoding")
	cmd.Flags().BoolVar(&autoDecompress, "decompress", false, "Expand downloaded archives and compressed files")
	cmd.Flags().StringSliceVar(&decompressFormats, "decompress-formats", nil, "Restrict --decompress to these formats (default: all recognized)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve the working set and print it without downloading")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip MD5 verification of downloaded files")
	cmd.Flags().BoolVar(&preserveMtime, "preserve-mtime", false, "Set file modification times from item metadata")
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "Session directory (default ~/.ia-get/sessions)")
}

func runDownload(ctx context.Context, identifierOrURL string) error {
	minSize, err := parseSize(minSizeFlag)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	maxSize, err := parseSize(maxSizeFlag)
	if err != nil {
		return fmt.Errorf("invalid --max-size: %w", err)
	}

	req := download.Request{
		IdentifierOrURL:   identifierOrURL,
		OutputDir:         outputDir,
		IncludeFormats:    includeFormats,
		ExcludeFormats:    excludeFormats,
		MinSize:           minSize,
		MaxSize:           maxSize,
		SourceTypes:       sourceTypes,
		Concurrency:       concurrency,
		EnableCompression: enableCompression,
		AutoDecompress:    autoDecompress,
		DecompressFormats: decompressFormats,
		DryRun:            dryRun,
		VerifyMD5:         !noVerify,
		PreserveMtime:     preserveMtime,
		SessionDir:        sessionDir,
	}

	events := make(chan download.Progress, 64)
	console := progress.NewConsole()
	rendered := make(chan struct{})
	go func() {
		console.Run(events)
		close(rendered)
	}()

	start := time.Now()
	eng := download.NewEngine(logger)
	outcome, err := eng.Download(ctx, req, events)
	close(events)
	<-rendered
	if err != nil {
		return err
	}

	if outcome.DryRun {
		printWorkingSet(outcome.Session)
		return nil
	}

	printSummary(outcome, time.Since(start))

	_, _, failed, _ := outcome.Session.Counts()
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed; rerun to retry", failed)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("cancelled; rerun to resume from %s", outcome.SessionPath)
	}
	return nil
}

// printWorkingSet renders the dry-run table of selected files.
func printWorkingSet(sess *session.Session) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSIZE\tFORMAT\tSOURCE")

	var total int64
	for _, name := range sess.RequestedFiles {
		fs, ok := sess.FileStatus[name]
		if !ok {
			continue
		}
		entry := fs.FileInfo
		size := "-"
		if entry.Size.Valid {
			size = formatBytes(entry.Size.Value)
			total += entry.Size.Value
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.Name, size, entry.Format, entry.Source)
	}
	w.Flush()
	fmt.Printf("\n%d files, %s total (dry run, nothing downloaded)\n",
		len(sess.RequestedFiles), formatBytes(total))
}

// printSummary renders the end-of-run totals.
func printSummary(outcome *download.Outcome, elapsed time.Duration) {
	sess := outcome.Session
	completed, skipped, failed, pending := sess.Counts()

	var bytes int64
	for _, fs := range sess.FileStatus {
		bytes += fs.BytesDownloaded
	}

	fmt.Printf("\n%d completed, %d skipped, %d failed", completed, skipped, failed)
	if pending > 0 {
		fmt.Printf(", %d pending", pending)
	}
	fmt.Printf(" - %s in %s\n", formatBytes(bytes), elapsed.Round(time.Second))
	if failed > 0 || pending > 0 {
		fmt.Printf("session: %s\n", outcome.SessionPath)
	}
}

// parseSize parses human byte sizes: plain integers are bytes, and K/M/G/T
// suffixes (optionally with B or iB) are binary multiples.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	upper := strings.ToUpper(s)
	upper = strings.TrimSuffix(upper, "IB")
	upper = strings.TrimSuffix(upper, "B")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(upper, "K"):
		multiplier = 1 << 10
		upper = strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "M"):
		multiplier = 1 << 20
		upper = strings.TrimSuffix(upper, "M")
	case strings.HasSuffix(upper, "G"):
		multiplier = 1 << 30
		upper = strings.TrimSuffix(upper, "G")
	case strings.HasSuffix(upper, "T"):
		multiplier = 1 << 40
		upper = strings.TrimSuffix(upper, "T")
	}

	n, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q as a size", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative: %q", s)
	}
	return int64(n * float64(multiplier)), nil
}

// formatBytes renders a byte count for humans.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for next := n / unit; next >= unit; next /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
