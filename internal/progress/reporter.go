package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives byte-level progress for one long-running operation,
// such as expanding an archive.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// BarReporter renders a single progress bar on stderr.
type BarReporter struct {
	bar *progressbar.ProgressBar
}

// NewBarReporter creates a bar-backed reporter.
func NewBarReporter() *BarReporter {
	return &BarReporter{}
}

// Start initializes the bar. A total of -1 renders a spinner.
func (p *BarReporter) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(truncatePath(description, 2)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to the current position.
func (p *BarReporter) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *BarReporter) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints the error below the bar.
func (p *BarReporter) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// NoOpReporter discards all progress.
type NoOpReporter struct{}

func (NoOpReporter) Start(total int64, description string) {}
func (NoOpReporter) Update(current int64)                  {}
func (NoOpReporter) Finish()                               {}
func (NoOpReporter) Error(err error)                       {}

// CountingReader wraps a reader and feeds the byte count to a reporter.
type CountingReader struct {
	reader   io.Reader
	reporter Reporter
	current  int64
}

// NewCountingReader creates a progress-reporting reader.
func NewCountingReader(reader io.Reader, reporter Reporter) *CountingReader {
	return &CountingReader{reader: reader, reporter: reporter}
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.current += int64(n)
	cr.reporter.Update(cr.current)
	return n, err
}

// truncatePath shortens a path to its last maxComponents components.
// Example: truncatePath("/a/b/c/d/file.txt", 2) → "…/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
