// Package progress renders download and extraction progress for the CLI.
// It consumes the engine's event stream and draws with mpb when stderr is
// a terminal, falling back to plain text lines otherwise.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/ia-tools/ia-get/internal/download"
)

// Console renders engine progress events on stderr.
type Console struct {
	progress   *mpb.Progress
	bar        *mpb.Bar
	isTerminal bool

	// updated from events, read by decorators
	rate   atomic.Uint64 // math.Float64bits
	eta    atomic.Value  // string
	status atomic.Value  // string
}

// NewConsole creates a console renderer. When stderr is not a terminal
// the bar is suppressed and only per-file completion lines are printed.
func NewConsole() *Console {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	c := &Console{progress: p, isTerminal: isTerminal}
	c.eta.Store("")
	c.status.Store("")
	return c
}

// Run consumes events until the channel is closed. It blocks; callers run
// it on its own goroutine while the engine fills the channel.
func (c *Console) Run(events <-chan download.Progress) {
	for ev := range events {
		c.handle(ev)
	}
	if c.bar != nil {
		c.bar.Abort(true)
	}
	c.progress.Wait()
}

func (c *Console) handle(ev download.Progress) {
	if c.isTerminal && c.bar == nil && ev.Total > 0 {
		c.bar = c.newOverallBar(int64(ev.Total))
	}

	c.rate.Store(math.Float64bits(ev.BytesPerSec))
	c.eta.Store(ev.ETA)
	if ev.Status != "" {
		c.status.Store(ev.Status)
	}

	if c.bar != nil {
		c.bar.SetCurrent(int64(ev.Completed + ev.Failed))
	}

	if ev.Terminal {
		c.println(terminalLine(ev))
	}
}

func (c *Console) newOverallBar(total int64) *mpb.Bar {
	return c.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				return fmt.Sprintf("%d/%d files", s.Current, s.Total)
			}, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				rate := math.Float64frombits(c.rate.Load())
				if rate <= 0 {
					return ""
				}
				return fmt.Sprintf("%.1f MiB/s", rate/(1024*1024))
			}, decor.WCSyncSpace),
			decor.Any(func(s decor.Statistics) string {
				eta, _ := c.eta.Load().(string)
				if eta == "" {
					return ""
				}
				return "ETA " + eta
			}, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// println writes a line above the bar without breaking the redraw cycle.
func (c *Console) println(line string) {
	if line == "" {
		return
	}
	if c.isTerminal {
		_, _ = c.progress.Write([]byte(line + "\n"))
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

func terminalLine(ev download.Progress) string {
	switch {
	case ev.Status == "":
		return ""
	case strings.HasPrefix(ev.Status, "failed "):
		return "✗ " + ev.Status
	case ev.File == "":
		return ev.Status
	default:
		return "✓ " + ev.Status
	}
}
