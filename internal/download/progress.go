// Package download implements the concurrent, resumable download engine:
// the per-file downloader, the orchestrator that schedules it, and the
// progress events callers observe.
package download

import (
	"fmt"
	"sync"
	"time"
)

// Progress is one progress event delivered to the caller. Events carry
// no UI assumptions; any front-end can render them.
type Progress struct {
	// File is the file currently being reported on; empty between files.
	File string

	// Completed/Total/Failed count files in the working set.
	Completed int
	Total     int
	Failed    int

	// BytesPerSec is the instantaneous transfer speed over a sliding window.
	BytesPerSec float64

	// ETA is the estimated remaining time, human formatted; empty when
	// the rate is unknown.
	ETA string

	// Status is a free-form status line.
	Status string

	// Terminal marks per-file completions and the overall completion.
	// Terminal events are always delivered; interior events may be
	// coalesced when the consumer lags.
	Terminal bool
}

// Emitter delivers Progress events over a channel with drop-on-full
// semantics for interior events and guaranteed delivery for terminal
// ones. A nil channel disables emission entirely.
type Emitter struct {
	ch chan<- Progress
}

// NewEmitter wraps an event channel. ch may be nil.
func NewEmitter(ch chan<- Progress) *Emitter {
	return &Emitter{ch: ch}
}

// Interior sends a coalescable event: if the consumer cannot keep up the
// event is dropped.
func (e *Emitter) Interior(p Progress) {
	if e == nil || e.ch == nil {
		return
	}
	select {
	case e.ch <- p:
	default:
	}
}

// Terminal sends an event that must not be lost, blocking until the
// consumer accepts it.
func (e *Emitter) Terminal(p Progress) {
	if e == nil || e.ch == nil {
		return
	}
	p.Terminal = true
	e.ch <- p
}

// speedometer measures transfer speed over a sliding window.
type speedometer struct {
	mu      sync.Mutex
	window  time.Duration
	samples []speedSample
	total   int64
}

type speedSample struct {
	at    time.Time
	bytes int64
}

func newSpeedometer(window time.Duration) *speedometer {
	return &speedometer{window: window}
}

// Add records n transferred bytes at the current time.
func (s *speedometer) Add(n int64) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += n
	s.samples = append(s.samples, speedSample{at: now, bytes: n})
	s.trim(now)
}

// Rate returns bytes/second over the window.
func (s *speedometer) Rate() float64 {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trim(now)
	if len(s.samples) == 0 {
		return 0
	}
	elapsed := now.Sub(s.samples[0].at).Seconds()
	if elapsed <= 0 {
		elapsed = s.window.Seconds()
	}
	var sum int64
	for _, sample := range s.samples {
		sum += sample.bytes
	}
	return float64(sum) / elapsed
}

// Total returns all bytes recorded since creation.
func (s *speedometer) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *speedometer) trim(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = s.samples[i:]
	}
}

// formatETA renders an estimated remaining duration for humans.
func formatETA(remaining int64, rate float64) string {
	if rate <= 0 || remaining <= 0 {
		return ""
	}
	eta := time.Duration(float64(remaining)/rate) * time.Second
	switch {
	case eta >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(eta.Hours()), int(eta.Minutes())%60)
	case eta >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(eta.Minutes()), int(eta.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(eta.Seconds()))
	}
}
