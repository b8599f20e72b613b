package download

import (
	"testing"
	"time"
)

func TestEmitterInteriorDropsWhenFull(t *testing.T) {
	ch := make(chan Progress, 1)
	e := NewEmitter(ch)

	e.Interior(Progress{Status: "first"})
	// Channel is full now; this must not block.
	done := make(chan struct{})
	go func() {
		e.Interior(Progress{Status: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Interior blocked on a full channel")
	}

	got := <-ch
	if got.Status != "first" {
		t.Errorf("delivered = %q, want the first event", got.Status)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event %+v, second should have been dropped", ev)
	default:
	}
}

func TestEmitterTerminalAlwaysDelivered(t *testing.T) {
	ch := make(chan Progress)
	e := NewEmitter(ch)

	delivered := make(chan Progress, 1)
	go func() {
		delivered <- <-ch
	}()

	e.Terminal(Progress{Status: "done"})
	got := <-delivered
	if !got.Terminal || got.Status != "done" {
		t.Errorf("terminal event = %+v", got)
	}
}

func TestEmitterNilChannelSafe(t *testing.T) {
	var e *Emitter
	e.Interior(Progress{})
	e.Terminal(Progress{})

	e = NewEmitter(nil)
	e.Interior(Progress{})
	e.Terminal(Progress{})
}

func TestSpeedometer(t *testing.T) {
	s := newSpeedometer(time.Second)
	s.Add(1000)
	s.Add(1000)

	if s.Total() != 2000 {
		t.Errorf("Total = %d, want 2000", s.Total())
	}
	if rate := s.Rate(); rate <= 0 {
		t.Errorf("Rate = %f, want positive", rate)
	}
}

func TestSpeedometerWindowExpiry(t *testing.T) {
	s := newSpeedometer(10 * time.Millisecond)
	s.Add(1000)
	time.Sleep(30 * time.Millisecond)
	if rate := s.Rate(); rate != 0 {
		t.Errorf("Rate = %f after window expiry, want 0", rate)
	}
	// Total is lifetime, not windowed.
	if s.Total() != 1000 {
		t.Errorf("Total = %d, want 1000", s.Total())
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		remaining int64
		rate      float64
		want      string
	}{
		{0, 100, ""},
		{100, 0, ""},
		{500, 100, "5s"},
		{90 * 100, 100, "1m30s"},
		{3700 * 100, 100, "1h01m"},
	}
	for _, tt := range tests {
		if got := formatETA(tt.remaining, tt.rate); got != tt.want {
			t.Errorf("formatETA(%d, %f) = %q, want %q", tt.remaining, tt.rate, got, tt.want)
		}
	}
}
