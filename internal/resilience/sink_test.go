package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/ringsock/pkg/audio"
)

type flakySink struct {
	err    error
	writes int
	closed int
}

func (s *flakySink) Write([]audio.Frame) error {
	s.writes++
	return s.err
}

func (s *flakySink) Close() error {
	s.closed++
	return nil
}

func TestGuardedSink_SkipsWhileOpen(t *testing.T) {
	inner := &flakySink{err: errTest}
	clk := &fakeClock{t: time.Unix(0, 0)}
	g := NewGuardedSink(inner, BreakerConfig{Name: "rec", MaxFailures: 2, ResetTimeout: time.Second, Now: clk.now})
	chunk := make([]audio.Frame, 16)

	for i := range 2 {
		if err := g.Write(chunk); !errors.Is(err, errTest) {
			t.Fatalf("write %d: err = %v, want errTest", i, err)
		}
	}
	if g.State() != StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	for range 3 {
		if err := g.Write(chunk); err != nil {
			t.Fatalf("write while open: %v", err)
		}
	}
	if inner.writes != 2 {
		t.Errorf("inner writes = %d, want 2", inner.writes)
	}
	if got := g.SkippedFrames(); got != 48 {
		t.Errorf("skipped = %d, want 48", got)
	}

	// Disk recovers; the next trial write closes the breaker.
	inner.err = nil
	clk.advance(time.Second)
	if err := g.Write(chunk); err != nil {
		t.Fatalf("trial write: %v", err)
	}
	if g.State() != StateClosed {
		t.Errorf("state = %v, want closed", g.State())
	}
	if inner.writes != 3 {
		t.Errorf("inner writes = %d, want 3", inner.writes)
	}
}

func TestGuardedSink_CloseAlwaysForwarded(t *testing.T) {
	inner := &flakySink{err: errTest}
	g := NewGuardedSink(inner, BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = g.Write(nil)
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if inner.closed != 1 {
		t.Errorf("inner closed %d times, want 1", inner.closed)
	}
}
