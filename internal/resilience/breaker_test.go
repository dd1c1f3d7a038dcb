package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		Now:          clk.now,
	}), clk
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := range 3 {
		if err := b.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v, want errTest", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
	if b.Trips() != 1 || b.Rejections() != 1 {
		t.Errorf("trips=%d rejections=%d, want 1 and 1", b.Trips(), b.Rejections())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial error
		want  State
	}{
		{name: "success closes", trial: nil, want: StateClosed},
		{name: "failure re-opens", trial: errTest, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clk := newTestBreaker(1, time.Second)
			_ = b.Execute(func() error { return errTest })

			clk.advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", b.State())
			}
			_ = b.Execute(func() error { return tt.trial })
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	_ = b.Execute(func() error { return errTest })
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
