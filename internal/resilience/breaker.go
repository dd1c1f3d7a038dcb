// Package resilience keeps failing side paths away from the capture path.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [GuardedSink] puts one in front of a stream sink so a failing disk stops
// being retried on every drain pass. [FirstOf] walks an ordered list of
// candidates and returns the first one that works, which is how host
// fallbacks are resolved at startup.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. One failure
	// re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close.
	// Default: 1.
	HalfOpenMax int

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	trials     int
	trialOK    int
	trips      uint64
	rejections uint64
}

// NewBreaker creates a [Breaker]. Zero-value fields take their defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
	}
}

// Execute runs fn if the breaker allows it and records the outcome. While
// open it returns [ErrOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	trial, ok := b.admit()
	if !ok {
		return ErrOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(trial)
	} else {
		b.succeed(trial)
	}
	return err
}

func (b *Breaker) admit() (trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.rejections++
			return false, false
		}
		b.state = StateHalfOpen
		b.trials, b.trialOK = 0, 0
		slog.Info("resilience: breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.halfOpenMax {
			b.rejections++
			return false, false
		}
		b.trials++
		return true, true
	}
	return false, true
}

// fail must be called with b.mu held.
func (b *Breaker) fail(trial bool) {
	if trial || b.state == StateHalfOpen {
		b.open()
		slog.Warn("resilience: breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.open()
		slog.Warn("resilience: breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(trial bool) {
	if !trial {
		b.failures = 0
		return
	}
	b.trialOK++
	if b.trialOK >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		slog.Info("resilience: breaker closed", "name", b.name)
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trips++
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Rejections returns how many calls were refused while open.
func (b *Breaker) Rejections() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejections
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trials, b.trialOK = 0, 0
}
