package resilience

import (
	"errors"
	"sync/atomic"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Sink is the write side guarded by [GuardedSink]. It matches the stream
// pump's sink contract.
type Sink interface {
	Write(frames []audio.Frame) error
	Close() error
}

// GuardedSink forwards writes to an inner sink through a [Breaker]. Chunks
// offered while the breaker is open are counted and discarded, and Write
// returns nil for them so the caller does not log every skipped pass.
type GuardedSink struct {
	inner   Sink
	breaker *Breaker
	skipped atomic.Uint64
}

// NewGuardedSink wraps inner with a breaker built from cfg.
func NewGuardedSink(inner Sink, cfg BreakerConfig) *GuardedSink {
	return &GuardedSink{inner: inner, breaker: NewBreaker(cfg)}
}

// Write forwards frames unless the breaker is open. The error that trips the
// breaker is still returned once.
func (g *GuardedSink) Write(frames []audio.Frame) error {
	err := g.breaker.Execute(func() error { return g.inner.Write(frames) })
	if errors.Is(err, ErrOpen) {
		g.skipped.Add(uint64(len(frames)))
		return nil
	}
	return err
}

// Close closes the inner sink regardless of breaker state.
func (g *GuardedSink) Close() error { return g.inner.Close() }

// State reports the breaker state.
func (g *GuardedSink) State() State { return g.breaker.State() }

// SkippedFrames returns the number of frames discarded while open.
func (g *GuardedSink) SkippedFrames() uint64 { return g.skipped.Load() }

// Breaker exposes the underlying breaker.
func (g *GuardedSink) Breaker() *Breaker { return g.breaker }
