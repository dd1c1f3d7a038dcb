// Package stream implements the consumer side of the capture ring.
//
// [Pump] is the ring's only reader. It drains the ring on a fixed cadence in
// bounded chunks and fans each chunk out to a fixed set of sinks (history,
// recorder) plus at most one live subscriber. Delivery to the subscriber never
// blocks: a full queue drops the chunk and counts it, so a slow client cannot
// stall the consumer or the real-time producer behind it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/codec"
	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

var (
	// ErrBusy is returned by [Pump.Subscribe] while another live subscriber is
	// attached.
	ErrBusy = errors.New("stream: a live client is already connected")

	// ErrClosed is returned by [Pump.Subscribe] after the pump has stopped.
	ErrClosed = errors.New("stream: pump stopped")
)

// Sink receives every drained chunk. Write is called from the pump goroutine
// only; the frames slice is reused after Write returns.
type Sink interface {
	Write(frames []audio.Frame) error
	Close() error
}

// Config tunes the drain loop.
type Config struct {
	// DrainInterval is the period between drain passes.
	DrainInterval time.Duration

	// ChunkFrames caps the frames popped and delivered per chunk.
	ChunkFrames int

	// QueueSize is the number of encoded payloads buffered per subscriber.
	QueueSize int
}

// Option configures a [Pump].
type Option func(*Pump)

// WithSinks adds fixed sinks. They are closed when [Pump.Run] returns.
func WithSinks(sinks ...Sink) Option {
	return func(p *Pump) { p.sinks = append(p.sinks, sinks...) }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pump) { p.metrics = m }
}

// Pump drains a [ring.Buffer] and distributes its frames.
type Pump struct {
	rb      *ring.Buffer
	cfg     Config
	sinks   []Sink
	metrics *observe.Metrics
	chunk   []audio.Frame

	mu     sync.Mutex
	sub    *Subscription
	closed bool

	frames atomic.Uint64
	passes atomic.Uint64
}

// NewPump validates cfg and returns a pump reading from rb.
func NewPump(rb *ring.Buffer, cfg Config, opts ...Option) (*Pump, error) {
	if rb == nil {
		return nil, errors.New("stream: ring buffer is nil")
	}
	if cfg.DrainInterval <= 0 {
		return nil, errors.New("stream: drain interval must be positive")
	}
	if cfg.ChunkFrames <= 0 {
		return nil, errors.New("stream: chunk frames must be positive")
	}
	if cfg.QueueSize <= 0 {
		return nil, errors.New("stream: queue size must be positive")
	}
	p := &Pump{
		rb:    rb,
		cfg:   cfg,
		chunk: make([]audio.Frame, cfg.ChunkFrames),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Run drains the ring every DrainInterval until ctx is cancelled. It then
// performs a final drain so frames pushed before shutdown still reach the
// sinks, detaches the subscriber, and closes the sinks.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()
		case <-ticker.C:
			p.Drain(ctx)
		}
	}
}

func (p *Pump) shutdown() error {
	n := p.Drain(context.Background())
	slog.Debug("stream: final drain", "frames", n)

	p.mu.Lock()
	p.closed = true
	if p.sub != nil {
		p.detachLocked(p.sub)
	}
	p.mu.Unlock()

	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain pops chunks until the ring is empty and delivers each one. It returns
// the number of frames drained. Drain must only be called from one goroutine
// at a time; Run calls it on every tick.
//
// The first pop of each pass goes through TryPop unconditionally, so a pass
// that finds the ring empty is counted as an underflow.
func (p *Pump) Drain(ctx context.Context) int {
	start := time.Now()
	total := 0
	for {
		n := p.rb.TryPop(p.chunk, len(p.chunk))
		if n == 0 {
			break
		}
		total += n
		p.deliver(ctx, p.chunk[:n])
		if p.rb.AvailableToRead() == 0 {
			break
		}
	}
	p.passes.Add(1)
	if total > 0 {
		p.frames.Add(uint64(total))
		p.metrics.FramesDrained.Add(ctx, int64(total))
		p.metrics.DrainDuration.Record(ctx, time.Since(start).Seconds())
	}
	return total
}

func (p *Pump) deliver(ctx context.Context, frames []audio.Frame) {
	for _, s := range p.sinks {
		if err := s.Write(frames); err != nil {
			slog.Warn("stream: sink write failed", "sink", fmt.Sprintf("%T", s), "err", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sub := p.sub
	if sub == nil {
		return
	}
	payloads, err := sub.enc.Encode(frames)
	if err != nil {
		p.metrics.RecordEncodeError(ctx, sub.enc.Name())
		slog.Warn("stream: encode failed", "session_id", sub.ID, "encoding", sub.enc.Name(), "err", err)
	}
	for _, b := range payloads {
		select {
		case sub.ch <- b:
		default:
			sub.dropped.Add(1)
			p.metrics.ClientChunkDrops.Add(ctx, 1)
		}
	}
}

// Subscribe attaches the single live subscriber. Payloads produced by enc are
// delivered on the subscription's channel until [Subscription.Close] is called
// or the pump stops.
func (p *Pump) Subscribe(enc codec.Encoder) (*Subscription, error) {
	if enc == nil {
		return nil, errors.New("stream: encoder is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.sub != nil {
		return nil, ErrBusy
	}
	sub := &Subscription{
		ID:   uuid.NewString(),
		enc:  enc,
		ch:   make(chan []byte, p.cfg.QueueSize),
		pump: p,
	}
	p.sub = sub
	return sub, nil
}

// Busy reports whether a live subscriber is attached.
func (p *Pump) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

// Frames returns the total number of frames drained.
func (p *Pump) Frames() uint64 { return p.frames.Load() }

// Passes returns the number of drain passes performed.
func (p *Pump) Passes() uint64 { return p.passes.Load() }

// detachLocked clears sub and closes its channel. Caller must hold mu.
func (p *Pump) detachLocked(sub *Subscription) {
	if p.sub != sub {
		return
	}
	p.sub = nil
	close(sub.ch)
}

// Subscription is a live client's view of the stream.
type Subscription struct {
	// ID identifies the session in logs and traces.
	ID string

	enc     codec.Encoder
	ch      chan []byte
	dropped atomic.Uint64
	pump    *Pump
}

// C returns the payload channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Encoding returns the encoder name.
func (s *Subscription) Encoding() string { return s.enc.Name() }

// Dropped returns the number of payloads discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription so another client may connect. It is safe
// to call more than once and after the pump has stopped.
func (s *Subscription) Close() {
	s.pump.mu.Lock()
	defer s.pump.mu.Unlock()
	s.pump.detachLocked(s)
}
