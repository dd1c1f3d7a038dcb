// Package producer converts planar dual-mono quanta from the host audio graph
// into interleaved stereo frames and publishes them to a [ring.Buffer].
//
// [Producer.OnAudioQuantum] runs on the host's real-time thread. It performs
// no heap allocation, takes no locks, makes no system calls, and never logs.
// Its cost is linear in the frame count and independent of consumer speed.
// Overflow is handled by the ring buffer's drop-newest policy and surfaces
// only as [ring.Buffer.Dropped]; faults are inspected asynchronously by a
// non-real-time observer.
package producer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// Compile-time interface assertion.
var _ audio.Processor = (*Producer)(nil)

var (
	// ErrQuantumTooLarge is returned by [New] when the requested scratch size
	// is not positive or exceeds half of the ring capacity.
	ErrQuantumTooLarge = errors.New("producer: quantum does not fit the ring buffer")

	// ErrQuantumExceedsScratch is returned by [Producer.OnAudioQuantum] when
	// frameCount is larger than the provisioned scratch buffer.
	ErrQuantumExceedsScratch = errors.New("producer: quantum exceeds scratch buffer")

	// ErrShortChannel is returned by [Producer.OnAudioQuantum] when a channel
	// buffer holds fewer than frameCount samples.
	ErrShortChannel = errors.New("producer: channel buffer shorter than frame count")
)

// Producer interleaves two mono channels into a ring buffer.
//
// A Producer is driven by exactly one goroutine (the host's real-time
// callback). Stop, Stopped, and the counter accessors are safe to call from
// any goroutine.
type Producer struct {
	rb      *ring.Buffer
	scratch []audio.Frame

	stopped  atomic.Bool
	quanta   atomic.Uint64
	rejected atomic.Uint64
}

// New creates a Producer writing into rb with a scratch buffer of maxQuantum
// frames. maxQuantum must be the largest quantum the host will ever deliver.
// The ring must hold at least two quanta.
func New(rb *ring.Buffer, maxQuantum int) (*Producer, error) {
	if rb == nil {
		return nil, errors.New("producer: ring buffer is nil")
	}
	if maxQuantum <= 0 {
		return nil, fmt.Errorf("%w: max quantum %d", ErrQuantumTooLarge, maxQuantum)
	}
	if maxQuantum > rb.Capacity()/2 {
		return nil, fmt.Errorf("%w: max quantum %d, ring capacity %d", ErrQuantumTooLarge, maxQuantum, rb.Capacity())
	}
	return &Producer{
		rb:      rb,
		scratch: make([]audio.Frame, maxQuantum),
	}, nil
}

// MaxQuantum returns the scratch buffer size in frames.
func (p *Producer) MaxQuantum() int { return len(p.scratch) }

// OnAudioQuantum interleaves left[i] and right[i] for i in [0, frameCount)
// and pushes the frames into the ring buffer. It returns the number of frames
// the ring accepted; the remainder was dropped and counted by the ring.
//
// After [Producer.Stop] it returns (0, nil) without touching the ring.
func (p *Producer) OnAudioQuantum(left, right []float32, frameCount int) (int, error) {
	if p.stopped.Load() {
		return 0, nil
	}
	if frameCount > len(p.scratch) {
		p.rejected.Add(1)
		return 0, ErrQuantumExceedsScratch
	}
	if frameCount < 0 || len(left) < frameCount || len(right) < frameCount {
		p.rejected.Add(1)
		return 0, ErrShortChannel
	}

	audio.Interleave(p.scratch[:frameCount], left[:frameCount], right[:frameCount])
	pushed := p.rb.TryPush(p.scratch, frameCount)
	p.quanta.Add(1)
	return pushed, nil
}

// Process adapts planar host buffers (in[0] = left, in[1] = right) to
// [Producer.OnAudioQuantum]. Buffers with fewer than two channels are
// rejected. Errors are counted in [Producer.Rejected].
func (p *Producer) Process(in [][]float32) {
	if len(in) < 2 {
		p.rejected.Add(1)
		return
	}
	_, _ = p.OnAudioQuantum(in[0], in[1], len(in[0]))
}

// Stop makes all subsequent OnAudioQuantum calls no-ops. Frames already in the
// ring stay there for the consumer to drain.
func (p *Producer) Stop() { p.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (p *Producer) Stopped() bool { return p.stopped.Load() }

// Quanta returns the number of quanta interleaved and pushed.
func (p *Producer) Quanta() uint64 { return p.quanta.Load() }

// Rejected returns the number of quanta refused by precondition checks.
func (p *Producer) Rejected() uint64 { return p.rejected.Load() }
