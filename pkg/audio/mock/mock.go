// Package mock provides an in-memory implementation of [audio.Host] for use in
// unit tests.
//
// The mock host never runs a clock of its own: tests drive quanta explicitly
// with [Host.Feed] and simulate the host ending the session with
// [Host.Terminate]. It records every lifecycle call so tests can assert on
// call counts, and it exposes exported fields to control return values.
//
// Typical usage:
//
//	host := &mock.Host{Rate: 48000, Quantum: 256}
//	p, _ := producer.New(rb, host.MaxQuantum())
//	_ = host.Start(p)
//	host.Feed([]float32{1, 2}, []float32{3, 4})
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// ErrNotStarted is returned by [Host.Feed] before Start has been called or
// after Close.
var ErrNotStarted = errors.New("mock: host not started")

// FeedResult records the outcome of a single [Host.Feed] call.
type FeedResult struct {
	// Frames is the frame count passed to the processor.
	Frames int
	// Pushed is the processor's return value.
	Pushed int
	// Err is the processor's error.
	Err error
}

// Host is a mock implementation of [audio.Host].
// Set the exported fields before use; inspect the Call* fields after.
type Host struct {
	mu sync.Mutex

	// HostName is returned by Name. Defaults to "mock".
	HostName string

	// Rate is returned by SampleRate.
	Rate int

	// Quantum is returned by MaxQuantum.
	Quantum int

	// StartError is returned by Start.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Feeds records every Feed call in order.
	Feeds []FeedResult

	processor audio.Processor
	done      chan struct{}
	doneOnce  sync.Once
}

// Name implements [audio.Host].
func (h *Host) Name() string {
	if h.HostName == "" {
		return "mock"
	}
	return h.HostName
}

// SampleRate implements [audio.Host].
func (h *Host) SampleRate() int { return h.Rate }

// MaxQuantum implements [audio.Host].
func (h *Host) MaxQuantum() int { return h.Quantum }

// Start implements [audio.Host]. Records the call and stores p for Feed.
func (h *Host) Start(p audio.Processor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStart++
	if h.StartError != nil {
		return h.StartError
	}
	h.processor = p
	return nil
}

// Done implements [audio.Host].
func (h *Host) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doneChan()
}

// Close implements [audio.Host]. After Close, Feed returns ErrNotStarted.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	h.processor = nil
	return h.CloseError
}

// Feed delivers one quantum to the started processor synchronously, the way
// a host's real-time callback would. The frame count is len(left).
func (h *Host) Feed(left, right []float32) (int, error) {
	h.mu.Lock()
	p := h.processor
	h.mu.Unlock()
	if p == nil {
		return 0, ErrNotStarted
	}

	pushed, err := p.OnAudioQuantum(left, right, len(left))

	h.mu.Lock()
	h.Feeds = append(h.Feeds, FeedResult{Frames: len(left), Pushed: pushed, Err: err})
	h.mu.Unlock()
	return pushed, err
}

// Terminate simulates the host ending the session: Done is closed.
// Calling Terminate more than once is safe.
func (h *Host) Terminate() {
	h.mu.Lock()
	ch := h.doneChan()
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(ch) })
}

// doneChan lazily creates the done channel. Caller must hold mu.
func (h *Host) doneChan() chan struct{} {
	if h.done == nil {
		h.done = make(chan struct{})
	}
	return h.done
}
