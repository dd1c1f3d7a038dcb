// Package audio defines the types and interfaces shared between the host audio
// graph, the real-time producer, and the consumers that ship frames off-box.
//
// The two primary abstractions are:
//
//   - [Host]: an audio graph that captures two mono channels and invokes a
//     [Processor] once per audio quantum on its real-time thread.
//   - [Processor]: the callback target for each quantum. The producer in
//     package audio/producer is the canonical implementation.
//
// Host implementations live in adapter packages (audio/portaudio,
// audio/synth, audio/wavfile, audio/mock). The interfaces are narrow so the
// application can swap capture backends without touching the ring buffer.
package audio

import "errors"

// ErrHostClosed is returned by [Host.Start] once the host has been closed.
var ErrHostClosed = errors.New("audio: host closed")

// Processor receives planar dual-mono audio, one quantum per call.
//
// OnAudioQuantum is invoked on the host's real-time thread. Implementations
// must not block, allocate, or take locks. They return the number of frames
// accepted downstream and a non-nil error only for precondition violations
// (quantum larger than provisioned, short channel buffers).
type Processor interface {
	OnAudioQuantum(left, right []float32, frameCount int) (int, error)
}

// Host is a source of real-time audio quanta.
//
// The lifecycle is: construct, query [Host.MaxQuantum] and [Host.SampleRate]
// to size downstream buffers, call [Host.Start] with the processor, and
// finally call [Host.Close]. Implementations must be safe for concurrent use
// of Done and Close.
type Host interface {
	// Name is a short identifier used in logs ("portaudio", "synth", ...).
	Name() string

	// SampleRate reports the stream rate in Hz.
	SampleRate() int

	// MaxQuantum reports the largest frame count the host will ever pass to
	// [Processor.OnAudioQuantum]. It is fixed before Start is called.
	MaxQuantum() int

	// Start begins delivering quanta to p. It returns once the stream is
	// running; delivery continues on a host-owned goroutine or thread. A
	// closed host cannot be restarted and returns [ErrHostClosed].
	Start(p Processor) error

	// Done is closed when the host terminates the session on its own (device
	// lost, file exhausted, server shutdown). It is not closed by Close.
	Done() <-chan struct{}

	// Close stops delivery and releases the device. After Close returns no
	// further OnAudioQuantum calls are made. Calling Close more than once is
	// a no-op.
	Close() error
}
