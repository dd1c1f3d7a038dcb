// Package wavfile provides an [audio.Host] that replays a WAV file at
// real-time cadence. Mono files feed the same signal to both channels; files
// with more than two channels use the first two.
//
// The whole file is decoded into planar float buffers when the host is
// opened, so playback slices pre-decoded memory and never allocates.
package wavfile

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithLoop restarts playback from the beginning at end of file instead of
// ending the session.
func WithLoop(loop bool) Option {
	return func(h *Host) { h.loop = loop }
}

// WithInterval overrides the tick interval. The default is the quantum
// duration at the file's sample rate. Tests use this to replay faster than
// real time.
func WithInterval(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.interval = d
		}
	}
}

// Host replays decoded PCM one quantum per tick.
type Host struct {
	path     string
	rate     int
	quantum  int
	loop     bool
	interval time.Duration

	left  []float32
	right []float32

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	stopped  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// Open decodes the WAV file at path and prepares a host delivering quantum
// frames per callback.
func Open(path string, quantum int, opts ...Option) (*Host, error) {
	if quantum <= 0 {
		return nil, errors.New("wavfile: quantum must be positive")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels < 1 {
		return nil, fmt.Errorf("wavfile: %q has no channels", path)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("wavfile: %q has unsupported bit depth %d", path, bitDepth)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("wavfile: %q contains no samples", path)
	}

	h := &Host{
		path:    path,
		rate:    int(dec.SampleRate),
		quantum: quantum,
		left:    make([]float32, frames),
		right:   make([]float32, frames),
		done:    make(chan struct{}),
	}
	scale := float32(int64(1) << (bitDepth - 1))
	// 8-bit PCM is unsigned and centred on 128; wider depths are signed.
	bias := 0
	if bitDepth == 8 {
		bias = 128
	}
	for i := range frames {
		l := float32(buf.Data[i*channels]-bias) / scale
		r := l
		if channels > 1 {
			r = float32(buf.Data[i*channels+1]-bias) / scale
		}
		h.left[i], h.right[i] = l, r
	}

	h.interval = audio.Format{SampleRate: h.rate}.Duration(quantum)
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name implements [audio.Host].
func (h *Host) Name() string { return "wav" }

// SampleRate implements [audio.Host].
func (h *Host) SampleRate() int { return h.rate }

// MaxQuantum implements [audio.Host].
func (h *Host) MaxQuantum() int { return h.quantum }

// Frames returns the number of decoded frames.
func (h *Host) Frames() int { return len(h.left) }

// Done implements [audio.Host]. Closed after the last quantum when not
// looping.
func (h *Host) Done() <-chan struct{} { return h.done }

// Start implements [audio.Host].
func (h *Host) Start(p audio.Processor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("wavfile: start: %w", audio.ErrHostClosed)
	}
	if h.stop != nil {
		return errors.New("wavfile: already started")
	}
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})
	go h.run(p, h.stop, h.stopped)
	return nil
}

// Close implements [audio.Host]. It waits for the playback loop to exit. A
// closed host cannot be started again.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	stop, stopped := h.stop, h.stopped
	h.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-stopped
	return nil
}

func (h *Host) run(p audio.Processor, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		end := min(pos+h.quantum, len(h.left))
		_, _ = p.OnAudioQuantum(h.left[pos:end], h.right[pos:end], end-pos)
		pos = end

		if pos == len(h.left) {
			if !h.loop {
				h.doneOnce.Do(func() { close(h.done) })
				return
			}
			pos = 0
		}
	}
}
