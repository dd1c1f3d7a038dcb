// Package synth provides a clocked sine-wave [audio.Host] for development and
// tests. Each channel carries an independent tone so interleaving mistakes
// are audible and easy to assert on.
package synth

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// Config describes the generated signal.
type Config struct {
	// SampleRate in Hz. Required.
	SampleRate int

	// Quantum is the number of frames per callback. Required.
	Quantum int

	// LeftHz and RightHz are the tone frequencies per channel. Zero produces
	// silence on that channel.
	LeftHz  float64
	RightHz float64

	// Amplitude scales both tones. Values outside (0, 1] are clamped to 1.
	Amplitude float64
}

// Host generates two sine tones and delivers them one quantum per tick.
// Planar buffers are allocated once in [New]; the tick loop does not allocate.
type Host struct {
	cfg   Config
	left  []float32
	right []float32
	phase [2]float64
	step  [2]float64

	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
	done    chan struct{}
}

// New validates cfg and prepares the generator.
func New(cfg Config) (*Host, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("synth: sample rate must be positive")
	}
	if cfg.Quantum <= 0 {
		return nil, errors.New("synth: quantum must be positive")
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = 1
	}
	return &Host{
		cfg:   cfg,
		left:  make([]float32, cfg.Quantum),
		right: make([]float32, cfg.Quantum),
		step: [2]float64{
			2 * math.Pi * cfg.LeftHz / float64(cfg.SampleRate),
			2 * math.Pi * cfg.RightHz / float64(cfg.SampleRate),
		},
		done: make(chan struct{}),
	}, nil
}

// Name implements [audio.Host].
func (h *Host) Name() string { return "synth" }

// SampleRate implements [audio.Host].
func (h *Host) SampleRate() int { return h.cfg.SampleRate }

// MaxQuantum implements [audio.Host].
func (h *Host) MaxQuantum() int { return h.cfg.Quantum }

// Done implements [audio.Host]. The synth host never ends a session on its
// own; the returned channel is never closed.
func (h *Host) Done() <-chan struct{} { return h.done }

// Start implements [audio.Host]. The tick interval is the quantum duration.
func (h *Host) Start(p audio.Processor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("synth: start: %w", audio.ErrHostClosed)
	}
	if h.stop != nil {
		return errors.New("synth: already started")
	}
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})

	interval := audio.Format{SampleRate: h.cfg.SampleRate}.Duration(h.cfg.Quantum)
	go h.run(p, interval, h.stop, h.stopped)
	return nil
}

// Close implements [audio.Host]. It waits for the tick loop to exit. A
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

func (h *Host) run(p audio.Processor, interval time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Generate(h.left, h.right)
			_, _ = p.OnAudioQuantum(h.left, h.right, len(h.left))
		}
	}
}

// Generate fills left and right with the next samples of each tone and
// advances the oscillators. It is exported so tests can check the signal
// without a clock.
func (h *Host) Generate(left, right []float32) {
	amp := h.cfg.Amplitude
	for i := range left {
		left[i] = float32(amp * math.Sin(h.phase[0]))
		h.phase[0] = math.Mod(h.phase[0]+h.step[0], 2*math.Pi)
	}
	for i := range right {
		right[i] = float32(amp * math.Sin(h.phase[1]))
		h.phase[1] = math.Mod(h.phase[1]+h.step[1], 2*math.Pi)
	}
}
