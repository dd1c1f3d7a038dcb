// Package portaudio provides an [audio.Host] backed by a PortAudio capture
// stream. PortAudio delivers planar float32 buffers to a real-time callback,
// which hands them straight to the processor.
//
// The library is initialised in [Open] and terminated in [Host.Close]. Only
// one host should be open per process.
package portaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// Config selects the capture device and stream shape.
type Config struct {
	// Device is a case-insensitive substring of the input device name. Empty
	// selects the default input device.
	Device string

	// SampleRate in Hz. Required.
	SampleRate int

	// Quantum is the frames-per-buffer requested from PortAudio. Required.
	Quantum int
}

// planarProcessor accepts PortAudio's non-interleaved buffers directly.
// The ring producer implements it.
type planarProcessor interface {
	Process(in [][]float32)
}

// Host captures two input channels from a PortAudio device.
type Host struct {
	cfg    Config
	device *portaudio.DeviceInfo

	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
	done   chan struct{}
}

// Open initialises PortAudio and resolves the input device. No stream is
// opened until [Host.Start].
func Open(cfg Config) (*Host, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("portaudio: sample rate must be positive")
	}
	if cfg.Quantum <= 0 {
		return nil, errors.New("portaudio: quantum must be positive")
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if dev.MaxInputChannels < 2 {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: device %q has %d input channels, need 2", dev.Name, dev.MaxInputChannels)
	}
	return &Host{cfg: cfg, device: dev, done: make(chan struct{})}, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", name)
}

// Name implements [audio.Host]. It includes the device name.
func (h *Host) Name() string { return "portaudio:" + h.device.Name }

// SampleRate implements [audio.Host].
func (h *Host) SampleRate() int { return h.cfg.SampleRate }

// MaxQuantum implements [audio.Host].
func (h *Host) MaxQuantum() int { return h.cfg.Quantum }

// Done implements [audio.Host]. PortAudio has no server-side shutdown
// notification, so the channel is never closed.
func (h *Host) Done() <-chan struct{} { return h.done }

// Start implements [audio.Host]. It opens and starts a low-latency capture
// stream whose callback forwards planar buffers to p.
func (h *Host) Start(p audio.Processor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("portaudio: start: %w", audio.ErrHostClosed)
	}
	if h.stream != nil {
		return errors.New("portaudio: already started")
	}

	params := portaudio.LowLatencyParameters(h.device, nil)
	params.Input.Channels = 2
	params.Output.Channels = 0
	params.SampleRate = float64(h.cfg.SampleRate)
	params.FramesPerBuffer = h.cfg.Quantum

	var callback func(in [][]float32)
	if pp, ok := p.(planarProcessor); ok {
		callback = pp.Process
	} else {
		callback = func(in [][]float32) {
			if len(in) < 2 {
				return
			}
			_, _ = p.OnAudioQuantum(in[0], in[1], len(in[0]))
		}
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	h.stream = stream
	return nil
}

// Close implements [audio.Host]. It stops the stream and terminates
// PortAudio. Calling Close more than once is safe.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.stream != nil {
		if err := h.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := h.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		h.stream = nil
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

// Devices lists the names of input-capable devices.
func Devices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}
