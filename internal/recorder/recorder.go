// Package recorder writes captured audio to 16-bit stereo WAV files.
//
// [Recorder] is a pump sink that records continuously and starts a new file
// every rotation period. [WriteWAV] saves a finished slice of frames in one
// call and is used by the dump CLI.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/pkg/audio"
)

const (
	bitDepth   = 16
	channels   = 2
	pcmFormat  = 1 // WAVE_FORMAT_PCM
	filePrefix = "ringsock-"
	timeLayout = "20060102-150405"
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithClock overrides the time source used for file names and rotation.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics records opened files on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder is a continuous WAV sink. Files are opened lazily on the first
// write so an idle recorder leaves no empty files behind.
type Recorder struct {
	dir    string
	rate   int
	rotate time.Duration

	now     func() time.Time
	metrics *observe.Metrics

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	opened  time.Time
	samples []int
	files   []string
}

// New creates a recorder writing into dir. rotate <= 0 disables rotation.
func New(dir string, sampleRate int, rotate time.Duration, opts ...Option) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("recorder: directory is required")
	}
	if sampleRate <= 0 {
		return nil, errors.New("recorder: sample rate must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create directory: %w", err)
	}
	r := &Recorder{
		dir:    dir,
		rate:   sampleRate,
		rotate: rotate,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Write appends frames to the current file, rotating first when the file is
// older than the rotation period.
func (r *Recorder) Write(frames []audio.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.enc != nil && r.rotate > 0 && now.Sub(r.opened) >= r.rotate {
		if err := r.closeFile(); err != nil {
			return err
		}
	}
	if r.enc == nil {
		if err := r.openFile(now); err != nil {
			return err
		}
	}

	r.samples = appendSamples(r.samples[:0], frames)
	if err := r.enc.Write(r.intBuffer(r.samples)); err != nil {
		return fmt.Errorf("recorder: write %s: %w", r.file.Name(), err)
	}
	return nil
}

// Files returns the paths of every file opened so far, oldest first.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

// Close finalises the current file's WAV header. Calling Close more than once
// is safe; a later Write starts a new file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFile()
}

// openFile creates the next file. Caller must hold mu.
func (r *Recorder) openFile(now time.Time) error {
	base := filePrefix + now.Format(timeLayout)
	path := filepath.Join(r.dir, base+".wav")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s-%d.wav", base, i))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	r.file = f
	r.enc = wav.NewEncoder(f, r.rate, bitDepth, channels, pcmFormat)
	r.opened = now
	r.files = append(r.files, path)
	if r.metrics != nil {
		r.metrics.RecorderFiles.Add(context.Background(), 1)
	}
	slog.Info("recorder: file opened", "path", path)
	return nil
}

// closeFile finalises and closes the current file. Caller must hold mu.
func (r *Recorder) closeFile() error {
	if r.enc == nil {
		return nil
	}
	var errs []error
	if err := r.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: finalise %s: %w", r.file.Name(), err))
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: close %s: %w", r.file.Name(), err))
	}
	r.enc, r.file = nil, nil
	return errors.Join(errs...)
}

func (r *Recorder) intBuffer(data []int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: r.rate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
}

// appendSamples appends frames to dst as interleaved 16-bit sample values.
func appendSamples(dst []int, frames []audio.Frame) []int {
	for _, f := range frames {
		dst = append(dst, int(audio.FloatToInt16(f.L)), int(audio.FloatToInt16(f.R)))
	}
	return dst
}

// WriteWAV saves frames as a 16-bit stereo WAV file at path, creating parent
// directories as needed.
func WriteWAV(path string, frames []audio.Frame, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("recorder: sample rate must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("recorder: create directories: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, pcmFormat)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           appendSamples(make([]int, 0, len(frames)*channels), frames),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}); err != nil {
		return fmt.Errorf("recorder: write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("recorder: finalise %s: %w", path, err)
	}
	return nil
}
