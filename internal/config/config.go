// Package config provides the configuration schema, loader, watcher and host
// registry for the ringsock capture server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// LogLevel controls log verbosity for the ringsock server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding [slog.Level]. Unknown and empty
// values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// HostKind selects the audio host that drives the producer.
type HostKind string

const (
	// HostSynth generates two sine tones.
	HostSynth HostKind = "synth"

	// HostWAV replays a WAV file.
	HostWAV HostKind = "wav"

	// HostPortAudio captures from a sound card.
	HostPortAudio HostKind = "portaudio"
)

// IsValid reports whether h is a recognised host kind.
func (h HostKind) IsValid() bool {
	switch h {
	case HostSynth, HostWAV, HostPortAudio:
		return true
	}
	return false
}

// Config is the root configuration structure for ringsock.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Ring     RingConfig     `yaml:"ring"`
	Stream   StreamConfig   `yaml:"stream"`
	History  HistoryConfig  `yaml:"history"`
	Recorder RecorderConfig `yaml:"recorder"`
	Monitor  MonitorConfig  `yaml:"monitor"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the command socket (e.g., ":8888").
	ListenAddr string `yaml:"listen_addr"`

	// StreamAddr is the TCP address of the length-prefixed live stream.
	StreamAddr string `yaml:"stream_addr"`

	// HTTPAddr serves /metrics, /healthz, /readyz, /stats and /ws. The
	// value "-" disables the HTTP server.
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// HTTPEnabled reports whether the HTTP server should run.
func (s ServerConfig) HTTPEnabled() bool { return s.HTTPAddr != "" && s.HTTPAddr != "-" }

// AudioConfig selects and configures the audio host.
type AudioConfig struct {
	// Host is the host kind. Default: synth.
	Host HostKind `yaml:"host"`

	// SampleRate in Hz. Default: 48000. The wav host uses the file's rate.
	SampleRate int `yaml:"sample_rate"`

	// MaxQuantum is the largest number of frames per callback. Default: 1024.
	MaxQuantum int `yaml:"max_quantum"`

	// Device is a PortAudio input device name substring.
	Device string `yaml:"device"`

	// WAVFile is the file replayed by the wav host.
	WAVFile string `yaml:"wav_file"`

	// Loop restarts WAV playback at end of file.
	Loop bool `yaml:"loop"`

	// Synth configures the synth host.
	Synth SynthConfig `yaml:"synth"`

	// Fallback lists host kinds tried in order when Host cannot be opened.
	Fallback []HostKind `yaml:"fallback"`
}

// SynthConfig configures the sine generator.
type SynthConfig struct {
	LeftHz    float64 `yaml:"left_hz"`
	RightHz   float64 `yaml:"right_hz"`
	Amplitude float64 `yaml:"amplitude"`
}

// RingConfig sizes the capture ring.
type RingConfig struct {
	// Capacity in frames. Must be a power of two. Zero derives the capacity
	// from MaxStall.
	Capacity int `yaml:"capacity"`

	// MaxStall is the longest consumer stall the ring should absorb without
	// dropping frames. Default: 500ms.
	MaxStall time.Duration `yaml:"max_stall"`
}

// StreamConfig tunes the consumer pump and live clients.
type StreamConfig struct {
	// Encoding is the live stream payload format: s16le, f32le or opus.
	Encoding string `yaml:"encoding"`

	// DrainInterval is the pump period. Default: 5ms.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// ChunkFrames caps frames per delivered chunk. Default: 1024.
	ChunkFrames int `yaml:"chunk_frames"`

	// ClientQueue is the number of payloads buffered per client. Default: 64.
	ClientQueue int `yaml:"client_queue"`

	// WriteTimeout bounds a single client write. Default: 2s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HistoryConfig sizes the dump window.
type HistoryConfig struct {
	// Seconds of audio retained. Default: 10.
	Seconds int `yaml:"seconds"`
}

// RecorderConfig controls continuous WAV recording.
type RecorderConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	Rotate  time.Duration `yaml:"rotate"`

	// MaxFailures is the number of consecutive write errors after which
	// recording pauses. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// RetryAfter is how long recording stays paused before a trial write.
	// Default: 30s.
	RetryAfter time.Duration `yaml:"retry_after"`
}

// MonitorConfig controls overflow/underflow logging.
type MonitorConfig struct {
	// Interval between checks. Default: 1s.
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig controls span export.
type TelemetryConfig struct {
	// Traces is "none" or "stdout". Default: none.
	Traces string `yaml:"traces"`

	// SampleRatio is the fraction of client sessions traced, in (0, 1].
	// Default: 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ValidTraceExports lists the accepted telemetry.traces values.
var ValidTraceExports = []string{"none", "stdout"}

// Defaults.
const (
	DefaultListenAddr       = ":8888"
	DefaultStreamAddr       = ":8889"
	DefaultHTTPAddr         = ":9090"
	DefaultSampleRate       = 48000
	DefaultMaxQuantum       = 1024
	DefaultMaxStall         = 500 * time.Millisecond
	DefaultEncoding         = "s16le"
	DefaultDrainInterval    = 5 * time.Millisecond
	DefaultChunkFrames      = 1024
	DefaultClientQueue      = 64
	DefaultWriteTimeout     = 2 * time.Second
	DefaultHistorySecs      = 10
	DefaultRecorderDir      = "recordings"
	DefaultRotate           = 10 * time.Minute
	DefaultRecorderFailures = 5
	DefaultRecorderRetry    = 30 * time.Second
	DefaultMonitorEvery     = time.Second
	DefaultTraces           = "none"
	DefaultSampleRatio      = 1.0
)

// ApplyDefaults fills zero-valued fields with their defaults. It is
// idempotent.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, DefaultListenAddr)
	setDefault(&c.Server.StreamAddr, DefaultStreamAddr)
	setDefault(&c.Server.HTTPAddr, DefaultHTTPAddr)
	setDefault(&c.Server.LogLevel, LogInfo)

	setDefault(&c.Audio.Host, HostSynth)
	setDefault(&c.Audio.SampleRate, DefaultSampleRate)
	setDefault(&c.Audio.MaxQuantum, DefaultMaxQuantum)
	setDefault(&c.Audio.Synth.LeftHz, 440)
	setDefault(&c.Audio.Synth.RightHz, 660)
	setDefault(&c.Audio.Synth.Amplitude, 0.25)

	setDefault(&c.Ring.MaxStall, DefaultMaxStall)

	setDefault(&c.Stream.Encoding, DefaultEncoding)
	setDefault(&c.Stream.DrainInterval, DefaultDrainInterval)
	setDefault(&c.Stream.ChunkFrames, DefaultChunkFrames)
	setDefault(&c.Stream.ClientQueue, DefaultClientQueue)
	setDefault(&c.Stream.WriteTimeout, DefaultWriteTimeout)

	setDefault(&c.History.Seconds, DefaultHistorySecs)

	setDefault(&c.Recorder.Dir, DefaultRecorderDir)
	setDefault(&c.Recorder.Rotate, DefaultRotate)
	setDefault(&c.Recorder.MaxFailures, DefaultRecorderFailures)
	setDefault(&c.Recorder.RetryAfter, DefaultRecorderRetry)

	setDefault(&c.Monitor.Interval, DefaultMonitorEvery)

	setDefault(&c.Telemetry.Traces, DefaultTraces)
	setDefault(&c.Telemetry.SampleRatio, DefaultSampleRatio)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// RingCapacity returns the ring capacity in frames for a host delivering
// maxQuantum frames at sampleRate. An explicit Ring.Capacity wins; otherwise
// the capacity is the next power of two holding both MaxStall worth of audio
// and two quanta.
func (c *Config) RingCapacity(sampleRate, maxQuantum int) int {
	if c.Ring.Capacity > 0 {
		return c.Ring.Capacity
	}
	stall := int(c.Ring.MaxStall.Seconds() * float64(sampleRate))
	return ring.NextPowerOfTwo(max(stall, 2*maxQuantum, 2))
}
