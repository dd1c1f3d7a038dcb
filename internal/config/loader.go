package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidEncodings lists the live stream encodings understood by the codec
// package.
var ValidEncodings = []string{"s16le", "f32le", "opus"}

// opusRates are the sample rates the Opus encoder accepts.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Validate checks that cfg contains a coherent set of values. Defaults should
// be applied first. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	addrs := map[string]string{}
	for _, a := range []struct{ key, addr string }{
		{"server.listen_addr", cfg.Server.ListenAddr},
		{"server.stream_addr", cfg.Server.StreamAddr},
		{"server.http_addr", cfg.Server.HTTPAddr},
	} {
		if a.addr == "" || a.addr == "-" || strings.HasSuffix(a.addr, ":0") {
			continue
		}
		if prev, ok := addrs[a.addr]; ok {
			errs = append(errs, fmt.Errorf("%s %q is already used by %s", a.key, a.addr, prev))
		}
		addrs[a.addr] = a.key
	}

	// Audio
	if !cfg.Audio.Host.IsValid() {
		errs = append(errs, fmt.Errorf("audio.host %q is invalid; valid values: synth, wav, portaudio", cfg.Audio.Host))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.MaxQuantum <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_quantum %d must be positive", cfg.Audio.MaxQuantum))
	}
	for i, kind := range cfg.Audio.Fallback {
		switch {
		case !kind.IsValid():
			errs = append(errs, fmt.Errorf("audio.fallback[%d] %q is invalid; valid values: synth, wav, portaudio", i, kind))
		case kind == cfg.Audio.Host:
			errs = append(errs, fmt.Errorf("audio.fallback[%d] %q repeats audio.host", i, kind))
		case slices.Contains(cfg.Audio.Fallback[:i], kind):
			errs = append(errs, fmt.Errorf("audio.fallback[%d] %q is listed twice", i, kind))
		}
	}
	if (cfg.Audio.Host == HostWAV || slices.Contains(cfg.Audio.Fallback, HostWAV)) && cfg.Audio.WAVFile == "" {
		errs = append(errs, errors.New("audio.wav_file is required when the wav host is used"))
	}
	if a := cfg.Audio.Synth.Amplitude; a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("audio.synth.amplitude %.2f is out of range [0, 1]", a))
	}
	if cfg.Audio.Host != HostWAV && cfg.Audio.Loop {
		slog.Warn("audio.loop only applies to the wav host", "host", cfg.Audio.Host)
	}

	// Ring
	if c := cfg.Ring.Capacity; c != 0 {
		if c < 0 || c&(c-1) != 0 {
			errs = append(errs, fmt.Errorf("ring.capacity %d must be a power of two", c))
		} else if cfg.Audio.MaxQuantum > 0 && c < 2*cfg.Audio.MaxQuantum {
			errs = append(errs, fmt.Errorf("ring.capacity %d must hold at least two quanta (%d frames)", c, 2*cfg.Audio.MaxQuantum))
		}
	}
	if cfg.Ring.MaxStall < 0 {
		errs = append(errs, fmt.Errorf("ring.max_stall %s must not be negative", cfg.Ring.MaxStall))
	}

	// Stream
	if !slices.Contains(ValidEncodings, strings.ToLower(cfg.Stream.Encoding)) {
		errs = append(errs, fmt.Errorf("stream.encoding %q is invalid; valid values: %s", cfg.Stream.Encoding, strings.Join(ValidEncodings, ", ")))
	} else if strings.EqualFold(cfg.Stream.Encoding, "opus") && cfg.Audio.Host != HostWAV && !slices.Contains(opusRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("stream.encoding opus does not support audio.sample_rate %d", cfg.Audio.SampleRate))
	}
	if cfg.Stream.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("stream.drain_interval %s must be positive", cfg.Stream.DrainInterval))
	}
	if cfg.Stream.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("stream.chunk_frames %d must be positive", cfg.Stream.ChunkFrames))
	}
	if cfg.Stream.ClientQueue <= 0 {
		errs = append(errs, fmt.Errorf("stream.client_queue %d must be positive", cfg.Stream.ClientQueue))
	}
	if cfg.Stream.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.write_timeout %s must be positive", cfg.Stream.WriteTimeout))
	}

	// History
	if cfg.History.Seconds <= 0 {
		errs = append(errs, fmt.Errorf("history.seconds %d must be positive", cfg.History.Seconds))
	}

	// Recorder
	if cfg.Recorder.Enabled && cfg.Recorder.Dir == "" {
		errs = append(errs, errors.New("recorder.dir is required when recorder.enabled is true"))
	}
	if cfg.Recorder.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("recorder.max_failures %d must not be negative", cfg.Recorder.MaxFailures))
	}
	if cfg.Recorder.RetryAfter < 0 {
		errs = append(errs, fmt.Errorf("recorder.retry_after %s must not be negative", cfg.Recorder.RetryAfter))
	}
	if cfg.Recorder.Rotate < 0 {
		errs = append(errs, fmt.Errorf("recorder.rotate %s must not be negative", cfg.Recorder.Rotate))
	} else if cfg.Recorder.Enabled && cfg.Recorder.Rotate > 0 && cfg.Recorder.Rotate < time.Second {
		slog.Warn("recorder.rotate is very short; expect many small files", "rotate", cfg.Recorder.Rotate)
	}

	// Monitor
	if cfg.Monitor.Interval < 0 {
		errs = append(errs, fmt.Errorf("monitor.interval %s must not be negative", cfg.Monitor.Interval))
	}

	// Telemetry
	if !slices.Contains(ValidTraceExports, cfg.Telemetry.Traces) {
		errs = append(errs, fmt.Errorf("telemetry.traces %q is invalid; valid values: %s", cfg.Telemetry.Traces, strings.Join(ValidTraceExports, ", ")))
	}
	if r := cfg.Telemetry.SampleRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v is out of range (0, 1]", r))
	}

	return errors.Join(errs...)
}
