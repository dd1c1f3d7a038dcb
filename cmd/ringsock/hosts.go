package main

import (
	"log/slog"

	"github.com/MrWong99/ringsock/internal/config"
	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/portaudio"
	"github.com/MrWong99/ringsock/pkg/audio/synth"
	"github.com/MrWong99/ringsock/pkg/audio/wavfile"
)

// registerBuiltinHosts wires every built-in host factory into reg.
func registerBuiltinHosts(reg *config.Registry) {
	reg.RegisterHost(config.HostSynth, func(c config.AudioConfig) (audio.Host, error) {
		return synth.New(synth.Config{
			SampleRate: c.SampleRate,
			Quantum:    c.MaxQuantum,
			LeftHz:     c.Synth.LeftHz,
			RightHz:    c.Synth.RightHz,
			Amplitude:  c.Synth.Amplitude,
		})
	})

	reg.RegisterHost(config.HostWAV, func(c config.AudioConfig) (audio.Host, error) {
		return wavfile.Open(c.WAVFile, c.MaxQuantum, wavfile.WithLoop(c.Loop))
	})

	reg.RegisterHost(config.HostPortAudio, func(c config.AudioConfig) (audio.Host, error) {
		return portaudio.Open(portaudio.Config{
			Device:     c.Device,
			SampleRate: c.SampleRate,
			Quantum:    c.MaxQuantum,
		})
	})

	for _, kind := range reg.Hosts() {
		slog.Debug("registered host", "kind", kind)
	}
}
