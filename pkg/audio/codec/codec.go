// Package codec encodes interleaved stereo frames into the byte payloads sent
// to live stream clients.
//
// Encoders are owned by a single subscriber and are not safe for concurrent
// use. An encoder may buffer input between calls (Opus packs fixed 20 ms
// frames), so one Encode call can yield zero, one, or several payloads.
package codec

import (
	"fmt"
	"strings"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Names of the built-in encodings.
const (
	S16LE = "s16le"
	F32LE = "f32le"
	Opus  = "opus"
)

// Encoder turns frames into transport payloads.
type Encoder interface {
	// Encode consumes frames and returns the payloads that are ready. The
	// returned slices are owned by the caller.
	Encode(frames []audio.Frame) ([][]byte, error)

	// Name returns the encoding name, e.g. "s16le".
	Name() string
}

// Names returns the supported encoding names.
func Names() []string { return []string{S16LE, F32LE, Opus} }

// New constructs the encoder registered under name for the given sample rate.
func New(name string, sampleRate int) (Encoder, error) {
	switch strings.ToLower(name) {
	case S16LE, "":
		return S16LEEncoder{}, nil
	case F32LE:
		return F32LEEncoder{}, nil
	case Opus:
		return NewOpusEncoder(sampleRate)
	default:
		return nil, fmt.Errorf("codec: unknown encoding %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
}
