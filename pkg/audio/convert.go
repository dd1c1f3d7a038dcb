package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendFloat32LE appends frames to dst as interleaved little-endian float32
// samples (L, R, L, R, ...) and returns the extended slice.
func AppendFloat32LE(dst []byte, frames []Frame) []byte {
	for _, f := range frames {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.L))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.R))
	}
	return dst
}

// AppendInt16LE appends frames to dst as interleaved little-endian int16 PCM.
// Samples are clamped to [-1, 1] before scaling.
func AppendInt16LE(dst []byte, frames []Frame) []byte {
	for _, f := range frames {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(FloatToInt16(f.L)))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(FloatToInt16(f.R)))
	}
	return dst
}

// DecodeFloat32LE decodes interleaved little-endian float32 stereo PCM into
// frames. The byte count must be a multiple of [FrameSize].
func DecodeFloat32LE(pcm []byte) ([]Frame, error) {
	if len(pcm)%FrameSize != 0 {
		return nil, fmt.Errorf("audio: pcm length %d is not a multiple of %d", len(pcm), FrameSize)
	}
	frames := make([]Frame, len(pcm)/FrameSize)
	for i := range frames {
		off := i * FrameSize
		frames[i] = Frame{
			L: math.Float32frombits(binary.LittleEndian.Uint32(pcm[off:])),
			R: math.Float32frombits(binary.LittleEndian.Uint32(pcm[off+4:])),
		}
	}
	return frames, nil
}

// FloatToInt16 converts a float sample to int16, clamping out-of-range input.
// NaN maps to 0.
func FloatToInt16(s float32) int16 {
	switch {
	case s != s:
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16 + 1
	}
	return int16(s * math.MaxInt16)
}

// Interleave writes pairs of left/right samples into dst and returns the
// number of frames written: min(len(left), len(right), len(dst)).
// It never allocates.
func Interleave(dst []Frame, left, right []float32) int {
	n := min(len(left), len(right), len(dst))
	for i := range n {
		dst[i] = Frame{L: left[i], R: right[i]}
	}
	return n
}

// String implements [fmt.Stringer], e.g. "48000Hz stereo".
func (f Format) String() string { return fmt.Sprintf("%dHz stereo", f.SampleRate) }
