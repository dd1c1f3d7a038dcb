package audio

import "time"

// FrameSize is the encoded size of one [Frame] in bytes when serialised as
// little-endian float32 pairs.
const FrameSize = 8

// Frame is one interleaved stereo sample pair. Frames carry no identity beyond
// their position in the stream and are safe to copy by value.
type Frame struct {
	// L is the left channel sample, nominally in [-1, 1].
	L float32

	// R is the right channel sample, nominally in [-1, 1].
	R float32
}

// Format describes the sample rate of an interleaved stereo stream. The
// channel count is fixed at two.
type Format struct {
	SampleRate int
}

// Channels returns the fixed channel count of every stream in ringsock.
func (Format) Channels() int { return 2 }

// Duration returns the wall-clock length of n frames at this format's rate.
// Returns 0 when the sample rate is not positive.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// Frames returns the number of frames that fit in d at this format's rate.
func (f Format) Frames(d time.Duration) int {
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}
