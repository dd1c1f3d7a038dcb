package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestInterleave(t *testing.T) {
	left := []float32{1, 2, 3}
	right := []float32{4, 5, 6}
	dst := make([]audio.Frame, 4)

	n := audio.Interleave(dst, left, right)
	if n != 3 {
		t.Fatalf("Interleave returned %d, want 3", n)
	}
	want := []audio.Frame{{L: 1, R: 4}, {L: 2, R: 5}, {L: 3, R: 6}}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("frame %d: got %+v, want %+v", i, dst[i], want[i])
		}
	}
	if dst[3] != (audio.Frame{}) {
		t.Errorf("frame 3 was written: %+v", dst[3])
	}
}

func TestInterleave_ShortestWins(t *testing.T) {
	dst := make([]audio.Frame, 8)
	if n := audio.Interleave(dst, []float32{1, 2}, []float32{1, 2, 3}); n != 2 {
		t.Errorf("Interleave returned %d, want 2", n)
	}
	if n := audio.Interleave(dst[:1], []float32{1, 2}, []float32{1, 2}); n != 1 {
		t.Errorf("Interleave returned %d, want 1", n)
	}
}

func TestInterleave_NoAlloc(t *testing.T) {
	left := make([]float32, 256)
	right := make([]float32, 256)
	dst := make([]audio.Frame, 256)
	allocs := testing.AllocsPerRun(100, func() {
		audio.Interleave(dst, left, right)
	})
	if allocs != 0 {
		t.Errorf("Interleave allocated %.0f times per run, want 0", allocs)
	}
}

func TestFloat32LE_RoundTrip(t *testing.T) {
	frames := []audio.Frame{{L: 0.5, R: -0.5}, {L: 1, R: 0}, {L: -0.25, R: 0.75}}
	pcm := audio.AppendFloat32LE(nil, frames)
	if len(pcm) != len(frames)*audio.FrameSize {
		t.Fatalf("encoded length = %d, want %d", len(pcm), len(frames)*audio.FrameSize)
	}
	got, err := audio.DecodeFloat32LE(pcm)
	if err != nil {
		t.Fatalf("DecodeFloat32LE: %v", err)
	}
	for i := range frames {
		if got[i] != frames[i] {
			t.Errorf("frame %d: got %+v, want %+v", i, got[i], frames[i])
		}
	}
}

func TestDecodeFloat32LE_BadLength(t *testing.T) {
	if _, err := audio.DecodeFloat32LE(make([]byte, 7)); err == nil {
		t.Fatal("expected error for misaligned input")
	}
}

func TestAppendInt16LE(t *testing.T) {
	frames := []audio.Frame{{L: 0, R: 1}, {L: -1, R: 0.5}, {L: 2, R: -3}}
	got := bytesToSamples(audio.AppendInt16LE(nil, frames))
	want := []int16{0, 32767, -32767, 16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full scale", 1, 32767},
		{"negative full scale", -1, -32767},
		{"clip high", 1.5, 32767},
		{"clip low", -7, -32767},
		{"nan", float32(math.NaN()), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.FloatToInt16(tc.in); got != tc.want {
				t.Errorf("FloatToInt16(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	f := audio.Format{SampleRate: 48000}
	if got := f.Duration(480); got != 10*time.Millisecond {
		t.Errorf("Duration(480) = %v, want 10ms", got)
	}
	if got := f.Frames(20 * time.Millisecond); got != 960 {
		t.Errorf("Frames(20ms) = %d, want 960", got)
	}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
	if got := (audio.Format{}).Duration(10); got != 0 {
		t.Errorf("zero-rate Duration = %v, want 0", got)
	}
}
