package codec_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/codec"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		encoding string
		rate     int
		want     string
		wantErr  bool
	}{
		{name: "default", encoding: "", rate: 44100, want: codec.S16LE},
		{name: "s16le", encoding: "s16le", rate: 44100, want: codec.S16LE},
		{name: "f32le upper", encoding: "F32LE", rate: 44100, want: codec.F32LE},
		{name: "opus", encoding: "opus", rate: 48000, want: codec.Opus},
		{name: "opus bad rate", encoding: "opus", rate: 44100, wantErr: true},
		{name: "unknown", encoding: "mp3", rate: 48000, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enc, err := codec.New(tt.encoding, tt.rate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, enc.Name())
		})
	}
}

func TestS16LE(t *testing.T) {
	t.Parallel()
	enc := codec.S16LEEncoder{}

	out, err := enc.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = enc.Encode([]audio.Frame{{L: 1, R: -1}, {L: 0, R: 0.5}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 8)

	samples := make([]int16, 4)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[0][i*2:]))
	}
	assert.Equal(t, []int16{32767, -32767, 0, 16383}, samples)
}

func TestF32LE(t *testing.T) {
	t.Parallel()
	enc := codec.F32LEEncoder{}
	frames := []audio.Frame{{L: 0.25, R: -0.75}, {L: 1.5, R: 0}}

	out, err := enc.Encode(frames)
	require.NoError(t, err)
	require.Len(t, out, 1)

	back, err := audio.DecodeFloat32LE(out[0])
	require.NoError(t, err)
	assert.Equal(t, frames, back, "f32le is lossless and unclamped")
}

func TestOpus_Framing(t *testing.T) {
	t.Parallel()
	enc, err := codec.NewOpusEncoder(48000)
	require.NoError(t, err)
	require.Equal(t, 960, enc.FrameSize())

	tone := func(n int) []audio.Frame {
		frames := make([]audio.Frame, n)
		for i := range frames {
			v := float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/48000))
			frames[i] = audio.Frame{L: v, R: v}
		}
		return frames
	}

	// Less than one packet is buffered.
	out, err := enc.Encode(tone(500))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 500, enc.Pending())

	// 500 + 1500 = 2000 frames: two packets, 80 frames carried over.
	out, err = enc.Encode(tone(1500))
	require.NoError(t, err)
	assert.Len(t, out, 2)
	for _, pkt := range out {
		assert.NotEmpty(t, pkt)
	}
	assert.Equal(t, 80, enc.Pending())
}

func TestOpus_RateTable(t *testing.T) {
	t.Parallel()
	for _, rate := range []int{8000, 12000, 16000, 24000, 48000} {
		enc, err := codec.NewOpusEncoder(rate)
		require.NoError(t, err, "rate %d", rate)
		assert.Equal(t, rate/50, enc.FrameSize())
	}
	_, err := codec.NewOpusEncoder(22050)
	assert.Error(t, err)
}
