package synth_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/producer"
	"github.com/MrWong99/ringsock/pkg/audio/ring"
	"github.com/MrWong99/ringsock/pkg/audio/synth"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := synth.New(synth.Config{Quantum: 64})
	assert.Error(t, err)
	_, err = synth.New(synth.Config{SampleRate: 48000})
	assert.Error(t, err)

	h, err := synth.New(synth.Config{SampleRate: 48000, Quantum: 64, Amplitude: 3})
	require.NoError(t, err)
	assert.Equal(t, "synth", h.Name())
	assert.Equal(t, 48000, h.SampleRate())
	assert.Equal(t, 64, h.MaxQuantum())
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	// 12 kHz tone at 48 kHz is a quarter period per sample: 0, 1, 0, -1.
	h, err := synth.New(synth.Config{SampleRate: 48000, Quantum: 4, LeftHz: 12000, Amplitude: 0.5})
	require.NoError(t, err)

	left := make([]float32, 4)
	right := make([]float32, 4)
	h.Generate(left, right)

	want := []float32{0, 0.5, 0, -0.5}
	for i := range want {
		assert.InDelta(t, want[i], left[i], 1e-6, "left[%d]", i)
		assert.Zero(t, right[i], "right[%d] should be silent", i)
	}

	// Phase continues across calls.
	h.Generate(left, right)
	assert.InDelta(t, 0, left[0], 1e-6)
	assert.InDelta(t, 0.5, left[1], 1e-6)
}

func TestGenerate_Bounded(t *testing.T) {
	t.Parallel()
	h, err := synth.New(synth.Config{SampleRate: 44100, Quantum: 512, LeftHz: 440, RightHz: 661, Amplitude: 1})
	require.NoError(t, err)
	left := make([]float32, 512)
	right := make([]float32, 512)
	for range 100 {
		h.Generate(left, right)
		for i := range left {
			if math.Abs(float64(left[i])) > 1 || math.Abs(float64(right[i])) > 1 {
				t.Fatalf("sample out of range: %v %v", left[i], right[i])
			}
		}
	}
}

func TestStartDeliversQuanta(t *testing.T) {
	t.Parallel()
	h, err := synth.New(synth.Config{SampleRate: 48000, Quantum: 480, LeftHz: 440, RightHz: 880})
	require.NoError(t, err)

	rb, err := ring.New(8192)
	require.NoError(t, err)
	p, err := producer.New(rb, h.MaxQuantum())
	require.NoError(t, err)

	require.NoError(t, h.Start(p))
	assert.Error(t, h.Start(p), "second Start must fail")

	require.Eventually(t, func() bool { return p.Quanta() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "Close is idempotent")
	assert.ErrorIs(t, h.Start(p), audio.ErrHostClosed, "a closed host does not restart")

	q := p.Quanta()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, q, p.Quanta(), "no quanta after Close")

	out := make([]audio.Frame, 480)
	assert.Equal(t, 480, rb.TryPop(out, len(out)))

	select {
	case <-h.Done():
		t.Fatal("synth host must not end the session on its own")
	default:
	}
}
