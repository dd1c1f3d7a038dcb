package history_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/ringsock/internal/history"
	"github.com/MrWong99/ringsock/pkg/audio"
)

// seq returns n frames whose left sample counts up from start.
func seq(start, n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		v := float32(start + i)
		out[i] = audio.Frame{L: v, R: -v}
	}
	return out
}

// snapshot returns the newest maxBlocks blocks decoded into frames.
func snapshot(t *testing.T, h *history.History, maxBlocks int) []audio.Frame {
	t.Helper()
	raw, err := h.Snapshot(maxBlocks)
	require.NoError(t, err)
	frames, err := audio.DecodeFloat32LE(raw)
	require.NoError(t, err)
	return frames
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	for _, args := range [][3]int{{0, 100, 4}, {1, 0, 4}, {1, 100, 0}} {
		_, err := history.New(args[0], args[1], args[2])
		assert.Error(t, err, "args %v", args)
	}
}

func TestNew_RoundsUpToWholeBlocks(t *testing.T) {
	t.Parallel()
	// 1 s at 10 Hz = 10 frames, blocks of 4 frames -> 3 blocks.
	h, err := history.New(1, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, h.CapacityBlocks())
	assert.Equal(t, 32, h.BlockBytes())
	assert.Equal(t, 1, h.Seconds())
	assert.Equal(t, 10, h.SampleRate())
}

func TestSnapshot_WholeBlocksOnly(t *testing.T) {
	t.Parallel()
	h, err := history.New(1, 10, 4)
	require.NoError(t, err)

	require.NoError(t, h.Write(seq(0, 6)))
	assert.Equal(t, 1, h.Blocks())

	got := snapshot(t, h, 0)
	assert.Equal(t, seq(2, 4), got, "most recent whole block")

	// Snapshot does not consume.
	assert.Equal(t, 1, h.Blocks())
	again := snapshot(t, h, 0)
	assert.Equal(t, got, again)
}

func TestWrite_EvictsOldest(t *testing.T) {
	t.Parallel()
	h, err := history.New(1, 10, 4) // 12 frames
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, h.Write(seq(i*4, 4)))
	}
	assert.Equal(t, 3, h.Blocks())

	got := snapshot(t, h, 0)
	assert.Equal(t, seq(8, 12), got)

	got = snapshot(t, h, 2)
	assert.Equal(t, seq(12, 8), got, "limit keeps the newest blocks")
}

func TestWrite_LargerThanCapacity(t *testing.T) {
	t.Parallel()
	h, err := history.New(1, 10, 4)
	require.NoError(t, err)

	require.NoError(t, h.Write(seq(0, 3)))
	require.NoError(t, h.Write(seq(100, 20)))

	got := snapshot(t, h, 0)
	assert.Equal(t, seq(108, 12), got)
}

func TestSnapshot_Empty(t *testing.T) {
	t.Parallel()
	h, err := history.New(1, 10, 4)
	require.NoError(t, err)

	raw, err := h.Snapshot(0)
	require.NoError(t, err)
	assert.Empty(t, raw)
	assert.Zero(t, h.Blocks())

	require.NoError(t, h.Close())
}
