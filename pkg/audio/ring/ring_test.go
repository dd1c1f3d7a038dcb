package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// seq returns n frames whose left sample encodes the sequence number starting
// at start and whose right sample is its negation.
func seq(start, n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		v := float32(start + i)
		out[i] = audio.Frame{L: v, R: -v}
	}
	return out
}

func newBuffer(t *testing.T, capacity int, opts ...ring.Option) *ring.Buffer {
	t.Helper()
	rb, err := ring.New(capacity, opts...)
	require.NoError(t, err)
	return rb
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		opts     []ring.Option
		wantErr  error
	}{
		{name: "power of two", capacity: 1024},
		{name: "minimum with default quantum", capacity: 2},
		{name: "exactly two quanta", capacity: 512, opts: []ring.Option{ring.WithMinQuantum(256)}},
		{name: "zero", capacity: 0, wantErr: ring.ErrCapacityNotPowerOfTwo},
		{name: "negative", capacity: -8, wantErr: ring.ErrCapacityNotPowerOfTwo},
		{name: "not power of two", capacity: 1000, wantErr: ring.ErrCapacityNotPowerOfTwo},
		{name: "single slot", capacity: 1, wantErr: ring.ErrCapacityTooSmall},
		{name: "below two quanta", capacity: 256, opts: []ring.Option{ring.WithMinQuantum(256)}, wantErr: ring.ErrCapacityTooSmall},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rb, err := ring.New(tc.capacity, tc.opts...)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, rb)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.capacity, rb.Capacity())
			assert.Equal(t, 0, rb.AvailableToRead())
			assert.Equal(t, tc.capacity, rb.AvailableToWrite())
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 16)
	in := seq(0, 10)

	require.Equal(t, 10, rb.TryPush(in, len(in)))
	assert.Equal(t, 10, rb.AvailableToRead())

	out := make([]audio.Frame, 10)
	require.Equal(t, 10, rb.TryPop(out, len(out)))
	assert.Equal(t, in, out)
	assert.Equal(t, 0, rb.AvailableToRead())
	assert.Zero(t, rb.Dropped())
}

func TestOverflow_DropsNewest(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 4)
	in := seq(0, 6)

	pushed := rb.TryPush(in, 6)
	assert.Equal(t, 4, pushed)
	assert.Equal(t, uint64(2), rb.Dropped())
	assert.Equal(t, 0, rb.AvailableToWrite())

	// Pushing into a full buffer drops everything offered.
	assert.Equal(t, 0, rb.TryPush(seq(100, 3), 3))
	assert.Equal(t, uint64(5), rb.Dropped())

	out := make([]audio.Frame, 8)
	n := rb.TryPop(out, len(out))
	require.Equal(t, 4, n)
	assert.Equal(t, in[:4], out[:n])
}

func TestUnderflow_LeavesDestinationUntouched(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 8)

	sentinel := audio.Frame{L: 42, R: 43}
	dst := make([]audio.Frame, 10)
	for i := range dst {
		dst[i] = sentinel
	}

	assert.Equal(t, 0, rb.TryPop(dst, 10))
	for i, f := range dst {
		assert.Equal(t, sentinel, f, "dst[%d] modified", i)
	}
	assert.Equal(t, uint64(1), rb.Underflows())
}

func TestWrapAround(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 8)
	out := make([]audio.Frame, 8)

	// Advance both cursors so the next push straddles the end of storage.
	require.Equal(t, 6, rb.TryPush(seq(0, 6), 6))
	require.Equal(t, 6, rb.TryPop(out, 6))

	in := seq(6, 7)
	require.Equal(t, 7, rb.TryPush(in, 7))
	n := rb.TryPop(out, 8)
	require.Equal(t, 7, n)
	assert.Equal(t, in, out[:n])
}

func TestPartialPop(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 16)
	rb.TryPush(seq(0, 10), 10)

	out := make([]audio.Frame, 4)
	require.Equal(t, 4, rb.TryPop(out, 4))
	assert.Equal(t, seq(0, 4), out)
	require.Equal(t, 3, rb.TryPop(out, 3))
	assert.Equal(t, seq(4, 3), out[:3])
	assert.Equal(t, 3, rb.AvailableToRead())
}

func TestCountClamping(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 16)

	assert.Equal(t, 0, rb.TryPush(seq(0, 3), 0))
	assert.Equal(t, 0, rb.TryPush(seq(0, 3), -1))
	assert.Equal(t, 3, rb.TryPush(seq(0, 3), 10), "count beyond len(frames) is clamped")

	out := make([]audio.Frame, 2)
	assert.Equal(t, 2, rb.TryPop(out, 99), "maxCount beyond len(dst) is clamped")
	assert.Equal(t, 0, rb.TryPop(out, 0))
	assert.Zero(t, rb.Underflows(), "zero-length pops are not underflows")
}

func TestOccupancyInvariant(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 32)
	out := make([]audio.Frame, 32)

	ops := []struct {
		push int
		pop  int
	}{
		{5, 0}, {0, 3}, {20, 0}, {10, 0}, {0, 31}, {17, 4}, {0, 0}, {32, 32},
	}
	next := 0
	for i, op := range ops {
		next += rb.TryPush(seq(next, op.push), op.push)
		rb.TryPop(out, op.pop)
		assert.Equal(t, rb.Capacity(), rb.AvailableToRead()+rb.AvailableToWrite(), "step %d", i)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	rb := newBuffer(t, 4)
	rb.TryPush(seq(0, 6), 6)
	out := make([]audio.Frame, 3)
	rb.TryPop(out, 3)

	assert.Equal(t, ring.Stats{
		Capacity: 4,
		Occupied: 1,
		Pushed:   4,
		Popped:   3,
		Dropped:  2,
	}, rb.Stats())
}

func TestNoAllocations(t *testing.T) {
	rb := newBuffer(t, 1024)
	in := seq(0, 256)
	out := make([]audio.Frame, 256)

	allocs := testing.AllocsPerRun(200, func() {
		rb.TryPush(in, len(in))
		rb.TryPop(out, len(out))
		rb.TryPop(out, len(out))
	})
	assert.Zero(t, allocs)
}

func TestNextPowerOfTwo(t *testing.T) {
	t.Parallel()
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024, 24001: 32768}
	for in, want := range cases {
		assert.Equal(t, want, ring.NextPowerOfTwo(in), "NextPowerOfTwo(%d)", in)
	}
}

func BenchmarkPushPop(b *testing.B) {
	rb, err := ring.New(4096)
	if err != nil {
		b.Fatal(err)
	}
	in := seq(0, 256)
	out := make([]audio.Frame, 256)
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		rb.TryPush(in, len(in))
		rb.TryPop(out, len(out))
	}
}
