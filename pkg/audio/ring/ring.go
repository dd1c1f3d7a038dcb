// Package ring implements the lock-free single-producer/single-consumer ring
// buffer that sits between the real-time audio callback and the consumer that
// ships frames off-box.
//
// # Cursors
//
// The write and read cursors are monotonically increasing uint64 counters.
// The slot for a cursor c is c & (capacity-1), and the number of unread frames
// is write-read, which ranges over [0, capacity]. No slot is reserved, so
//
//	AvailableToRead() + AvailableToWrite() == Capacity()
//
// The producer is the only writer of the write cursor, the consumer the only
// writer of the read cursor. Each side loads the other side's cursor exactly
// once per call. Frame data is copied before the owning cursor is published,
// and sync/atomic operations are sequentially consistent, so a consumer that
// observes an advanced write cursor also observes the frames behind it.
//
// # Overflow policy
//
// The buffer drops the newest frames. When [Buffer.TryPush] is offered more
// frames than there are free slots, it writes as many as fit, discards the
// remainder of that call, and adds the discarded count to [Buffer.Dropped].
// Frames already in the buffer are never overwritten: doing so would require
// the producer to move the read cursor.
package ring

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// cacheLine is the padding unit used to keep the two cursors apart.
const cacheLine = 64

var (
	// ErrCapacityNotPowerOfTwo is returned by [New] when the capacity is not a
	// power of two.
	ErrCapacityNotPowerOfTwo = errors.New("ring: capacity must be a power of two")

	// ErrCapacityTooSmall is returned by [New] when the capacity cannot hold
	// two audio quanta.
	ErrCapacityTooSmall = errors.New("ring: capacity below two audio quanta")
)

// Option configures a [Buffer] during construction.
type Option func(*options)

type options struct {
	minQuantum int
}

// WithMinQuantum sets the audio quantum size the buffer must accommodate.
// [New] rejects capacities smaller than twice this value. The default is 1.
func WithMinQuantum(frames int) Option {
	return func(o *options) {
		if frames > 0 {
			o.minQuantum = frames
		}
	}
}

// Stats is a point-in-time snapshot of the buffer's counters. Counters are
// read individually, so a snapshot taken while both sides are running is not
// an atomic view across fields.
type Stats struct {
	Capacity   int    `json:"capacity"`
	Occupied   int    `json:"occupied"`
	Pushed     uint64 `json:"pushed"`
	Popped     uint64 `json:"popped"`
	Dropped    uint64 `json:"dropped"`
	Underflows uint64 `json:"underflows"`
}

// Buffer is a fixed-capacity circular buffer of [audio.Frame] shared between
// exactly one producer goroutine and one consumer goroutine.
//
// TryPush must only be called by the producer; TryPop only by the consumer.
// The query methods may be called from anywhere.
type Buffer struct {
	_     [cacheLine]byte
	write atomic.Uint64 // producer-owned cursor
	_     [cacheLine - 8]byte
	read  atomic.Uint64 // consumer-owned cursor
	_     [cacheLine - 8]byte

	// producer-side counter
	dropped atomic.Uint64
	_       [cacheLine - 8]byte

	// consumer-side counter
	underflows atomic.Uint64
	_          [cacheLine - 8]byte

	storage []audio.Frame
	mask    uint64
}

// New allocates a buffer of capacity frames. All storage is allocated here;
// no later operation allocates.
func New(capacity int, opts ...Option) (*Buffer, error) {
	o := options{minQuantum: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	if capacity < 2*o.minQuantum {
		return nil, fmt.Errorf("%w: capacity %d, quantum %d", ErrCapacityTooSmall, capacity, o.minQuantum)
	}
	return &Buffer{
		storage: make([]audio.Frame, capacity),
		mask:    uint64(capacity - 1),
	}, nil
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Capacity returns the number of frame slots.
func (b *Buffer) Capacity() int { return len(b.storage) }

// TryPush copies up to count frames from frames into the buffer and returns
// the number written. count is clamped to len(frames). Frames that do not fit
// are discarded and counted in [Buffer.Dropped]. Never blocks or allocates.
func (b *Buffer) TryPush(frames []audio.Frame, count int) int {
	count = min(max(count, 0), len(frames))
	if count == 0 {
		return 0
	}

	w := b.write.Load()
	r := b.read.Load()
	free := uint64(len(b.storage)) - (w - r)

	n := uint64(count)
	if n > free {
		b.dropped.Add(n - free)
		n = free
	}
	if n == 0 {
		return 0
	}

	pos := w & b.mask
	first := uint64(len(b.storage)) - pos
	if first >= n {
		copy(b.storage[pos:pos+n], frames[:n])
	} else {
		copy(b.storage[pos:], frames[:first])
		copy(b.storage[:n-first], frames[first:n])
	}

	b.write.Store(w + n)
	return int(n)
}

// TryPop copies up to maxCount unread frames into dst, oldest first, and
// returns the number copied. maxCount is clamped to len(dst). When the buffer
// is empty it returns 0, leaves dst untouched, and counts an underflow.
// Never blocks or allocates.
func (b *Buffer) TryPop(dst []audio.Frame, maxCount int) int {
	maxCount = min(max(maxCount, 0), len(dst))
	if maxCount == 0 {
		return 0
	}

	r := b.read.Load()
	w := b.write.Load()
	available := w - r
	if available == 0 {
		b.underflows.Add(1)
		return 0
	}

	n := min(uint64(maxCount), available)
	pos := r & b.mask
	first := uint64(len(b.storage)) - pos
	if first >= n {
		copy(dst[:n], b.storage[pos:pos+n])
	} else {
		copy(dst[:first], b.storage[pos:])
		copy(dst[first:n], b.storage[:n-first])
	}

	b.read.Store(r + n)
	return int(n)
}

// AvailableToRead returns the number of unread frames.
func (b *Buffer) AvailableToRead() int {
	return b.occupied(b.read.Load(), b.write.Load())
}

// AvailableToWrite returns the number of free slots.
func (b *Buffer) AvailableToWrite() int {
	return len(b.storage) - b.AvailableToRead()
}

// Dropped returns the total number of frames discarded by the overflow
// policy since construction.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Underflows returns the number of TryPop calls that found the buffer empty.
func (b *Buffer) Underflows() uint64 { return b.underflows.Load() }

// Pushed returns the total number of frames accepted by TryPush.
func (b *Buffer) Pushed() uint64 { return b.write.Load() }

// Popped returns the total number of frames handed out by TryPop.
func (b *Buffer) Popped() uint64 { return b.read.Load() }

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	r := b.read.Load()
	w := b.write.Load()
	return Stats{
		Capacity:   len(b.storage),
		Occupied:   b.occupied(r, w),
		Pushed:     w,
		Popped:     r,
		Dropped:    b.dropped.Load(),
		Underflows: b.underflows.Load(),
	}
}

// occupied returns w-r clamped to the capacity. The read cursor must be
// loaded before the write cursor; a third goroutine can then observe both
// sides advancing between the loads, which the clamp absorbs.
func (b *Buffer) occupied(r, w uint64) int {
	return int(min(w-r, uint64(len(b.storage))))
}
