// Package history keeps the most recent seconds of captured audio so that
// clients can fetch a window of the past on demand.
//
// Audio is stored as interleaved little-endian float32 bytes in a fixed-size
// byte ring. Writing into a full ring evicts the oldest bytes first. The ring
// is partitioned into blocks of one quantum each; only whole blocks are
// returned by [History.Snapshot].
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// History is a drop-oldest window of recent audio. It is safe for concurrent
// use: the pump writes while command connections snapshot.
type History struct {
	mu          sync.Mutex
	buf         *ringbuffer.RingBuffer
	blockFrames int
	blockBytes  int
	seconds     int
	sampleRate  int

	scratch []byte
	discard []byte
}

// New returns a history holding at least seconds of audio at sampleRate,
// rounded up to whole blocks of blockFrames frames.
func New(seconds, sampleRate, blockFrames int) (*History, error) {
	if seconds <= 0 {
		return nil, errors.New("history: seconds must be positive")
	}
	if sampleRate <= 0 {
		return nil, errors.New("history: sample rate must be positive")
	}
	if blockFrames <= 0 {
		return nil, errors.New("history: block size must be positive")
	}
	frames := seconds * sampleRate
	blocks := (frames + blockFrames - 1) / blockFrames
	blockBytes := blockFrames * audio.FrameSize

	return &History{
		buf:         ringbuffer.New(blocks * blockBytes),
		blockFrames: blockFrames,
		blockBytes:  blockBytes,
		seconds:     seconds,
		sampleRate:  sampleRate,
		scratch:     make([]byte, 0, blockBytes),
		discard:     make([]byte, blockBytes),
	}, nil
}

// Seconds returns the configured history length.
func (h *History) Seconds() int { return h.seconds }

// SampleRate returns the sample rate of the stored audio.
func (h *History) SampleRate() int { return h.sampleRate }

// BlockFrames returns the number of frames per block.
func (h *History) BlockFrames() int { return h.blockFrames }

// BlockBytes returns the encoded size of one block.
func (h *History) BlockBytes() int { return h.blockBytes }

// CapacityBlocks returns the number of blocks the history can hold.
func (h *History) CapacityBlocks() int { return h.buf.Capacity() / h.blockBytes }

// Write appends frames, evicting the oldest audio when the window is full.
// It implements the pump's sink contract.
func (h *History) Write(frames []audio.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.scratch = audio.AppendFloat32LE(h.scratch[:0], frames)
	data := h.scratch
	if c := h.buf.Capacity(); len(data) > c {
		data = data[len(data)-c:]
	}
	if err := h.evict(len(data) - h.buf.Free()); err != nil {
		return err
	}
	if _, err := h.buf.Write(data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// evict discards n of the oldest bytes. Caller must hold mu.
func (h *History) evict(n int) error {
	for n > 0 {
		chunk := h.discard[:min(n, len(h.discard))]
		read, err := h.buf.Read(chunk)
		if err != nil {
			return fmt.Errorf("history: evict: %w", err)
		}
		n -= read
	}
	return nil
}

// Blocks returns the number of whole blocks currently stored.
func (h *History) Blocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Length() / h.blockBytes
}

// Snapshot returns the most recent whole blocks as f32le bytes without
// consuming them. maxBlocks <= 0 returns every stored block.
func (h *History) Snapshot(maxBlocks int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.buf.Length()
	if n == 0 {
		return nil, nil
	}
	all := make([]byte, n)
	if _, err := h.buf.Read(all); err != nil {
		return nil, fmt.Errorf("history: snapshot read: %w", err)
	}
	if _, err := h.buf.Write(all); err != nil {
		return nil, fmt.Errorf("history: snapshot restore: %w", err)
	}

	blocks := n / h.blockBytes
	if maxBlocks > 0 && maxBlocks < blocks {
		blocks = maxBlocks
	}
	return all[n-blocks*h.blockBytes:], nil
}

// Close implements the pump's sink contract. History holds no external
// resources.
func (h *History) Close() error { return nil }
