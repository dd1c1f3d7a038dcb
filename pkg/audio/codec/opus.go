package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/ringsock/pkg/audio"
)

const (
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
)

// OpusEncoder packs frames into 20 ms stereo Opus packets. Input that does not
// fill a whole packet is carried over to the next call.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int // samples per channel per packet
	pending   []int16
}

// NewOpusEncoder creates an Opus encoder. Opus accepts 8, 12, 16, 24 and 48 kHz
// only; other rates are rejected rather than resampled.
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("codec: opus does not support sample rate %d", sampleRate)
	}
	enc, err := gopus.NewEncoder(sampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	frameSize := sampleRate * opusFrameSizeMs / 1000
	return &OpusEncoder{
		enc:       enc,
		frameSize: frameSize,
		pending:   make([]int16, 0, frameSize*opusChannels*2),
	}, nil
}

// Name implements [Encoder].
func (e *OpusEncoder) Name() string { return Opus }

// FrameSize returns the number of frames per Opus packet.
func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Pending returns the number of buffered frames not yet encoded.
func (e *OpusEncoder) Pending() int { return len(e.pending) / opusChannels }

// Encode implements [Encoder].
func (e *OpusEncoder) Encode(frames []audio.Frame) ([][]byte, error) {
	for _, f := range frames {
		e.pending = append(e.pending, audio.FloatToInt16(f.L), audio.FloatToInt16(f.R))
	}

	step := e.frameSize * opusChannels
	var packets [][]byte
	off := 0
	for len(e.pending)-off >= step {
		pkt, err := e.enc.Encode(e.pending[off:off+step], e.frameSize, opusMaxPacket)
		if err != nil {
			e.pending = e.pending[:copy(e.pending, e.pending[off+step:])]
			return packets, fmt.Errorf("codec: opus encode: %w", err)
		}
		packets = append(packets, pkt)
		off += step
	}
	e.pending = e.pending[:copy(e.pending, e.pending[off:])]
	return packets, nil
}
