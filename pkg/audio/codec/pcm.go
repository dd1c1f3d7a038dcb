package codec

import "github.com/MrWong99/ringsock/pkg/audio"

// S16LEEncoder emits interleaved little-endian int16 PCM, one payload per
// call. This is the format the streaming recorder clients expect.
type S16LEEncoder struct{}

// Name implements [Encoder].
func (S16LEEncoder) Name() string { return S16LE }

// Encode implements [Encoder].
func (S16LEEncoder) Encode(frames []audio.Frame) ([][]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	buf := audio.AppendInt16LE(make([]byte, 0, len(frames)*4), frames)
	return [][]byte{buf}, nil
}

// F32LEEncoder emits interleaved little-endian float32 PCM, one payload per
// call.
type F32LEEncoder struct{}

// Name implements [Encoder].
func (F32LEEncoder) Name() string { return F32LE }

// Encode implements [Encoder].
func (F32LEEncoder) Encode(frames []audio.Frame) ([][]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	buf := audio.AppendFloat32LE(make([]byte, 0, len(frames)*audio.FrameSize), frames)
	return [][]byte{buf}, nil
}
