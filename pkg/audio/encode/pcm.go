// ABOUTME: PCM audio encoder
// ABOUTME: Encodes int32 samples to 8, 16, 24 or 32-bit little-endian PCM bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	bitDepth int
}

// NewPCM creates a new PCM encoder for the format's bit depth
func NewPCM(format audio.Format) (*PCMEncoder, error) {
	switch format.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", format.BitDepth)
	}

	return &PCMEncoder{
		bitDepth: format.BitDepth,
	}, nil
}

// BytesPerSample returns the encoded size of one sample
func (e *PCMEncoder) BytesPerSample() int {
	return e.bitDepth / 8
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) []byte {
	output := make([]byte, len(samples)*e.BytesPerSample())
	e.EncodeInto(output, samples)
	return output
}

// EncodeInto writes the encoded samples to dst, which must hold
// len(samples)*BytesPerSample() bytes
func (e *PCMEncoder) EncodeInto(dst []byte, samples []int32) {
	switch e.bitDepth {
	case 8:
		for i, sample := range samples {
			dst[i] = audio.SampleToUint8(sample)
		}
	case 16:
		for i, sample := range samples {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(audio.SampleToInt16(sample)))
		}
	case 24:
		for i, sample := range samples {
			b := audio.SampleTo24Bit(sample)
			copy(dst[i*3:i*3+3], b[:])
		}
	case 32:
		for i, sample := range samples {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(audio.SampleToInt32(sample)))
		}
	}
}
