// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 8, 16, 24 and 32-bit PCM encoding
package encode

import (
	"encoding/binary"
	"testing"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name    string
		bits    int
		wantErr bool
	}{
		{"8-bit", 8, false},
		{"16-bit", 16, false},
		{"24-bit", 24, false},
		{"32-bit", 32, false},
		{"20-bit", 20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: tt.bits})
			if tt.wantErr {
				assert.ErrorContains(t, err, "unsupported bit depth")
				assert.Nil(t, encoder)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bits/8, encoder.BytesPerSample())
		})
	}
}

func TestEncode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16})
	require.NoError(t, err)

	samples := []int32{
		audio.SampleFromInt16(1000),
		audio.SampleFromInt16(-1000),
		audio.SampleFromInt16(32767),
		audio.SampleFromInt16(-32768),
	}
	data := encoder.Encode(samples)
	require.Len(t, data, 8)

	for i, want := range []int16{1000, -1000, 32767, -32768} {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		assert.Equal(t, want, got, "sample %d", i)
	}
}

func TestEncode24Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{SampleRate: 96000, Channels: 2, BitDepth: 24})
	require.NoError(t, err)

	data := encoder.Encode([]int32{0x123456, -256})
	assert.Equal(t, []byte{0x56, 0x34, 0x12, 0x00, 0xFF, 0xFF}, data)
}

func TestEncode32Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 32})
	require.NoError(t, err)

	data := encoder.Encode([]int32{audio.Max24Bit, audio.Min24Bit})
	require.Len(t, data, 8)

	assert.Equal(t, int32(audio.Max24Bit)<<8, int32(binary.LittleEndian.Uint32(data[0:])))
	assert.Equal(t, int32(audio.Min24Bit)<<8, int32(binary.LittleEndian.Uint32(data[4:])))
}

func TestEncode8Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{SampleRate: 8000, Channels: 2, BitDepth: 8})
	require.NoError(t, err)

	data := encoder.Encode([]int32{0, audio.Max24Bit, audio.Min24Bit})
	assert.Equal(t, []byte{0x80, 0xFF, 0x00}, data)
}

func TestEncodeSilence(t *testing.T) {
	// Silence in every signed container is all zero bytes
	for _, bits := range []int{16, 24, 32} {
		encoder, err := NewPCM(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: bits})
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 4*bits/8), encoder.Encode(make([]int32, 4)), "bits=%d", bits)
	}
}
