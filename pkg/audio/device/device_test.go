// ABOUTME: Tests for the backend registry and format helpers
// ABOUTME: Hardware backends are only checked for construction behavior
package device

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendUnknown(t *testing.T) {
	b, err := NewBackend("alsa-direct", Options{})
	assert.Error(t, err)
	assert.Nil(t, b)
}

func TestNewBackendVirtual(t *testing.T) {
	b, err := NewBackend("virtual", Options{})
	require.NoError(t, err)
	assert.Equal(t, "virtual", b.Name())
	require.NoError(t, b.Close())
}

func TestVirtualSessionDirections(t *testing.T) {
	b := NewVirtual(Options{})

	c, err := b.OpenCapture()
	require.NoError(t, err)
	assert.Equal(t, Input, c.Direction())

	r, err := b.OpenRender()
	require.NoError(t, err)
	assert.Equal(t, Output, r.Direction())
}

func TestOtoHasNoCapture(t *testing.T) {
	_, err := NewOto(Options{}).OpenCapture()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestMalgoFormat(t *testing.T) {
	tests := []struct {
		bits int
		want malgo.FormatType
		name string
	}{
		{8, malgo.FormatU8, "U8"},
		{16, malgo.FormatS16, "S16"},
		{24, malgo.FormatS24, "S24"},
		{32, malgo.FormatS32, "S32"},
	}
	for _, tt := range tests {
		got, err := malgoFormat(tt.bits)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.name, formatName(got))
	}

	_, err := malgoFormat(20)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestToneSource(t *testing.T) {
	src := NewToneSource(48000, ToneFrequency)
	samples := make([]int32, 960)

	n, err := src.Read(samples)
	require.NoError(t, err)
	assert.Equal(t, 960, n)
	assert.Equal(t, int32(0), samples[0])
	for i := 0; i < len(samples); i += 2 {
		assert.Equal(t, samples[i], samples[i+1])
		assert.LessOrEqual(t, samples[i], int32(8388607/2+1))
	}
	assert.Equal(t, 2, src.Channels())
	assert.Equal(t, 48000, src.SampleRate())
}
