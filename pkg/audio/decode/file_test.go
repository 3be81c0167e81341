// ABOUTME: Tests for audio file sources
// ABOUTME: Tests extension dispatch and rejection of unreadable files
package decode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenFileMissing(t *testing.T) {
	src, err := OpenFile(filepath.Join(t.TempDir(), "nope.mp3"))
	assert.ErrorContains(t, err, "audio file not found")
	assert.Nil(t, src)
}

func TestOpenFileUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "clip.ogg", []byte("OggS"))

	src, err := OpenFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Nil(t, src)
}

func TestOpenFileRejectsInvalidMP3(t *testing.T) {
	path := writeFile(t, "empty.mp3", nil)

	src, err := OpenFile(path)
	assert.ErrorContains(t, err, "failed to decode MP3")
	assert.Nil(t, src)
}

func TestOpenFileRejectsInvalidFLAC(t *testing.T) {
	path := writeFile(t, "bogus.FLAC", []byte("definitely not a flac stream"))

	src, err := OpenFile(path)
	assert.ErrorContains(t, err, "failed to decode FLAC")
	assert.Nil(t, src)
}

func TestFLACTo24Bit(t *testing.T) {
	tests := []struct {
		bitDepth int
		input    int32
		expected int32
	}{
		{16, 1000, 1000 << 8},
		{24, 123456, 123456},
		{32, 1 << 20, 1 << 12},
	}

	for _, tt := range tests {
		s := &FLACSource{bitDepth: tt.bitDepth}
		assert.Equal(t, tt.expected, s.to24Bit(tt.input), "bitDepth=%d", tt.bitDepth)
	}
}
