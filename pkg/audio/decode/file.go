// ABOUTME: Audio file source selection
// ABOUTME: Opens MP3 or FLAC files by extension
package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
)

// ErrUnsupportedFile is returned for file types without a decoder
var ErrUnsupportedFile = errors.New("unsupported audio file")

// OpenFile opens an audio file as a looping sample source
func OpenFile(path string) (audio.Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3Source(path)
	case ".flac":
		return NewFLACSource(path)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac)", ErrUnsupportedFile, ext)
	}
}
