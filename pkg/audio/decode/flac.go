// ABOUTME: FLAC file source
// ABOUTME: Decodes FLAC frames to int32 samples and loops at end of file
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// FLACSource reads from a FLAC file
type FLACSource struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int

	// decoded samples of the current frame not yet returned
	pending []int32
}

// NewFLACSource opens a FLAC file
func NewFLACSource(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	s := &FLACSource{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewFLACSource",
		"path":        path,
		"sample_rate": s.sampleRate,
		"channels":    s.channels,
		"bit_depth":   s.bitDepth,
	}).Info("Loaded FLAC source")

	return s, nil
}

// Read fills samples with decoded audio, rewinding at end of file
func (s *FLACSource) Read(samples []int32) (int, error) {
	read := 0
	for read < len(samples) {
		if len(s.pending) == 0 {
			if err := s.decodeFrame(); err != nil {
				return read, err
			}
			continue
		}
		n := copy(samples[read:], s.pending)
		s.pending = s.pending[n:]
		read += n
	}
	return read, nil
}

// decodeFrame parses the next frame into pending, looping on EOF
func (s *FLACSource) decodeFrame() error {
	frame, err := s.stream.ParseNext()
	if errors.Is(err, io.EOF) {
		return s.rewind()
	}
	if err != nil {
		return fmt.Errorf("flac decode error: %w", err)
	}

	blockSize := int(frame.BlockSize)
	out := make([]int32, 0, blockSize*s.channels)
	for i := 0; i < blockSize; i++ {
		for ch := 0; ch < s.channels; ch++ {
			out = append(out, s.to24Bit(frame.Subframes[ch].Samples[i]))
		}
	}
	s.pending = out
	return nil
}

// to24Bit scales a sample of the stream's bit depth to the 24-bit range
func (s *FLACSource) to24Bit(sample int32) int32 {
	shift := s.bitDepth - 24
	switch {
	case shift > 0:
		return sample >> shift
	case shift < 0:
		return sample << -shift
	default:
		return sample
	}
}

func (s *FLACSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	return nil
}

func (s *FLACSource) SampleRate() int { return s.sampleRate }
func (s *FLACSource) Channels() int   { return s.channels }
func (s *FLACSource) Close() error {
	return s.file.Close()
}
