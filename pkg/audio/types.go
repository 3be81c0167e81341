// ABOUTME: Audio type definitions
// ABOUTME: Defines the interleaved stereo PCM format, chunks and sample conversions
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// Channels is fixed: every stream is interleaved stereo
	Channels = 2

	// MaxSampleRate is the highest rate accepted by NewFormat
	MaxSampleRate = 384000

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// ErrUnsupportedFormat is returned when a bit depth or sample rate cannot be used
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format describes an interleaved PCM stream
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// NewFormat returns the stereo format for the given bit depth and rate
func NewFormat(bitDepth, sampleRate int) (Format, error) {
	f := Format{
		SampleRate: sampleRate,
		Channels:   Channels,
		BitDepth:   bitDepth,
	}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// Validate checks bit depth, rate and channel count
func (f Format) Validate() error {
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d (supported: 8, 16, 24, 32)", ErrUnsupportedFormat, f.BitDepth)
	}
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels != Channels {
		return fmt.Errorf("%w: %d channels (only stereo is supported)", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}

// BytesPerSample returns the container size of one sample
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// BlockAlign returns the number of bytes in one interleaved frame
func (f Format) BlockAlign() int {
	return f.Channels * f.BytesPerSample()
}

// FrameBytes returns the byte length of n frames
func (f Format) FrameBytes(frames int) int {
	return frames * f.BlockAlign()
}

// Frames returns how many whole frames fit in n bytes
func (f Format) Frames(n int) int {
	align := f.BlockAlign()
	if align == 0 {
		return 0
	}
	return n / align
}

// IsAligned reports whether n bytes is a whole number of frames
func (f Format) IsAligned(n int) bool {
	align := f.BlockAlign()
	return align > 0 && n%align == 0
}

// Duration returns the playback time of n frames
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// FramesIn returns the number of frames played during d
func (f Format) FramesIn(d time.Duration) int {
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%d-bit", f.SampleRate, f.Channels, f.BitDepth)
}

// Chunk is a block of whole interleaved frames moved between stages.
// A chunk is never modified after it has been handed to a queue.
type Chunk []byte


// Source provides interleaved int32 samples in the 24-bit range
type Source interface {
	// Read fills samples and returns how many were written
	Read(samples []int32) (int, error)
	// SampleRate returns the native rate of the source
	SampleRate() int
	// Channels returns the number of interleaved channels
	Channels() int
	// Close releases the source
	Close() error
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleToUint8 converts int32 sample to unsigned 8-bit PCM
func SampleToUint8(sample int32) uint8 {
	return uint8(int8(sample>>16)) ^ 0x80
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// SampleToInt32 left-justifies a 24-bit sample in a 32-bit container
func SampleToInt32(sample int32) int32 {
	return sample << 8
}

