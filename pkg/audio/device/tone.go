// ABOUTME: Test tone generator for virtual capture
// ABOUTME: Generates a 440Hz sine wave at 50% volume in the 24-bit range
package device

import (
	"math"
	"sync"
)

// ToneFrequency is the pitch of the default tone (A4)
const ToneFrequency = 440.0

// ToneSource generates a stereo sine tone
type ToneSource struct {
	sampleRate  int
	frequency   float64
	sampleIndex uint64
	mu          sync.Mutex
}

// NewToneSource creates a tone generator running at sampleRate
func NewToneSource(sampleRate int, frequency float64) *ToneSource {
	return &ToneSource{
		sampleRate: sampleRate,
		frequency:  frequency,
	}
}

func (s *ToneSource) Read(samples []int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	numFrames := len(samples) / 2
	for i := 0; i < numFrames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		sample := int32(math.Sin(2*math.Pi*s.frequency*t) * 8388607.0 * 0.5)

		samples[i*2] = sample
		samples[i*2+1] = sample
	}
	s.sampleIndex += uint64(numFrames)

	return numFrames * 2, nil
}

func (s *ToneSource) SampleRate() int { return s.sampleRate }
func (s *ToneSource) Channels() int   { return 2 }
func (s *ToneSource) Close() error    { return nil }
