// ABOUTME: Audio device abstraction for period-driven capture and render
// ABOUTME: Defines sessions, backends, sentinel errors and the backend registry
package device

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
)

// Direction selects which side of the audio stack a session talks to
type Direction int

const (
	// Input captures from the default input device
	Input Direction = iota
	// Output renders to the default output device
	Output
	// Loopback captures what the default output device is playing
	Loopback
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case Loopback:
		return "loopback"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

var (
	// ErrDeviceUnavailable is returned when no device can be opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrUnsupportedFormat is returned when the device rejects the format
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat
	// ErrTimeout is returned by WaitReady when the device never signals
	ErrTimeout = errors.New("audio device readiness timeout")
	// ErrDeviceLost is returned once the device stops or disappears
	ErrDeviceLost = errors.New("audio device lost")
	// ErrNotStarted is returned by data calls before Start
	ErrNotStarted = errors.New("audio stream not started")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("audio stream already started")
	// ErrNotNegotiated is returned by Start before Negotiate
	ErrNotNegotiated = errors.New("audio format not negotiated")
	// ErrInsufficientData is returned by WriteFrom when the buffer holds
	// fewer bytes than the requested frames
	ErrInsufficientData = errors.New("insufficient data for write")
	// ErrNoSpace is returned by WriteFrom when frames exceed AvailableSpace
	ErrNoSpace = errors.New("write exceeds available space")
)

// DefaultPeriod is the device period requested when none is configured
const DefaultPeriod = 10 * time.Millisecond

// Session is one opened direction of an audio device.
//
// A session is negotiated once, started once and stopped on the first
// failure. It is never restarted.
type Session interface {
	Direction() Direction
	// Negotiate fixes the interleaved stereo format for the session
	Negotiate(bitDepth, sampleRate int) (audio.Format, error)
	Format() audio.Format
	// Period is the interval at which the device exchanges data
	Period() time.Duration
	Start() error
	// WaitReady blocks until the next period boundary
	WaitReady(timeout time.Duration) error
	Stop() error
	Close() error
}

// Capture is a session that produces audio
type Capture interface {
	Session
	// AvailableFrames returns how many frames can be read without blocking
	AvailableFrames() (int, error)
	// ReadInto appends every available frame to buf and returns the frame count
	ReadInto(buf *audio.SampleBuffer) (int, error)
}

// Render is a session that consumes audio
type Render interface {
	Session
	// AvailableSpace returns how many frames the device will accept now
	AvailableSpace() (int, error)
	// WriteFrom removes exactly frames worth of bytes from buf and submits them
	WriteFrom(buf *audio.SampleBuffer, frames int) error
}

// Backend opens sessions on one audio API
type Backend interface {
	Name() string
	OpenCapture() (Capture, error)
	OpenRender() (Render, error)
	// Close releases process-wide audio state
	Close() error
}

// Options configures a backend
type Options struct {
	// Period requested from the device, DefaultPeriod when zero
	Period time.Duration
	// Loopback makes capture sessions record the output mix
	Loopback bool
	// SourcePath is an MP3 or FLAC file played by virtual capture
	SourcePath string
	// Source overrides the virtual capture source
	Source audio.Source
	// Sink receives bytes written to virtual render sessions
	Sink io.Writer
}

func (o Options) period() time.Duration {
	if o.Period <= 0 {
		return DefaultPeriod
	}
	return o.Period
}

// Names lists the backends accepted by NewBackend
func Names() []string {
	return []string{"malgo", "oto", "portaudio", "virtual"}
}

// NewBackend creates the named backend
func NewBackend(name string, opts Options) (Backend, error) {
	switch name {
	case "malgo", "":
		m, err := NewMalgo(opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "oto":
		return NewOto(opts), nil
	case "portaudio":
		p, err := NewPortAudio(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "virtual":
		return NewVirtual(opts), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (available: %v)", name, Names())
	}
}

// XrunCounter is implemented by sessions that count device-side overruns
// (capture) or underruns (render)
type XrunCounter interface {
	Xruns() uint64
}
