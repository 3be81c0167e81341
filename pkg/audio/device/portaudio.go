//go:build portaudio

// ABOUTME: PortAudio backend for capture and render
// ABOUTME: Converts PortAudio callback buffers to interleaved little-endian bytes
package device

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

const portaudioPeriods = 3

// PortAudio opens sessions on the default PortAudio devices
type PortAudio struct {
	period time.Duration
}

// NewPortAudio initializes PortAudio for the lifetime of the backend
func NewPortAudio(opts Options) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize portaudio: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudio{period: opts.period()}, nil
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) OpenCapture() (Capture, error) {
	return &portaudioCapture{ringCapture: newRingCapture(Input), backend: p}, nil
}

func (p *PortAudio) OpenRender() (Render, error) {
	return &portaudioRender{ringRender: newRingRender(), backend: p}, nil
}

// Close terminates PortAudio
func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

type portaudioDriver struct {
	stream *portaudio.Stream
}

func (d *portaudioDriver) start() error { return d.stream.Start() }
func (d *portaudioDriver) stop() error  { return d.stream.Stop() }
func (d *portaudioDriver) close() error { return d.stream.Close() }

type portaudioCapture struct {
	*ringCapture
	backend *PortAudio
	scratch []byte
}

func (c *portaudioCapture) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := c.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	periodFrames := max(format.FramesIn(c.backend.period), 1)
	c.allocate(format, periodFrames*portaudioPeriods*2)
	c.scratch = make([]byte, format.FrameBytes(periodFrames))

	var callback any
	switch format.BitDepth {
	case 8:
		callback = func(in []uint8) { c.push(in) }
	case 16:
		callback = func(in []int16) {
			buf := c.buffer(len(in) * 2)
			for i, s := range in {
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
			}
			c.push(buf)
		}
	case 32:
		callback = func(in []int32) {
			buf := c.buffer(len(in) * 4)
			for i, s := range in {
				binary.LittleEndian.PutUint32(buf[i*4:], uint32(s))
			}
			c.push(buf)
		}
	default:
		return audio.Format{}, fmt.Errorf("%w: portaudio backend supports 8, 16 and 32-bit, got %d", ErrUnsupportedFormat, format.BitDepth)
	}

	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), periodFrames, callback)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: failed to open capture stream: %v", ErrDeviceUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "portaudioCapture.Negotiate",
		"format":   format.String(),
	}).Info("Audio input initialized (portaudio)")

	c.setNegotiated(format, c.backend.period, &portaudioDriver{stream: stream})
	return format, nil
}

// buffer returns the scratch space grown to n bytes
func (c *portaudioCapture) buffer(n int) []byte {
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	return c.scratch[:n]
}

type portaudioRender struct {
	*ringRender
	backend *PortAudio
	scratch []byte
}

func (r *portaudioRender) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := r.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	periodFrames := max(format.FramesIn(r.backend.period), 1)
	r.allocate(format, periodFrames*portaudioPeriods)

	var callback any
	switch format.BitDepth {
	case 8:
		callback = func(out []uint8) { r.pull(out) }
	case 16:
		callback = func(out []int16) {
			buf := r.buffer(len(out) * 2)
			r.pull(buf)
			for i := range out {
				out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
			}
		}
	case 32:
		callback = func(out []int32) {
			buf := r.buffer(len(out) * 4)
			r.pull(buf)
			for i := range out {
				out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
			}
		}
	default:
		return audio.Format{}, fmt.Errorf("%w: portaudio backend supports 8, 16 and 32-bit, got %d", ErrUnsupportedFormat, format.BitDepth)
	}

	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), periodFrames, callback)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: failed to open render stream: %v", ErrDeviceUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "portaudioRender.Negotiate",
		"format":   format.String(),
	}).Info("Audio output initialized (portaudio)")

	r.setNegotiated(format, r.backend.period, &portaudioDriver{stream: stream})
	return format, nil
}

func (r *portaudioRender) buffer(n int) []byte {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	return r.scratch[:n]
}
