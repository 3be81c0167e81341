// ABOUTME: Malgo backend for capture, render and loopback via miniaudio
// ABOUTME: Bridges miniaudio callbacks to the period model through byte rings
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// malgoPeriods is the number of device periods held by each ring
const malgoPeriods = 3

// Malgo opens sessions on the default miniaudio devices.
// The miniaudio context is process-wide and lives until Close.
type Malgo struct {
	ctx      *malgo.AllocatedContext
	period   time.Duration
	loopback bool
	mu       sync.Mutex
}

// DeviceInfo describes one device reported by the audio stack
type DeviceInfo struct {
	Name      string
	Direction Direction
	Default   bool
}

// NewMalgo initializes the miniaudio context
func NewMalgo(opts Options) (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.WithField("function", "miniaudio").Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize malgo context: %v", ErrDeviceUnavailable, err)
	}

	return &Malgo{
		ctx:      ctx,
		period:   opts.period(),
		loopback: opts.Loopback,
	}, nil
}

func (m *Malgo) Name() string { return "malgo" }

// OpenCapture opens the default input device, or the output mix in loopback mode
func (m *Malgo) OpenCapture() (Capture, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	dir := Input
	if m.loopback {
		dir = Loopback
	}
	return &malgoCapture{ringCapture: newRingCapture(dir), backend: m}, nil
}

// OpenRender opens the default output device
func (m *Malgo) OpenRender() (Render, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return &malgoRender{ringRender: newRingRender(), backend: m}, nil
}

// Devices lists playback and capture devices
func (m *Malgo) Devices() ([]DeviceInfo, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	var out []DeviceInfo
	for _, kind := range []struct {
		deviceType malgo.DeviceType
		dir        Direction
	}{
		{malgo.Playback, Output},
		{malgo.Capture, Input},
	} {
		infos, err := m.ctx.Devices(kind.deviceType)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s devices: %w", kind.dir, err)
		}
		for _, info := range infos {
			out = append(out, DeviceInfo{
				Name:      info.Name(),
				Direction: kind.dir,
				Default:   info.IsDefault != 0,
			})
		}
	}
	return out, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}
	if err := m.ctx.Uninit(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Malgo.Close",
			"error":    err,
		}).Warn("malgo context uninit error")
	}
	m.ctx.Free()
	m.ctx = nil
	return nil
}

func (m *Malgo) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return fmt.Errorf("%w: malgo backend closed", ErrDeviceUnavailable)
	}
	return nil
}

// initDevice creates a miniaudio device for dir in format
func (m *Malgo) initDevice(dir Direction, format audio.Format, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	sampleFormat, err := malgoFormat(format.BitDepth)
	if err != nil {
		return nil, err
	}

	var deviceType malgo.DeviceType
	switch dir {
	case Input:
		deviceType = malgo.Capture
	case Output:
		deviceType = malgo.Playback
	case Loopback:
		deviceType = malgo.Loopback
	}

	config := malgo.DefaultDeviceConfig(deviceType)
	config.SampleRate = uint32(format.SampleRate)
	config.PeriodSizeInMilliseconds = uint32(m.period / time.Millisecond)
	config.Periods = malgoPeriods
	config.Alsa.NoMMap = 1
	if dir == Output {
		config.Playback.Format = sampleFormat
		config.Playback.Channels = uint32(format.Channels)
	} else {
		config.Capture.Format = sampleFormat
		config.Capture.Channels = uint32(format.Channels)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, fmt.Errorf("%w: malgo backend closed", ErrDeviceUnavailable)
	}

	device, err := malgo.InitDevice(m.ctx.Context, config, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize %s device: %v", ErrDeviceUnavailable, dir, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Malgo.initDevice",
		"direction": dir.String(),
		"format":    format.String(),
		"encoding":  formatName(sampleFormat),
		"period":    m.period,
	}).Info("Audio device initialized")

	return device, nil
}

// malgoDriver starts and stops one miniaudio device
type malgoDriver struct {
	device *malgo.Device
}

func (d *malgoDriver) start() error { return d.device.Start() }
func (d *malgoDriver) stop() error  { return d.device.Stop() }
func (d *malgoDriver) close() error {
	d.device.Uninit()
	return nil
}

type malgoCapture struct {
	*ringCapture
	backend *Malgo
}

func (c *malgoCapture) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := c.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	periodFrames := max(format.FramesIn(c.backend.period), 1)
	c.allocate(format, periodFrames*malgoPeriods*2)

	device, err := c.backend.initDevice(c.dir, format, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.push(input)
		},
		Stop: c.markLost,
	})
	if err != nil {
		return audio.Format{}, err
	}

	c.setNegotiated(format, c.backend.period, &malgoDriver{device: device})
	return format, nil
}

type malgoRender struct {
	*ringRender
	backend *Malgo
}

func (r *malgoRender) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := r.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	periodFrames := max(format.FramesIn(r.backend.period), 1)
	r.allocate(format, periodFrames*malgoPeriods)

	device, err := r.backend.initDevice(Output, format, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			r.pull(output)
		},
		Stop: r.markLost,
	})
	if err != nil {
		return audio.Format{}, err
	}

	r.setNegotiated(format, r.backend.period, &malgoDriver{device: device})
	return format, nil
}

// malgoFormat maps a bit depth to a miniaudio sample format
func malgoFormat(bitDepth int) (malgo.FormatType, error) {
	switch bitDepth {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bitDepth)
	}
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatU8:
		return "U8"
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
