// ABOUTME: Oto backend for render-only playback
// ABOUTME: Feeds a persistent oto player from a byte ring, 8 or 16-bit output
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
)

// otoPeriods is the number of periods buffered by the ring and the player
const otoPeriods = 4

// Oto renders through the oto library. Oto allows a single context per
// process, so every render session must share one format.
type Oto struct {
	period time.Duration

	mu     sync.Mutex
	otoCtx *oto.Context
	format audio.Format
}

// NewOto creates an oto backend; the context is created on first negotiation
func NewOto(opts Options) *Oto {
	return &Oto{period: opts.period()}
}

func (o *Oto) Name() string { return "oto" }

// OpenCapture is not supported by oto
func (o *Oto) OpenCapture() (Capture, error) {
	return nil, fmt.Errorf("%w: oto backend has no capture support", ErrDeviceUnavailable)
}

func (o *Oto) OpenRender() (Render, error) {
	return &otoRender{ringRender: newRingRender(), backend: o}, nil
}

// Close suspends the shared context
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.otoCtx == nil {
		return nil
	}
	return o.otoCtx.Suspend()
}

// context returns the shared oto context for format, creating it once
func (o *Oto) context(format audio.Format) (*oto.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if o.format != format {
			return nil, fmt.Errorf("%w: oto context already running at %s", ErrUnsupportedFormat, o.format)
		}
		return o.otoCtx, nil
	}

	var sampleFormat oto.Format
	switch format.BitDepth {
	case 8:
		sampleFormat = oto.FormatUnsignedInt8
	case 16:
		sampleFormat = oto.FormatSignedInt16LE
	default:
		return nil, fmt.Errorf("%w: oto supports 8 and 16-bit output, got %d", ErrUnsupportedFormat, format.BitDepth)
	}

	ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
		BufferSize:   o.period,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create oto context: %v", ErrDeviceUnavailable, err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.format = format

	logrus.WithFields(logrus.Fields{
		"function": "Oto.context",
		"format":   format.String(),
	}).Info("Audio output initialized (oto)")

	return ctx, nil
}

type otoRender struct {
	*ringRender
	backend *Oto
}

func (r *otoRender) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := r.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	ctx, err := r.backend.context(format)
	if err != nil {
		return audio.Format{}, err
	}

	periodFrames := max(format.FramesIn(r.backend.period), 1)
	r.allocate(format, periodFrames*otoPeriods)

	player := ctx.NewPlayer(&otoReader{render: r.ringRender})
	player.SetBufferSize(format.FrameBytes(periodFrames * 2))

	r.setNegotiated(format, r.backend.period, &otoDriver{player: player})
	return format, nil
}

// otoReader hands ring contents to the oto player, zero-filling underruns
type otoReader struct {
	render *ringRender
}

func (rd *otoReader) Read(p []byte) (int, error) {
	rd.render.pull(p)
	return len(p), nil
}

type otoDriver struct {
	player *oto.Player
}

func (d *otoDriver) start() error {
	d.player.Play()
	return nil
}

func (d *otoDriver) stop() error {
	d.player.Pause()
	return nil
}

func (d *otoDriver) close() error {
	return d.player.Close()
}
