// ABOUTME: Virtual backend clocked in software
// ABOUTME: Captures from a tone or audio file and renders into an optional sink
package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/decode"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/encode"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/resample"
	"github.com/sirupsen/logrus"
)

// virtualPeriods is the number of periods a virtual device buffers
const virtualPeriods = 4

// Virtual is a device backend without hardware. Capture plays a sample
// source in real time and render discards or forwards what it is given.
type Virtual struct {
	period     time.Duration
	sourcePath string
	source     audio.Source
	sink       io.Writer
}

// NewVirtual creates a virtual backend
func NewVirtual(opts Options) *Virtual {
	return &Virtual{
		period:     opts.period(),
		sourcePath: opts.SourcePath,
		source:     opts.Source,
		sink:       opts.Sink,
	}
}

func (v *Virtual) Name() string { return "virtual" }

func (v *Virtual) OpenCapture() (Capture, error) {
	return &virtualCapture{session: newSession(Input), backend: v}, nil
}

func (v *Virtual) OpenRender() (Render, error) {
	return &virtualRender{session: newSession(Output), backend: v}, nil
}

func (v *Virtual) Close() error { return nil }

// openSource returns the capture source and whether the session owns it
func (v *Virtual) openSource(sampleRate int) (audio.Source, bool, error) {
	switch {
	case v.source != nil:
		return v.source, false, nil
	case v.sourcePath != "":
		src, err := decode.OpenFile(v.sourcePath)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return src, true, nil
	default:
		return NewToneSource(sampleRate, ToneFrequency), true, nil
	}
}

// clockDriver ticks once per period while started
type clockDriver struct {
	period  time.Duration
	tick    func()
	release func() error

	stopCh chan struct{}
	done   chan struct{}
}

func newClockDriver(period time.Duration, tick func(), release func() error) *clockDriver {
	return &clockDriver{
		period:  period,
		tick:    tick,
		release: release,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *clockDriver) start() error {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.tick()
			case <-d.stopCh:
				return
			}
		}
	}()
	return nil
}

func (d *clockDriver) stop() error {
	close(d.stopCh)
	<-d.done
	return nil
}

func (d *clockDriver) close() error {
	if d.release == nil {
		return nil
	}
	return d.release()
}

// virtualCapture produces one period of frames per tick
type virtualCapture struct {
	*session
	backend *Virtual

	source    audio.Source
	resampler *resample.Resampler
	encoder   *encode.PCMEncoder

	mu           sync.Mutex
	pending      int
	maxPending   int
	periodFrames int
	overruns     atomic.Uint64

	scratch []int32
	stereo  []int32
	carry   []int32
}

func (c *virtualCapture) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := c.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}
	encoder, err := encode.NewPCM(format)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	src, owned, err := c.backend.openSource(sampleRate)
	if err != nil {
		return audio.Format{}, err
	}
	if ch := src.Channels(); ch != 1 && ch != 2 {
		if owned {
			src.Close()
		}
		return audio.Format{}, fmt.Errorf("%w: source has %d channels", ErrUnsupportedFormat, ch)
	}

	c.source = src
	c.encoder = encoder
	c.resampler = resample.New(src.SampleRate(), sampleRate, audio.Channels)
	c.periodFrames = max(format.FramesIn(c.backend.period), 1)
	c.maxPending = c.periodFrames * virtualPeriods

	var release func() error
	if owned {
		release = src.Close
	}

	logrus.WithFields(logrus.Fields{
		"function":    "virtualCapture.Negotiate",
		"format":      format.String(),
		"source_rate": src.SampleRate(),
		"period":      c.backend.period,
	}).Info("Virtual capture initialized")

	c.setNegotiated(format, c.backend.period, newClockDriver(c.backend.period, c.tick, release))
	return format, nil
}

func (c *virtualCapture) tick() {
	c.mu.Lock()
	c.pending += c.periodFrames
	if c.pending > c.maxPending {
		c.pending = c.maxPending
		c.overruns.Add(1)
	}
	c.mu.Unlock()
	c.signal()
}

func (c *virtualCapture) AvailableFrames() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, nil
}

func (c *virtualCapture) ReadInto(buf *audio.SampleBuffer) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	frames := c.pending
	c.pending = 0
	c.mu.Unlock()

	if frames == 0 {
		return 0, nil
	}

	samples, err := c.generate(frames * audio.Channels)
	if err != nil {
		return 0, err
	}
	c.encoder.EncodeInto(buf.Tail(c.format.FrameBytes(frames)), samples)
	c.consume(len(samples))
	return frames, nil
}

// generate makes sure carry holds at least n stereo samples at the output
// rate and returns the first n of them
func (c *virtualCapture) generate(n int) ([]int32, error) {
	srcChannels := c.source.Channels()
	dry := 0

	for len(c.carry) < n {
		wantFrames := max(c.resampler.InputSamplesNeeded(n-len(c.carry))/audio.Channels, 64)
		want := wantFrames * srcChannels
		if cap(c.scratch) < want {
			c.scratch = make([]int32, want)
		}

		got, err := c.source.Read(c.scratch[:want])
		if err != nil {
			return nil, fmt.Errorf("%w: source read: %v", ErrDeviceLost, err)
		}
		if got == 0 {
			dry++
			if dry > 1 {
				// source produced nothing twice, pad with silence
				c.carry = append(c.carry, make([]int32, n-len(c.carry))...)
				break
			}
			continue
		}
		dry = 0

		in := c.toStereo(c.scratch[:got], srcChannels)
		out := make([]int32, c.resampler.OutputSamplesNeeded(len(in)))
		written := c.resampler.Resample(in, out)
		c.carry = append(c.carry, out[:written]...)
	}

	return c.carry[:n], nil
}

// consume drops n samples from the head of carry
func (c *virtualCapture) consume(n int) {
	remaining := copy(c.carry, c.carry[n:])
	c.carry = c.carry[:remaining]
}

// toStereo duplicates mono samples into both channels
func (c *virtualCapture) toStereo(samples []int32, channels int) []int32 {
	if channels == audio.Channels {
		return samples[:len(samples)-len(samples)%audio.Channels]
	}
	if cap(c.stereo) < len(samples)*2 {
		c.stereo = make([]int32, len(samples)*2)
	}
	out := c.stereo[:len(samples)*2]
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Xruns returns how many periods were dropped because nobody read them
func (c *virtualCapture) Xruns() uint64 {
	return c.overruns.Load()
}

// virtualRender accepts up to virtualPeriods periods and drains one per tick
type virtualRender struct {
	*session
	backend *Virtual

	mu           sync.Mutex
	queued       int
	capacity     int
	periodFrames int
}

func (r *virtualRender) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if err := r.checkNegotiable(); err != nil {
		return audio.Format{}, err
	}
	format, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}

	r.periodFrames = max(format.FramesIn(r.backend.period), 1)
	r.capacity = r.periodFrames * virtualPeriods

	r.setNegotiated(format, r.backend.period, newClockDriver(r.backend.period, r.tick, nil))
	return format, nil
}

func (r *virtualRender) tick() {
	r.mu.Lock()
	r.queued = max(r.queued-r.periodFrames, 0)
	r.mu.Unlock()
	r.signal()
}

func (r *virtualRender) AvailableSpace() (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity - r.queued, nil
}

func (r *virtualRender) WriteFrom(buf *audio.SampleBuffer, frames int) error {
	if err := r.check(); err != nil {
		return err
	}
	need := r.format.FrameBytes(frames)
	if buf.Len() < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrInsufficientData, buf.Len(), need)
	}

	r.mu.Lock()
	if free := r.capacity - r.queued; frames > free {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d frames requested, %d free", ErrNoSpace, frames, free)
	}
	r.queued += frames
	r.mu.Unlock()

	p := buf.Next(need)
	if r.backend.sink != nil {
		if _, err := r.backend.sink.Write(p); err != nil {
			return fmt.Errorf("%w: sink write: %v", ErrDeviceLost, err)
		}
	}
	return nil
}
