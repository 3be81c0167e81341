// ABOUTME: Shared session lifecycle and readiness signalling
// ABOUTME: Ring-backed capture and render sessions driven by device callbacks
package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
)

// driver is the backend-specific part of a session
type driver interface {
	start() error
	stop() error
	close() error
}

// session tracks the lifecycle shared by every backend
type session struct {
	dir    Direction
	format audio.Format
	period time.Duration
	drv    driver

	mu         sync.Mutex
	negotiated bool
	started    bool
	stopped    bool
	closed     bool

	ready    chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
	stopping atomic.Bool
}

func newSession(dir Direction) *session {
	return &session{
		dir:   dir,
		ready: make(chan struct{}, 1),
		lost:  make(chan struct{}),
	}
}

func (s *session) Direction() Direction { return s.dir }

func (s *session) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *session) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// setNegotiated records the agreed format and the driver that will run it
func (s *session) setNegotiated(format audio.Format, period time.Duration, drv driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.period = period
	s.drv = drv
	s.negotiated = true
}

// checkNegotiable rejects a second negotiation
func (s *session) checkNegotiable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiated {
		return fmt.Errorf("%w: format already negotiated as %s", ErrUnsupportedFormat, s.format)
	}
	return nil
}

func (s *session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.negotiated {
		return ErrNotNegotiated
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.drv.start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.started = true
	return nil
}

func (s *session) WaitReady(timeout time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-s.lost:
		return ErrDeviceLost
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

func (s *session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	s.stopping.Store(true)
	return s.drv.stop()
}

func (s *session) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.drv == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.drv.close()
}

// check fails unless the stream is running and the device is still there
func (s *session) check() error {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()

	if !running {
		return ErrNotStarted
	}
	select {
	case <-s.lost:
		return ErrDeviceLost
	default:
		return nil
	}
}

// signal marks a period boundary without blocking the caller
func (s *session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// markLost records that the device went away, unless we stopped it ourselves
func (s *session) markLost() {
	if s.stopping.Load() {
		return
	}
	s.lostOnce.Do(func() { close(s.lost) })
}

// ringCapture serves Capture from a ring filled by a device callback
type ringCapture struct {
	*session
	ring     *ring
	overruns atomic.Uint64
}

func newRingCapture(dir Direction) *ringCapture {
	return &ringCapture{session: newSession(dir)}
}

// allocate sizes the ring to hold bufferFrames frames of format
func (c *ringCapture) allocate(format audio.Format, bufferFrames int) {
	c.ring = newRing(format.FrameBytes(bufferFrames))
}

// push is called from the device callback with freshly captured bytes
func (c *ringCapture) push(p []byte) {
	if n := c.ring.Write(p); n < len(p) {
		c.overruns.Add(1)
	}
	c.signal()
}

func (c *ringCapture) AvailableFrames() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.ring.Len() / c.format.BlockAlign(), nil
}

func (c *ringCapture) ReadInto(buf *audio.SampleBuffer) (int, error) {
	frames, err := c.AvailableFrames()
	if err != nil || frames == 0 {
		return 0, err
	}
	c.ring.Read(buf.Tail(c.format.FrameBytes(frames)))
	return frames, nil
}

// Xruns returns how many callbacks found the ring full
func (c *ringCapture) Xruns() uint64 {
	return c.overruns.Load()
}

// ringRender serves Render from a ring drained by a device callback
type ringRender struct {
	*session
	ring      *ring
	underruns atomic.Uint64
}

func newRingRender() *ringRender {
	return &ringRender{session: newSession(Output)}
}

func (r *ringRender) allocate(format audio.Format, bufferFrames int) {
	r.ring = newRing(format.FrameBytes(bufferFrames))
}

// pull is called from the device callback to fill out
func (r *ringRender) pull(out []byte) {
	if n := r.ring.Read(out); n < len(out) && !r.stopping.Load() {
		r.underruns.Add(1)
	}
	r.signal()
}

func (r *ringRender) AvailableSpace() (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.ring.Free() / r.format.BlockAlign(), nil
}

func (r *ringRender) WriteFrom(buf *audio.SampleBuffer, frames int) error {
	if err := r.check(); err != nil {
		return err
	}
	need := r.format.FrameBytes(frames)
	if buf.Len() < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrInsufficientData, buf.Len(), need)
	}
	if free := r.ring.Free(); need > free {
		return fmt.Errorf("%w: %d bytes requested, %d free", ErrNoSpace, need, free)
	}
	r.ring.Write(buf.Next(need))
	return nil
}

// Xruns returns how many callbacks found less data than the device asked for
func (r *ringRender) Xruns() uint64 {
	return r.underruns.Load()
}
