// ABOUTME: Tests for the capture, playback and bridge stages
// ABOUTME: Uses scripted fake devices so every period is deterministic
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is the lifecycle shared by the scripted devices
type fakeSession struct {
	dir          device.Direction
	format       audio.Format
	negotiateErr error
	started      bool
	stopped      bool
}

func (s *fakeSession) Direction() device.Direction { return s.dir }
func (s *fakeSession) Format() audio.Format        { return s.format }
func (s *fakeSession) Period() time.Duration       { return 10 * time.Millisecond }
func (s *fakeSession) Close() error                { return nil }

func (s *fakeSession) Negotiate(bitDepth, sampleRate int) (audio.Format, error) {
	if s.negotiateErr != nil {
		return audio.Format{}, s.negotiateErr
	}
	f, err := audio.NewFormat(bitDepth, sampleRate)
	if err != nil {
		return audio.Format{}, err
	}
	s.format = f
	return f, nil
}

func (s *fakeSession) Start() error {
	s.started = true
	return nil
}

func (s *fakeSession) Stop() error {
	s.stopped = true
	return nil
}

// fakeCapture delivers reads[i] frames of a byte counter on period i, then
// fails WaitReady with device.ErrDeviceLost
type fakeCapture struct {
	fakeSession
	reads []int
	next  byte
}

func (c *fakeCapture) WaitReady(time.Duration) error {
	if len(c.reads) == 0 {
		return device.ErrDeviceLost
	}
	return nil
}

func (c *fakeCapture) AvailableFrames() (int, error) {
	if len(c.reads) == 0 {
		return 0, nil
	}
	return c.reads[0], nil
}

func (c *fakeCapture) ReadInto(buf *audio.SampleBuffer) (int, error) {
	frames := c.reads[0]
	c.reads = c.reads[1:]
	for i, p := 0, buf.Tail(c.format.FrameBytes(frames)); i < len(p); i++ {
		p[i] = c.next
		c.next++
	}
	return frames, nil
}

// fakeRender offers spaces[i] frames on period i and records every write,
// then fails WaitReady with device.ErrDeviceLost
type fakeRender struct {
	fakeSession
	spaces  []int
	written bytes.Buffer
	writes  []int
}

func (r *fakeRender) WaitReady(time.Duration) error {
	if len(r.spaces) == 0 {
		return device.ErrDeviceLost
	}
	return nil
}

func (r *fakeRender) AvailableSpace() (int, error) {
	space := r.spaces[0]
	r.spaces = r.spaces[1:]
	return space, nil
}

func (r *fakeRender) WriteFrom(buf *audio.SampleBuffer, frames int) error {
	need := r.format.FrameBytes(frames)
	if buf.Len() < need {
		return device.ErrInsufficientData
	}
	r.written.Write(buf.Next(need))
	r.writes = append(r.writes, frames)
	return nil
}

func counterBytes(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func runAsync(ctx context.Context, run func(context.Context) error) chan error {
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	return done
}

func wait(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("stage did not return")
		return nil
	}
}

func TestCaptureEmitsWholeChunksInOrder(t *testing.T) {
	dev := &fakeCapture{reads: []int{7, 7, 7, 7, 7, 5}}
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	st := stats.New()
	capture := NewCaptureStage(dev, out, CaptureConfig{
		BitDepth:    16,
		SampleRate:  8000,
		ChunkFrames: 10,
		Timeout:     time.Second,
	}, st, nil)

	done := runAsync(context.Background(), capture.Run)

	var got []byte
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		chunk, err := out.Pop(ctx)
		cancel()
		if errors.Is(err, queue.ErrDisconnected) {
			break
		}
		require.NoError(t, err)
		assert.Len(t, chunk, 10*4)
		got = append(got, chunk...)
	}

	err := wait(t, done)
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	assert.Equal(t, stage.Stopped, capture.State())
	assert.Equal(t, counterBytes(160), got)
	assert.Equal(t, uint64(40), st.FramesCaptured.Load())
	assert.Equal(t, uint64(4), st.ChunksCaptured.Load())
	assert.True(t, dev.started)
	assert.True(t, dev.stopped)
}

func TestCaptureHoldsPartialChunk(t *testing.T) {
	dev := &fakeCapture{reads: []int{15}}
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	capture := NewCaptureStage(dev, out, CaptureConfig{BitDepth: 8, SampleRate: 8000, ChunkFrames: 10}, nil, nil)

	err := capture.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceLost)

	chunk, err := out.TryPop()
	require.NoError(t, err)
	assert.Equal(t, audio.Chunk(counterBytes(20)), chunk)

	// The trailing five frames never make a chunk
	_, err = out.TryPop()
	assert.ErrorIs(t, err, queue.ErrDisconnected)
}

func TestCaptureTerminatesWhenConsumerGone(t *testing.T) {
	dev := &fakeCapture{reads: []int{10, 10, 10}}
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	out.CloseRecv()
	capture := NewCaptureStage(dev, out, CaptureConfig{BitDepth: 16, SampleRate: 8000, ChunkFrames: 10}, nil, nil)

	assert.NoError(t, capture.Run(context.Background()))
	assert.Equal(t, stage.Terminated, capture.State())
	assert.True(t, dev.stopped)
}

func TestCaptureNegotiationFailure(t *testing.T) {
	dev := &fakeCapture{fakeSession: fakeSession{negotiateErr: device.ErrUnsupportedFormat}}
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	capture := NewCaptureStage(dev, out, CaptureConfig{BitDepth: 24, SampleRate: 44100, ChunkFrames: 10}, nil, nil)

	err := capture.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrUnsupportedFormat)
	assert.Equal(t, stage.Stopped, capture.State())
	assert.False(t, dev.started)

	_, err = out.TryPop()
	assert.ErrorIs(t, err, queue.ErrDisconnected)
}

func TestCaptureStopsOnCancel(t *testing.T) {
	dev := &fakeCapture{reads: []int{10, 10, 10, 10}}
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	capture := NewCaptureStage(dev, out, CaptureConfig{BitDepth: 16, SampleRate: 8000, ChunkFrames: 10}, nil, nil)

	// Nobody drains out, so the third chunk blocks until cancel
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, capture.Run)
	require.Eventually(t, func() bool { return out.Len() == out.Cap() }, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.Equal(t, stage.Stopped, capture.State())
}

func TestPlaybackFillsUnderrunWithSilence(t *testing.T) {
	dev := &fakeRender{spaces: []int{5}}
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	st := stats.New()
	playback := NewPlaybackStage(dev, in, PlaybackConfig{BitDepth: 16, SampleRate: 8000}, st, nil)

	err := playback.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	assert.Equal(t, stage.Stopped, playback.State())

	assert.Equal(t, []int{5}, dev.writes)
	assert.Equal(t, make([]byte, 20), dev.written.Bytes())
	assert.Equal(t, uint64(1), st.Underruns.Load())
	assert.Equal(t, uint64(20), st.SilenceBytes.Load())
	assert.Equal(t, uint64(5), st.FramesPlayed.Load())
}

func TestPlaybackCarriesSurplusToNextPeriod(t *testing.T) {
	dev := &fakeRender{spaces: []int{4, 4}}
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	chunk := audio.Chunk(counterBytes(24))
	require.NoError(t, in.Push(context.Background(), chunk))
	st := stats.New()
	playback := NewPlaybackStage(dev, in, PlaybackConfig{BitDepth: 16, SampleRate: 8000}, st, nil)

	err := playback.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceLost)

	// 16 bytes in the first period, the remaining 8 plus 8 of silence next
	want := append(counterBytes(24), make([]byte, 8)...)
	assert.Equal(t, []int{4, 4}, dev.writes)
	assert.Equal(t, want, dev.written.Bytes())
	assert.Equal(t, uint64(1), st.ChunksPlayed.Load())
	assert.Equal(t, uint64(1), st.Underruns.Load())
	assert.Equal(t, uint64(8), st.SilenceBytes.Load())
}

func TestPlaybackSkipsWriteWhenDeviceFull(t *testing.T) {
	dev := &fakeRender{spaces: []int{0, 2}}
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	require.NoError(t, in.Push(context.Background(), audio.Chunk(counterBytes(8))))
	playback := NewPlaybackStage(dev, in, PlaybackConfig{BitDepth: 16, SampleRate: 8000}, nil, nil)

	assert.ErrorIs(t, playback.Run(context.Background()), device.ErrDeviceLost)
	assert.Equal(t, []int{2}, dev.writes)
	assert.Equal(t, counterBytes(8), dev.written.Bytes())
}

func TestPlaybackTerminatesWhenProducerGone(t *testing.T) {
	dev := &fakeRender{spaces: []int{4, 4, 4}}
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	require.NoError(t, in.Push(context.Background(), audio.Chunk(counterBytes(16))))
	in.CloseSend()
	playback := NewPlaybackStage(dev, in, PlaybackConfig{BitDepth: 16, SampleRate: 8000}, nil, nil)

	// Queued audio is still played before the disconnect is seen
	assert.NoError(t, playback.Run(context.Background()))
	assert.Equal(t, stage.Terminated, playback.State())
	assert.Equal(t, counterBytes(16), dev.written.Bytes())
	assert.True(t, dev.stopped)
}

func TestBridgeRelaysInOrder(t *testing.T) {
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	st := stats.New()
	bridge := NewBridge("bridge-test", in, out, st, nil)
	done := runAsync(context.Background(), bridge.Run)

	go func() {
		for i := byte(0); i < 10; i++ {
			if in.Push(context.Background(), audio.Chunk{i}) != nil {
				return
			}
		}
		in.CloseSend()
	}()

	for i := byte(0); i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		chunk, err := out.Pop(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, audio.Chunk{i}, chunk)
	}

	assert.NoError(t, wait(t, done))
	assert.Equal(t, stage.Terminated, bridge.State())
	assert.Equal(t, uint64(10), st.ChunksRelayed.Load())

	_, err := out.Pop(context.Background())
	assert.ErrorIs(t, err, queue.ErrDisconnected)
}

func TestBridgePropagatesConsumerDisconnect(t *testing.T) {
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	out.CloseRecv()
	bridge := NewBridge("bridge-test", in, out, nil, nil)
	done := runAsync(context.Background(), bridge.Run)

	require.NoError(t, in.Push(context.Background(), audio.Chunk{1}))
	assert.NoError(t, wait(t, done))
	assert.Equal(t, stage.Terminated, bridge.State())

	// The upstream producer now sees the disconnect too
	assert.ErrorIs(t, in.Push(context.Background(), audio.Chunk{2}), queue.ErrDisconnected)
}

func TestBridgeStopsOnCancel(t *testing.T) {
	in := queue.New[audio.Chunk](queue.DefaultCapacity)
	out := queue.New[audio.Chunk](queue.DefaultCapacity)
	bridge := NewBridge("bridge-test", in, out, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, bridge.Run)
	cancel()

	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.Equal(t, stage.Stopped, bridge.State())
}

func TestRelayGeneric(t *testing.T) {
	in := queue.New[int](4)
	out := queue.New[int](4)
	for i := range 3 {
		require.NoError(t, in.Push(context.Background(), i))
	}
	in.CloseSend()

	count := 0
	err := Relay(context.Background(), in, out, func() { count++ })
	assert.ErrorIs(t, err, queue.ErrDisconnected)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, out.Len())
}
