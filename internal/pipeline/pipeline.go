// ABOUTME: Wires stages and queues for the listening and streaming directions
// ABOUTME: Runs every stage under one errgroup and settles on the first failure
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/internal/transport"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ListenConfig configures the receiving direction
type ListenConfig struct {
	// Addr is the local UDP address to bind, e.g. ":6969"
	Addr       string
	BitDepth   int
	SampleRate int
	Timeout    time.Duration
}

// StreamConfig configures the sending direction
type StreamConfig struct {
	// LocalAddr is the fixed local UDP address, e.g. ":3400"
	LocalAddr string
	// PeerAddr is the listener's host:port
	PeerAddr    string
	BitDepth    int
	SampleRate  int
	ChunkFrames int
	Timeout     time.Duration
}

// Runner runs one direction of the pipeline
type Runner struct {
	backend device.Backend
	stats   *stats.Stats
	session string
	log     *logrus.Entry
}

// New creates a runner opening sessions on backend. st may be nil.
func New(backend device.Backend, st *stats.Stats) *Runner {
	if st == nil {
		st = stats.New()
	}
	session := uuid.NewString()
	return &Runner{
		backend: backend,
		stats:   st,
		session: session,
		log:     logrus.WithField("session", session),
	}
}

// Stats returns the counters updated by the running stages
func (r *Runner) Stats() *stats.Stats { return r.stats }

// Session returns the id attached to every log line of this runner
func (r *Runner) Session() string { return r.session }

// Listen receives datagrams on cfg.Addr and plays them until a stage fails,
// the direction disconnects or ctx ends
func (r *Runner) Listen(ctx context.Context, cfg ListenConfig) error {
	format, err := audio.NewFormat(cfg.BitDepth, cfg.SampleRate)
	if err != nil {
		return err
	}

	render, err := r.backend.OpenRender()
	if err != nil {
		return fmt.Errorf("open render device: %w", err)
	}
	defer render.Close()

	netQueue := queue.New[audio.Chunk](queue.DefaultCapacity)
	devQueue := queue.New[audio.Chunk](queue.DefaultCapacity)

	receiver, err := transport.Listen(transport.ReceiverConfig{
		Addr:       cfg.Addr,
		Format:     format,
	}, netQueue, r.stats, r.log)
	if err != nil {
		return err
	}

	bridge := NewBridge("bridge-listen", netQueue, devQueue, r.stats, r.log)
	playback := NewPlaybackStage(render, devQueue, PlaybackConfig{
		BitDepth:   cfg.BitDepth,
		SampleRate: cfg.SampleRate,
		Timeout:    cfg.Timeout,
	}, r.stats, r.log)

	r.log.WithFields(logrus.Fields{
		"function": "Runner.Listen",
		"addr":     receiver.Addr().String(),
		"format":   format.String(),
		"backend":  r.backend.Name(),
	}).Info("Listening")

	return r.run(ctx, receiver.Run, bridge.Run, playback.Run)
}

// Stream captures audio and sends it to cfg.PeerAddr until a stage fails,
// the direction disconnects or ctx ends
func (r *Runner) Stream(ctx context.Context, cfg StreamConfig) error {
	format, err := audio.NewFormat(cfg.BitDepth, cfg.SampleRate)
	if err != nil {
		return err
	}

	capture, err := r.backend.OpenCapture()
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	defer capture.Close()

	devQueue := queue.New[audio.Chunk](queue.DefaultCapacity)
	netQueue := queue.New[audio.Chunk](queue.DefaultCapacity)

	sender, err := transport.Dial(transport.SenderConfig{
		LocalAddr: cfg.LocalAddr,
		PeerAddr:  cfg.PeerAddr,
	}, netQueue, r.stats, r.log)
	if err != nil {
		return err
	}

	captureStage := NewCaptureStage(capture, devQueue, CaptureConfig{
		BitDepth:    cfg.BitDepth,
		SampleRate:  cfg.SampleRate,
		ChunkFrames: cfg.ChunkFrames,
		Timeout:     cfg.Timeout,
	}, r.stats, r.log)
	bridge := NewBridge("bridge-stream", devQueue, netQueue, r.stats, r.log)

	r.log.WithFields(logrus.Fields{
		"function":    "Runner.Stream",
		"peer":        cfg.PeerAddr,
		"local":       sender.LocalAddr().String(),
		"format":      format.String(),
		"chunk_bytes": format.FrameBytes(cfg.ChunkFrames),
		"chunk_time":  format.Duration(cfg.ChunkFrames),
		"backend":     r.backend.Name(),
	}).Info("Streaming")

	return r.run(ctx, captureStage.Run, bridge.Run, sender.Run)
}

// run starts every stage and waits for all of them. The first stage to
// return cancels the rest. A stage that returns context.Canceled was stopped
// by another stage or by ctx, so only real failures reach the caller and a
// run that ended through disconnects or cancellation returns nil.
func (r *Runner) run(ctx context.Context, stages ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	for _, run := range stages {
		g.Go(func() error {
			err := run(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				// errgroup only cancels on errors
				cancel()
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// newTracker creates a stage tracker reporting into st
func newTracker(name string, st *stats.Stats, log *logrus.Entry) *stage.Tracker {
	return stage.NewTracker(name, log, st.Observe)
}

// stageLogger tags log with the stage name, falling back to the standard logger
func stageLogger(log *logrus.Entry, name string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("stage", name)
}

// recordXruns copies device-side xrun counts into st when the session has them
func recordXruns(dev device.Session, st *stats.Stats) {
	if x, ok := dev.(device.XrunCounter); ok {
		st.DeviceXruns.Store(x.Xruns())
	}
}
