// ABOUTME: Capture stage pulling device periods into fixed-size chunks
// ABOUTME: Blocking push to the outbound queue is the only backpressure
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/sirupsen/logrus"
)

// CaptureConfig configures a CaptureStage
type CaptureConfig struct {
	BitDepth    int
	SampleRate  int
	ChunkFrames int
	Timeout     time.Duration
}

// CaptureStage reads a capture session and emits chunks of ChunkFrames frames
type CaptureStage struct {
	dev     device.Capture
	out     *queue.Bounded[audio.Chunk]
	cfg     CaptureConfig
	stats   *stats.Stats
	tracker *stage.Tracker
	log     *logrus.Entry
}

// NewCaptureStage creates a capture stage feeding out
func NewCaptureStage(dev device.Capture, out *queue.Bounded[audio.Chunk], cfg CaptureConfig, st *stats.Stats, log *logrus.Entry) *CaptureStage {
	if st == nil {
		st = stats.New()
	}
	log = stageLogger(log, "capture")
	return &CaptureStage{
		dev:     dev,
		out:     out,
		cfg:     cfg,
		stats:   st,
		tracker: newTracker("capture", st, log),
		log:     log,
	}
}

// State returns the stage lifecycle state
func (c *CaptureStage) State() stage.State {
	return c.tracker.State()
}

// Run captures until the device fails, the consumer disconnects or ctx ends.
// It always closes the producer end of the outbound queue.
func (c *CaptureStage) Run(ctx context.Context) error {
	defer c.out.CloseSend()

	format, err := c.dev.Negotiate(c.cfg.BitDepth, c.cfg.SampleRate)
	if err != nil {
		return c.tracker.Fail(fmt.Errorf("negotiate: %w", err))
	}
	c.tracker.Advance(stage.Opened)

	if err := c.dev.Start(); err != nil {
		return c.tracker.Fail(fmt.Errorf("start: %w", err))
	}
	defer c.dev.Stop()
	c.tracker.Advance(stage.Started)

	align := format.BlockAlign()
	chunkBytes := c.cfg.ChunkFrames * align
	periodFrames := format.FramesIn(c.dev.Period())
	buf := audio.NewSampleBuffer(100 * align * (1024 + 2*periodFrames))

	c.log.WithFields(logrus.Fields{
		"function":    "CaptureStage.Run",
		"format":      format.String(),
		"period":      c.dev.Period(),
		"chunk_bytes": chunkBytes,
	}).Info("Capture started")
	c.tracker.Advance(stage.Running)

	for {
		if err := ctx.Err(); err != nil {
			return c.tracker.Fail(err)
		}
		if err := c.dev.WaitReady(c.cfg.Timeout); err != nil {
			return c.tracker.Fail(fmt.Errorf("wait ready: %w", err))
		}

		frames, err := c.dev.ReadInto(buf)
		if err != nil {
			return c.tracker.Fail(fmt.Errorf("read: %w", err))
		}
		c.stats.FramesCaptured.Add(uint64(frames))
		recordXruns(c.dev, c.stats)

		for buf.Len() >= chunkBytes {
			chunk := audio.Chunk(buf.Pop(chunkBytes))
			if err := c.out.Push(ctx, chunk); err != nil {
				if errors.Is(err, queue.ErrDisconnected) {
					return c.tracker.Disconnect("outbound queue disconnected")
				}
				return c.tracker.Fail(err)
			}
			c.stats.ChunksCaptured.Add(1)
		}
	}
}
