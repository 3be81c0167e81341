// ABOUTME: Playback stage feeding exactly one device period per wakeup
// ABOUTME: Non-blocking queue polls, shortfalls are filled with silence
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

// PlaybackConfig configures a PlaybackStage
type PlaybackConfig struct {
	BitDepth   int
	SampleRate int
	Timeout    time.Duration
}

// PlaybackStage drains the inbound queue into a render session
type PlaybackStage struct {
	dev     device.Render
	in      *queue.Bounded[audio.Chunk]
	cfg     PlaybackConfig
	stats   *stats.Stats
	tracker *stage.Tracker
	log     *logrus.Entry
}

// NewPlaybackStage creates a playback stage reading in
func NewPlaybackStage(dev device.Render, in *queue.Bounded[audio.Chunk], cfg PlaybackConfig, st *stats.Stats, log *logrus.Entry) *PlaybackStage {
	if st == nil {
		st = stats.New()
	}
	log = stageLogger(log, "playback")
	return &PlaybackStage{
		dev:     dev,
		in:      in,
		cfg:     cfg,
		stats:   st,
		tracker: newTracker("playback", st, log),
		log:     log,
	}
}

// State returns the stage lifecycle state
func (p *PlaybackStage) State() stage.State {
	return p.tracker.State()
}

// Run plays until the device fails, the producer disconnects or ctx ends.
// It never waits on the queue: missing audio becomes silence.
func (p *PlaybackStage) Run(ctx context.Context) error {
	defer p.in.CloseRecv()

	format, err := p.dev.Negotiate(p.cfg.BitDepth, p.cfg.SampleRate)
	if err != nil {
		return p.tracker.Fail(fmt.Errorf("negotiate: %w", err))
	}
	p.tracker.Advance(stage.Opened)

	if err := p.dev.Start(); err != nil {
		return p.tracker.Fail(fmt.Errorf("start: %w", err))
	}
	defer p.dev.Stop()
	p.tracker.Advance(stage.Started)

	align := format.BlockAlign()
	periodFrames := format.FramesIn(p.dev.Period())
	buf := audio.NewSampleBuffer(align * 4 * max(periodFrames, 1024))

	p.log.WithFields(logrus.Fields{
		"function": "PlaybackStage.Run",
		"format":   format.String(),
		"period":   p.dev.Period(),
	}).Info("Playback started")
	p.tracker.Advance(stage.Running)

	for {
		if err := ctx.Err(); err != nil {
			return p.tracker.Fail(err)
		}

		space, err := p.dev.AvailableSpace()
		if err != nil {
			return p.tracker.Fail(fmt.Errorf("available space: %w", err))
		}

		if disconnected := p.fill(buf, space*align); disconnected {
			return p.tracker.Disconnect("inbound queue disconnected")
		}

		if space > 0 {
			if err := p.dev.WriteFrom(buf, space); err != nil {
				return p.tracker.Fail(fmt.Errorf("write: %w", err))
			}
			p.stats.FramesPlayed.Add(uint64(space))
		}
		recordXruns(p.dev, p.stats)

		if err := p.dev.WaitReady(p.cfg.Timeout); err != nil {
			return p.tracker.Fail(fmt.Errorf("wait ready: %w", err))
		}
	}
}

// fill tops buf up to need bytes from the queue, padding with silence when
// the queue is empty. It reports whether the producer is gone.
func (p *PlaybackStage) fill(buf *audio.SampleBuffer, need int) bool {
	for buf.Len() < need {
		chunk, err := p.in.TryPop()
		switch {
		case err == nil:
			buf.Append(chunk)
			p.stats.ChunksPlayed.Add(1)
		case errors.Is(err, queue.ErrEmpty):
			short := need - buf.Len()
			buf.FillSilence(short)
			p.stats.Underruns.Add(1)
			p.stats.SilenceBytes.Add(uint64(short))
			p.log.WithFields(logrus.Fields{
				"function": "PlaybackStage.fill",
				"bytes":    short,
			}).Trace("Underrun, inserted silence")
		default:
			return true
		}
	}
	return false
}
