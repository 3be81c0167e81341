// ABOUTME: Transformation-free relay between two bounded queues
// ABOUTME: Connects the network-facing stage to the device-facing stage
package pipeline

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/sirupsen/logrus"
)

// Bridge moves chunks from in to out in order, unmodified
type Bridge struct {
	in      *queue.Bounded[audio.Chunk]
	out     *queue.Bounded[audio.Chunk]
	stats   *stats.Stats
	tracker *stage.Tracker
	log     *logrus.Entry
}

// NewBridge creates a bridge named after the direction it serves
func NewBridge(name string, in, out *queue.Bounded[audio.Chunk], st *stats.Stats, log *logrus.Entry) *Bridge {
	if st == nil {
		st = stats.New()
	}
	log = stageLogger(log, name)
	return &Bridge{
		in:      in,
		out:     out,
		stats:   st,
		tracker: newTracker(name, st, log),
		log:     log,
	}
}

// State returns the stage lifecycle state
func (b *Bridge) State() stage.State {
	return b.tracker.State()
}

// Run relays until either side disconnects or ctx ends
func (b *Bridge) Run(ctx context.Context) error {
	defer b.out.CloseSend()
	defer b.in.CloseRecv()

	b.tracker.Advance(stage.Running)

	err := Relay(ctx, b.in, b.out, func() { b.stats.ChunksRelayed.Add(1) })
	if errors.Is(err, queue.ErrDisconnected) {
		return b.tracker.Disconnect("queue disconnected")
	}
	return b.tracker.Fail(err)
}

// Relay pops from in and pushes to out until an error occurs. onItem is
// called after every delivered item.
func Relay[T any](ctx context.Context, in, out *queue.Bounded[T], onItem func()) error {
	for {
		v, err := in.Pop(ctx)
		if err != nil {
			return err
		}
		if err := out.Push(ctx, v); err != nil {
			return err
		}
		if onItem != nil {
			onItem()
		}
	}
}
