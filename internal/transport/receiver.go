// ABOUTME: UDP receiver turning each datagram into one chunk
// ABOUTME: Trims partial trailing frames and drops datagrams shorter than a frame
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/sirupsen/logrus"
)

// MaxDatagram is the receive buffer size; longer datagrams are truncated
const MaxDatagram = 32768

// ReceiverConfig configures a Receiver
type ReceiverConfig struct {
	// Addr is the local address to bind, wildcard host allowed
	Addr string
	// Format decides the frame size used to trim residue
	Format audio.Format
}

// Receiver reads datagrams from any source and pushes them to a queue
type Receiver struct {
	conn       *net.UDPConn
	out        *queue.Bounded[audio.Chunk]
	format     audio.Format
	stats      *stats.Stats
	tracker    *stage.Tracker
	log        *logrus.Entry
}

// Listen binds cfg.Addr and returns a receiver ready to Run
func Listen(cfg ReceiverConfig, out *queue.Bounded[audio.Chunk], st *stats.Stats, log *logrus.Entry) (*Receiver, error) {
	if cfg.Format.BlockAlign() <= 0 {
		return nil, fmt.Errorf("invalid block alignment %d", cfg.Format.BlockAlign())
	}
	if st == nil {
		st = stats.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("stage", "receiver")

	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve UDP address: %v", ErrReceive, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on UDP: %v", ErrReceive, err)
	}

	r := &Receiver{
		conn:       conn,
		out:        out,
		format:     cfg.Format,
		stats:      st,
		tracker:    stage.NewTracker("receiver", log, st.Observe),
		log:        log,
	}
	r.tracker.Advance(stage.Opened)
	return r, nil
}

// Addr returns the bound local address
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// State returns the stage lifecycle state
func (r *Receiver) State() stage.State {
	return r.tracker.State()
}

// Run receives until the socket fails, the consumer disconnects or ctx
// ends. The socket is closed on return.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.out.CloseSend()
	defer r.conn.Close()

	stop := context.AfterFunc(ctx, func() {
		r.conn.Close()
	})
	defer stop()

	r.tracker.Advance(stage.Running)
	// one spare byte tells an exact fit from a truncated datagram
	buffer := make([]byte, MaxDatagram+1)

	for {
		n, from, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.tracker.Fail(ctxErr)
			}
			return r.tracker.Fail(fmt.Errorf("%w: %v", ErrReceive, err))
		}

		r.stats.DatagramsRecv.Add(1)
		if n > MaxDatagram {
			n = MaxDatagram
			r.stats.Truncated.Add(1)
		}
		r.stats.BytesRecv.Add(uint64(n))

		keep := r.format.FrameBytes(r.format.Frames(n))
		if keep == 0 {
			r.stats.DroppedRunts.Add(1)
			r.log.WithFields(logrus.Fields{
				"function": "Receiver.Run",
				"from":     from.String(),
				"bytes":    n,
			}).Debug("Dropped datagram shorter than one frame")
			continue
		}
		if !r.format.IsAligned(n) {
			r.stats.ResidueBytes.Add(uint64(n - keep))
			r.log.WithFields(logrus.Fields{
				"function": "Receiver.Run",
				"from":     from.String(),
				"bytes":    n,
				"trimmed":  n - keep,
			}).Debug("Trimmed partial frame")
		}

		chunk := audio.Chunk(slices.Clone(buffer[:keep]))
		if err := r.out.Push(ctx, chunk); err != nil {
			if errors.Is(err, queue.ErrDisconnected) {
				return r.tracker.Disconnect("inbound queue disconnected")
			}
			return r.tracker.Fail(err)
		}
	}
}
