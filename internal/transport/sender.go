// ABOUTME: UDP sender writing each chunk as exactly one datagram
// ABOUTME: Bound to a fixed local port and connected to a single peer
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/queue"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSend wraps socket failures on the sending side
	ErrSend = errors.New("network send failed")
	// ErrReceive wraps socket failures on the receiving side
	ErrReceive = errors.New("network receive failed")
)

// MaxPayload is the largest UDP payload over IPv4
const MaxPayload = 65507

// SenderConfig configures a Sender
type SenderConfig struct {
	// LocalAddr is the local address to bind, e.g. ":3400"
	LocalAddr string
	// PeerAddr is the destination host:port
	PeerAddr string
}

// Sender drains a queue onto a connected UDP socket
type Sender struct {
	conn    *net.UDPConn
	in      *queue.Bounded[audio.Chunk]
	stats   *stats.Stats
	tracker *stage.Tracker
	log     *logrus.Entry
}

// Dial binds cfg.LocalAddr, connects to cfg.PeerAddr and returns a sender
// ready to Run
func Dial(cfg SenderConfig, in *queue.Bounded[audio.Chunk], st *stats.Stats, log *logrus.Entry) (*Sender, error) {
	if st == nil {
		st = stats.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("stage", "sender")

	var local *net.UDPAddr
	if cfg.LocalAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to resolve local address: %v", ErrSend, err)
		}
		local = addr
	}
	peer, err := net.ResolveUDPAddr("udp", cfg.PeerAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve peer address: %v", ErrSend, err)
	}

	conn, err := net.DialUDP("udp", local, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect UDP socket: %v", ErrSend, err)
	}

	s := &Sender{
		conn:    conn,
		in:      in,
		stats:   st,
		tracker: stage.NewTracker("sender", log, st.Observe),
		log:     log,
	}
	s.tracker.Advance(stage.Opened)
	return s, nil
}

// LocalAddr returns the bound local address
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the connected peer
func (s *Sender) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// State returns the stage lifecycle state
func (s *Sender) State() stage.State {
	return s.tracker.State()
}

// Run sends until a write fails, the producer disconnects or ctx ends.
// The socket is closed on return.
func (s *Sender) Run(ctx context.Context) error {
	defer s.in.CloseRecv()
	defer s.conn.Close()

	s.tracker.Advance(stage.Running)

	for {
		chunk, err := s.in.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrDisconnected) {
				return s.tracker.Disconnect("outbound queue disconnected")
			}
			return s.tracker.Fail(err)
		}

		if _, err := s.conn.Write(chunk); err != nil {
			return s.tracker.Fail(fmt.Errorf("%w: %v", ErrSend, err))
		}
		s.stats.DatagramsSent.Add(1)
		s.stats.BytesSent.Add(uint64(len(chunk)))
	}
}
