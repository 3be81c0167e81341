// ABOUTME: Lock-free counters shared by pipeline stages
// ABOUTME: Snapshot feeds the metrics exporter and the status UI
package stats

import (
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
)

// Stats aggregates counters for one pipeline run
type Stats struct {
	ChunksCaptured atomic.Uint64
	FramesCaptured atomic.Uint64
	ChunksPlayed   atomic.Uint64
	FramesPlayed   atomic.Uint64
	Underruns      atomic.Uint64
	SilenceBytes   atomic.Uint64
	DatagramsSent  atomic.Uint64
	BytesSent      atomic.Uint64
	DatagramsRecv  atomic.Uint64
	BytesRecv      atomic.Uint64
	Truncated      atomic.Uint64
	ResidueBytes   atomic.Uint64
	DroppedRunts   atomic.Uint64
	ChunksRelayed  atomic.Uint64
	DeviceXruns    atomic.Uint64
	Transitions    atomic.Uint64

	mu     sync.Mutex
	states map[string]stage.State
}

// New creates empty stats
func New() *Stats {
	return &Stats{states: make(map[string]stage.State)}
}

// Observe records a stage transition; usable as a stage.Tracker observer
func (s *Stats) Observe(name string, _, to stage.State) {
	s.mu.Lock()
	s.states[name] = to
	s.mu.Unlock()
	s.Transitions.Add(1)
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	ChunksCaptured uint64
	FramesCaptured uint64
	ChunksPlayed   uint64
	FramesPlayed   uint64
	Underruns      uint64
	SilenceBytes   uint64
	DatagramsSent  uint64
	BytesSent      uint64
	DatagramsRecv  uint64
	BytesRecv      uint64
	Truncated      uint64
	ResidueBytes   uint64
	DroppedRunts   uint64
	ChunksRelayed  uint64
	DeviceXruns    uint64
	Stages         map[string]stage.State
}

// Snapshot copies the current counters
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		ChunksCaptured: s.ChunksCaptured.Load(),
		FramesCaptured: s.FramesCaptured.Load(),
		ChunksPlayed:   s.ChunksPlayed.Load(),
		FramesPlayed:   s.FramesPlayed.Load(),
		Underruns:      s.Underruns.Load(),
		SilenceBytes:   s.SilenceBytes.Load(),
		DatagramsSent:  s.DatagramsSent.Load(),
		BytesSent:      s.BytesSent.Load(),
		DatagramsRecv:  s.DatagramsRecv.Load(),
		BytesRecv:      s.BytesRecv.Load(),
		Truncated:      s.Truncated.Load(),
		ResidueBytes:   s.ResidueBytes.Load(),
		DroppedRunts:   s.DroppedRunts.Load(),
		ChunksRelayed:  s.ChunksRelayed.Load(),
		DeviceXruns:    s.DeviceXruns.Load(),
		Stages:         make(map[string]stage.State),
	}

	s.mu.Lock()
	for name, st := range s.states {
		snap.Stages[name] = st
	}
	s.mu.Unlock()

	return snap
}
