// ABOUTME: TUI initialization and the stats feed
// ABOUTME: Wraps the bubbletea program and polls pipeline counters into it
package ui

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	tea "github.com/charmbracelet/bubbletea"
)

// Control lets the caller learn that the user asked to quit
type Control struct {
	Quit chan struct{}
	once sync.Once
}

// NewControl creates a control handle
func NewControl() *Control {
	return &Control{Quit: make(chan struct{})}
}

func (c *Control) requestQuit() {
	c.once.Do(func() { close(c.Quit) })
}

// NewModel creates a new TUI model
func NewModel(control *Control) Model {
	return Model{control: control}
}

// Run creates the program; the caller starts it with p.Run
func Run(control *Control) *tea.Program {
	return tea.NewProgram(NewModel(control), tea.WithAltScreen())
}

// Feed sends a StatsMsg for st every interval until ctx ends. Runtime
// figures are refreshed less often because reading them stops the world.
func Feed(ctx context.Context, send func(tea.Msg), st *stats.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runtimeTicker := time.NewTicker(4 * interval)
	defer runtimeTicker.Stop()

	var goroutines int
	var memAlloc, memSys uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			goroutines = runtime.NumGoroutine()
			memAlloc = m.Alloc
			memSys = m.Sys
		case <-ticker.C:
			send(StatsMsg{
				Snapshot:   st.Snapshot(),
				Goroutines: goroutines,
				MemAlloc:   memAlloc,
				MemSys:     memSys,
			})
		}
	}
}
