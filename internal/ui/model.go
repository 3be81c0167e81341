// ABOUTME: Bubbletea model for the pcmlink status screen
// ABOUTME: Shows the session, stage states and pipeline counters
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI state
type Model struct {
	// Session
	mode    string
	addr    string
	format  string
	backend string
	session string

	// Pipeline
	stats    stats.Snapshot
	previous stats.Snapshot
	stages   map[string]stage.State

	// Runtime
	goroutines int
	memAlloc   uint64
	memSys     uint64

	showDebug bool
	control   *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	case StatsMsg:
		m.applyStats(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStages())
	b.WriteString(m.renderCounters())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	mode := m.mode
	if mode == "" {
		mode = "starting"
	}
	return fmt.Sprintf(`┌─ pcmlink ────────────────────────────────────────────┐
│ Mode:    %-43s │
│ Address: %-43s │
│ Format:  %-43s │
│ Backend: %-43s │
├──────────────────────────────────────────────────────┤
`, mode, truncate(m.addr, 43), m.format, m.backend)
}

func (m Model) renderStages() string {
	if len(m.stages) == 0 {
		return "│ No stages running                                    │\n"
	}

	names := make([]string, 0, len(m.stages))
	for name := range m.stages {
		names = append(names, name)
	}
	sort.Strings(names)

	s := ""
	for _, name := range names {
		s += fmt.Sprintf("│ %-16s %-35s │\n", name, stateLabel(m.stages[name]))
	}
	return s
}

func (m Model) renderCounters() string {
	cur, prev := m.stats, m.previous
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Sent:     %10d datagrams  %-20s │
│ Received: %10d datagrams  %-20s │
│ Captured: %10d chunks     Played: %10d   │
│ Underrun: %10d periods    Silence: %9s   │
│ Dropped:  %10d runts      Residue: %9s   │
│ Xruns:    %10d                                 │
`,
		cur.DatagramsSent, delta(cur.DatagramsSent, prev.DatagramsSent),
		cur.DatagramsRecv, delta(cur.DatagramsRecv, prev.DatagramsRecv),
		cur.ChunksCaptured, cur.ChunksPlayed,
		cur.Underruns, formatBytes(cur.SilenceBytes),
		cur.DroppedRunts, formatBytes(cur.ResidueBytes),
		cur.DeviceXruns)
}

// delta formats the change since the previous snapshot
func delta(cur, prev uint64) string {
	return fmt.Sprintf("(+%d)", cur-prev)
}

func (m Model) renderHelp() string {
	return `│ d:Debug  q:Quit                                      │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Session:    %-38s │
│   Goroutines: %-38d │
│   Memory:     %-38s │
│   Truncated:  %-38d │
`, truncate(m.session, 38), m.goroutines,
		fmt.Sprintf("%s alloc / %s sys", formatBytes(m.memAlloc), formatBytes(m.memSys)),
		m.stats.Truncated)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			m.control.requestQuit()
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates the session description
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Mode != "" {
		m.mode = msg.Mode
	}
	if msg.Addr != "" {
		m.addr = msg.Addr
	}
	if msg.Format != "" {
		m.format = msg.Format
	}
	if msg.Backend != "" {
		m.backend = msg.Backend
	}
	if msg.Session != "" {
		m.session = msg.Session
	}
}

// applyStats replaces the counters, keeping the last ones for deltas
func (m *Model) applyStats(msg StatsMsg) {
	m.previous = m.stats
	m.stats = msg.Snapshot
	m.stages = msg.Snapshot.Stages
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
		m.memSys = msg.MemSys
	}
}

// StatusMsg describes the running session
type StatusMsg struct {
	Mode    string
	Addr    string
	Format  string
	Backend string
	Session string
}

// StatsMsg carries a pipeline snapshot and runtime figures
type StatsMsg struct {
	Snapshot   stats.Snapshot
	Goroutines int
	MemAlloc   uint64
	MemSys     uint64
}

func stateLabel(s stage.State) string {
	switch s {
	case stage.Running:
		return "● " + s.String()
	case stage.Stopped:
		return "✗ " + s.String()
	case stage.Terminated:
		return "○ " + s.String()
	default:
		return "… " + s.String()
	}
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
