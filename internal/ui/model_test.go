// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status and stats updates, key handling and rendering
package ui

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	tea "github.com/charmbracelet/bubbletea"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil) // Control is optional for testing

	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}

	if len(model.stages) != 0 {
		t.Errorf("expected no stages initially, got %d", len(model.stages))
	}

	if model.View() != "Loading..." {
		t.Errorf("expected loading view before the first resize, got %q", model.View())
	}
}

func TestStatusMsg(t *testing.T) {
	model := NewModel(nil)

	model.applyStatus(StatusMsg{
		Mode:    "streaming",
		Addr:    "192.168.1.20:6969",
		Format:  "44100Hz/2ch/16-bit",
		Backend: "malgo",
		Session: "abc",
	})

	if model.mode != "streaming" {
		t.Errorf("expected mode 'streaming', got '%s'", model.mode)
	}

	if model.addr != "192.168.1.20:6969" {
		t.Errorf("expected addr '192.168.1.20:6969', got '%s'", model.addr)
	}

	// Empty fields leave earlier values alone
	model.applyStatus(StatusMsg{Backend: "virtual"})

	if model.mode != "streaming" {
		t.Errorf("expected mode to survive a partial update, got '%s'", model.mode)
	}

	if model.backend != "virtual" {
		t.Errorf("expected backend 'virtual', got '%s'", model.backend)
	}
}

func TestStatsMsgKeepsPrevious(t *testing.T) {
	model := NewModel(nil)

	model.applyStats(StatsMsg{Snapshot: stats.Snapshot{DatagramsSent: 10}})
	model.applyStats(StatsMsg{Snapshot: stats.Snapshot{
		DatagramsSent: 25,
		Stages:        map[string]stage.State{"sender": stage.Running},
	}})

	if model.previous.DatagramsSent != 10 {
		t.Errorf("expected previous 10, got %d", model.previous.DatagramsSent)
	}

	if model.stats.DatagramsSent != 25 {
		t.Errorf("expected current 25, got %d", model.stats.DatagramsSent)
	}

	if model.stages["sender"] != stage.Running {
		t.Errorf("expected sender running, got %v", model.stages["sender"])
	}
}

func TestWindowSizeMsg(t *testing.T) {
	model := NewModel(nil)

	updated, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m := updated.(Model)

	if m.width != 80 || m.height != 24 {
		t.Errorf("expected 80x24, got %dx%d", m.width, m.height)
	}
}

func TestDebugToggle(t *testing.T) {
	model := NewModel(nil)

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	m := updated.(Model)
	if !m.showDebug {
		t.Error("expected debug on after 'd'")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	m = updated.(Model)
	if m.showDebug {
		t.Error("expected debug off after second 'd'")
	}
}

func TestQuitKey(t *testing.T) {
	control := NewControl()
	model := NewModel(control)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}

	select {
	case <-control.Quit:
	default:
		t.Error("expected quit to be signalled on the control")
	}

	// A second quit must not panic on the closed channel
	model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
}

func TestViewRendersStages(t *testing.T) {
	model := NewModel(nil)
	model.width = 80
	model.applyStatus(StatusMsg{Mode: "listening", Addr: ":6969"})
	model.applyStats(StatsMsg{Snapshot: stats.Snapshot{
		DatagramsRecv: 42,
		Stages: map[string]stage.State{
			"receiver": stage.Running,
			"playback": stage.Stopped,
		},
	}})

	view := model.View()
	for _, want := range []string{"listening", ":6969", "receiver", "playback", "stopped", "42"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}

	if strings.Index(view, "playback") > strings.Index(view, "receiver") {
		t.Error("expected stages sorted by name")
	}
}

func TestViewRowsKeepBoxWidth(t *testing.T) {
	model := NewModel(nil)
	model.width = 80
	model.showDebug = true
	model.applyStatus(StatusMsg{Mode: "streaming", Addr: "10.0.0.2:6969", Format: "44100Hz/2ch/16-bit", Backend: "malgo", Session: "abc"})
	model.applyStats(StatsMsg{Snapshot: stats.Snapshot{DatagramsSent: 7}})
	model.applyStats(StatsMsg{Snapshot: stats.Snapshot{
		DatagramsSent:  1234567890,
		DatagramsRecv:  5,
		ChunksCaptured: 99,
		Stages:         map[string]stage.State{"capture": stage.Running},
	}, Goroutines: 12})

	view := model.View()
	if !strings.Contains(view, "(+1234567883)") {
		t.Errorf("expected sent delta in view:\n%s", view)
	}

	lines := strings.Split(strings.TrimSuffix(view, "\n"), "\n")
	want := utf8.RuneCountInString(lines[0])
	for i, line := range lines {
		if got := utf8.RuneCountInString(line); got != want {
			t.Errorf("line %d is %d columns, want %d: %q", i, got, want, line)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{2048, "2.0KiB"},
		{3 << 20, "3.0MiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFeed(t *testing.T) {
	st := stats.New()
	st.ChunksPlayed.Add(3)

	msgs := make(chan tea.Msg, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Feed(ctx, func(msg tea.Msg) { msgs <- msg }, st, 5*time.Millisecond)
		close(done)
	}()

	select {
	case msg := <-msgs:
		sm, ok := msg.(StatsMsg)
		if !ok {
			t.Fatalf("expected StatsMsg, got %T", msg)
		}
		if sm.Snapshot.ChunksPlayed != 3 {
			t.Errorf("expected 3 chunks played, got %d", sm.Snapshot.ChunksPlayed)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats message received")
	}

	cancel()
	<-done
}
