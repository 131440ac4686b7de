package watch

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tracekit/heaptrace/accum"
)

type stubSource struct{ data *accum.Dataset }

func (s stubSource) Snapshot() *accum.Dataset { return s.data }

func loadFixture(t *testing.T) *accum.Dataset {
	t.Helper()
	lines := []string{
		"s alloc_buf",
		"s buf.go",
		"i 1 1000 0 0 1 2",
		"t 1 0 0",
		"+ 128 1 1000",
	}
	r := accum.NewReader(accum.DefaultConfig(), accum.NoManagedRuntime())
	d, err := r.Load(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestViewShowsWaitingBeforeFirstSnapshot(t *testing.T) {
	m := New(stubSource{}, time.Second)
	if !strings.Contains(m.View(), "waiting") {
		t.Errorf("View() = %q, want a waiting placeholder before any data arrives", m.View())
	}
}

func TestSnapshotMsgPopulatesView(t *testing.T) {
	d := loadFixture(t)
	m := New(stubSource{data: d}, time.Second)
	updated, _ := m.Update(snapshotMsg{data: d})
	m = updated.(Model)
	view := m.View()
	if !strings.Contains(view, "alloc_buf") {
		t.Errorf("View() = %q, want it to list the allocator function", view)
	}
}

func TestPausedModelIgnoresSnapshot(t *testing.T) {
	m := New(stubSource{}, time.Second)
	m.paused = true
	updated, cmd := m.Update(snapshotMsg{data: loadFixture(t)})
	m = updated.(Model)
	if m.data != nil {
		t.Error("paused model should not adopt a new snapshot")
	}
	if cmd != nil {
		t.Error("paused model should not schedule a command from a snapshot message")
	}
}

func TestQuitKeyReturnsQuitCommand(t *testing.T) {
	m := New(stubSource{}, time.Second)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command for 'q'")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("cmd() = %T, want tea.QuitMsg", cmd())
	}
}
