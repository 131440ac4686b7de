// Package watch implements a live console for `heaptrace track`,
// showing running allocation totals as the tracker streams events,
// narrowed from the original's Qt GUI to the aggregate statistics a
// terminal session can usefully show live, per SPEC_FULL's "not a
// GUI" boundary.
package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/views"
)

var (
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorGray    = lipgloss.Color("#6272A4")
	colorWhite   = lipgloss.Color("#F8F8F2")
	colorOrange  = lipgloss.Color("#FFB86C")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle = lipgloss.NewStyle().Foreground(colorWhite)
	warnStyle  = lipgloss.NewStyle().Foreground(colorOrange).Bold(true)
)

// Snapshotter is anything that can hand back the accumulator's current
// view of a still-running trace. The tracker side owns accumulation;
// this package only ever reads a finished snapshot, mirroring how the
// original's GUI polled its analyzer thread's latest completed pass
// rather than touching its data structures directly.
type Snapshotter interface {
	Snapshot() *accum.Dataset
}

type tickMsg time.Time

type snapshotMsg struct {
	data *accum.Dataset
}

// Model is the bubbletea model driving the live console, the same
// tick-then-collect structure as xtop's ui.Model scaled down to one
// page with no navigation.
type Model struct {
	source   Snapshotter
	interval time.Duration
	width    int
	height   int
	data     *accum.Dataset
	topN     int
	paused   bool
}

// New returns a Model polling source every interval.
func New(source Snapshotter, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{source: source, interval: interval, topN: 10}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), snapshotOnce(m.source))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func snapshotOnce(source Snapshotter) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{data: source.Snapshot()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
			if !m.paused {
				return m, tea.Batch(tick(m.interval), snapshotOnce(m.source))
			}
		}
	case tickMsg:
		if m.paused {
			return m, nil
		}
		return m, tea.Batch(tick(m.interval), snapshotOnce(m.source))
	case snapshotMsg:
		if !m.paused {
			m.data = msg.data
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.data == nil {
		return "waiting for first sample...\n"
	}
	var out string
	out += titleStyle.Render("heaptrace — live") + "\n\n"
	for k := model.CostMalloc; int(k) < len(m.data.Total); k++ {
		st := m.data.Total.Get(k)
		if st.Allocations == 0 && st.Peak == 0 {
			continue
		}
		line := fmt.Sprintf("%-14s %s allocs  %s leaked  %s peak",
			k.String(), valueStyle.Render(fmt.Sprint(st.Allocations)),
			valueStyle.Render(humanizeBytes(st.Leaked)), valueStyle.Render(humanizeBytes(st.Peak)))
		out += labelStyle.Render(line) + "\n"
	}

	out += "\n" + titleStyle.Render(fmt.Sprintf("top %d allocators", m.topN)) + "\n"
	for i, e := range views.TopCost(m.data, model.CostMalloc, m.topN) {
		fn := e.Location.Function
		if fn == "" {
			fn = "??"
		}
		out += fmt.Sprintf("%2d. %-40s %s\n", i+1, fn, humanizeBytes(e.Stats.Peak))
	}

	if leaked := len(m.data.LeakedAllocations); leaked > 0 {
		out += "\n" + warnStyle.Render(fmt.Sprintf("%d allocation(s) currently leaked", leaked)) + "\n"
	}

	out += "\n" + labelStyle.Render("q quit  ·  space pause") + "\n"
	return out
}

func humanizeBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(source Snapshotter, interval time.Duration) error {
	p := tea.NewProgram(New(source, interval))
	_, err := p.Run()
	return err
}
