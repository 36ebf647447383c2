package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/runstore"
	"github.com/mthorpe/conveyor/internal/watch"
)

var (
	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

const maxEventLines = 12

type tickMsg time.Time

// WatchModel is the live view over one run: phase, worker slots, and the
// typed events observed in its directory.
type WatchModel struct {
	store   *runstore.Store
	watcher *watch.Watcher
	runID   string

	run     *domain.Run
	events  []watch.Event
	spin    spinner.Model
	stale   bool
	quitMsg string
}

// NewWatch creates the run monitor model.
func NewWatch(store *runstore.Store, runID string) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return WatchModel{
		store:   store,
		watcher: watch.New(runID, store.RunDir(runID), 0),
		runID:   runID,
		spin:    sp,
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		run, ok := m.store.Load(m.runID)
		m.stale = !ok
		if ok {
			m.run = run
		}
		m.events = append(m.events, m.watcher.Scan()...)
		if len(m.events) > maxEventLines {
			m.events = m.events[len(m.events)-maxEventLines:]
		}
		return m, tick()
	default:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Run "+m.runID) + "\n\n")

	if m.run == nil {
		if m.stale {
			b.WriteString(failStyle.Render("run state not readable") + "\n")
		} else {
			b.WriteString(m.spin.View() + " loading…\n")
		}
		return b.String()
	}

	b.WriteString("  Phase: " + renderPhase(m.run.Phase))
	b.WriteString(fmt.Sprintf("   Iteration %d/%d\n", m.run.Iteration, m.run.MaxIterations))
	if m.run.PendingConsultationID != "" {
		b.WriteString("  " + pausedStyle.Render("awaiting decision "+m.run.PendingConsultationID) + "\n")
	}
	b.WriteString("\n")

	for _, name := range domain.Workers {
		slot := m.run.Worker(name)
		marker := "  "
		if active, ok := m.run.ActiveWorker(); ok && active == name {
			marker = m.spin.View()
		}
		b.WriteString(fmt.Sprintf("  %s %-11s %s\n", marker, string(name), string(slot.Status)))
	}

	if len(m.events) > 0 {
		b.WriteString("\n  Recent events:\n")
		for _, e := range m.events {
			b.WriteString(eventStyle.Render(fmt.Sprintf("    %s %s",
				e.At.Format("15:04:05"), string(e.Type))) + "\n")
		}
	}

	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func renderPhase(p domain.Phase) string {
	switch p {
	case domain.PhaseFailed:
		return failStyle.Render(string(p))
	case domain.PhaseWaitingHuman:
		return pausedStyle.Render(string(p))
	default:
		return phaseStyle.Render(string(p))
	}
}
