// Package tui provides the Bubble Tea interactive views: the mission kanban
// board and the live run monitor.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mthorpe/conveyor/internal/mission"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(24)

	columnTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252"))

	cardStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(1, 1)
)

var columnTitles = map[mission.TaskState]string{
	mission.TaskBlocked:      "Blocked",
	mission.TaskReady:        "Ready",
	mission.TaskInProgress:   "In Progress",
	mission.TaskWaitingHuman: "Waiting Human",
	mission.TaskDone:         "Done",
	mission.TaskFailed:       "Failed",
}

// BoardModel renders a mission as a kanban board.
type BoardModel struct {
	mission *mission.Mission
	width   int
}

// NewBoard creates the board model.
func NewBoard(m *mission.Mission) BoardModel {
	return BoardModel{mission: m}
}

// Init implements tea.Model.
func (m BoardModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m BoardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Mission: "+m.mission.Objective) + "\n\n")

	board := m.mission.Board()
	var cols []string
	for _, state := range mission.Columns {
		tasks := board[state]
		var body strings.Builder
		body.WriteString(columnTitleStyle.Render(fmt.Sprintf("%s (%d)", columnTitles[state], len(tasks))))
		body.WriteString("\n")
		if len(tasks) == 0 {
			body.WriteString(dimStyle.Render("—"))
		}
		for _, t := range tasks {
			body.WriteString("\n" + cardStyle.Render(truncate(t.Title, 20)))
			if t.RunID != "" {
				body.WriteString("\n" + dimStyle.Render("  run "+truncate(t.RunID, 16)))
			}
		}
		cols = append(cols, columnStyle.Render(body.String()))
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	b.WriteString("\n" + helpStyle.Render("q: quit"))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
