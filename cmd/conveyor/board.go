package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/mission"
	"github.com/mthorpe/conveyor/internal/tui"
)

func boardCmd() *cobra.Command {
	var missionID string

	cmd := &cobra.Command{
		Use:   "board",
		Short: "Interactive kanban view of a mission",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			board, err := mission.OpenBoard(a.cfg.MissionDBPath())
			if err != nil {
				fatalError(err)
			}
			defer board.Close()

			var m *mission.Mission
			if missionID != "" {
				m, err = board.GetMission(missionID)
			} else {
				m, err = board.LatestMission()
			}
			if err != nil {
				fatalError(err)
			}
			if m == nil {
				fatalError(fmt.Errorf("no missions; create one with 'conveyor mission create'"))
			}

			p := tea.NewProgram(tui.NewBoard(m), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				fatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&missionID, "mission", "", "mission id (default: latest)")
	return cmd
}
