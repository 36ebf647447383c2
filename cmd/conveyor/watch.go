package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/tui"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Live terminal view of one run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			if _, ok := a.store.Load(args[0]); !ok {
				fatalError(fmt.Errorf("run not found: %s", args[0]))
			}

			p := tea.NewProgram(tui.NewWatch(a.store, args[0]), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				fatalError(err)
			}
		},
	}
}
