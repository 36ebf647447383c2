package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/mission"
	"github.com/mthorpe/conveyor/internal/render"
)

func missionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Manage mission task graphs",
		Long: `A mission breaks a large objective into tasks with dependencies; each
task eventually becomes one pipeline run. 'conveyor board' renders the
kanban view over the latest mission.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <objective>",
		Short: "Create a new mission",
		Args:  cobra.ExactArgs(1),
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

			m := mission.NewMission(args[0])
			if err := board.SaveMission(m); err != nil {
				fatalError(err)
			}
			fmt.Printf("Created mission %s\n", m.ID)
		},
	}

	var dependsOn []string
	addTaskCmd := &cobra.Command{
		Use:   "add-task <mission-id> <title>",
		Short: "Add a task to a mission",
		Args:  cobra.ExactArgs(2),
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

			m, err := board.GetMission(args[0])
			if err != nil {
				fatalError(err)
			}
			t, err := m.AddTask(args[1], dependsOn...)
			if err != nil {
				fatalError(err)
			}
			if err := m.Validate(); err != nil {
				fatalError(err)
			}
			if err := board.SaveMission(m); err != nil {
				fatalError(err)
			}
			fmt.Printf("Added task %s (%s)\n", t.ID, t.State)
		},
	}
	addTaskCmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "task ids this task depends on")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
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

			missions, err := board.ListMissions(20)
			if err != nil {
				fatalError(err)
			}
			w := render.Stdout()
			if len(missions) == 0 {
				w.Empty("No missions")
				return
			}
			for _, m := range missions {
				done := 0
				for _, t := range m.Tasks {
					if t.State == mission.TaskDone {
						done++
					}
				}
				w.Println("%s  %s  (%d/%d tasks done)",
					m.ID, render.Truncate(m.Objective, 60), done, len(m.Tasks))
			}
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission's task graph",
		Args:  cobra.ExactArgs(1),
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

			m, err := board.GetMission(args[0])
			if err != nil {
				fatalError(err)
			}
			w := render.Stdout()
			w.Header("Mission %s", m.ID)
			w.Item("Objective: %s", m.Objective)
			w.Section("Tasks")
			for _, t := range m.Tasks {
				w.Item("[%s] %s  %s", t.State, t.ID, t.Title)
				if len(t.DependsOn) > 0 {
					w.Nested("depends on: %s", strings.Join(t.DependsOn, ", "))
				}
				if t.RunID != "" {
					w.Nested("run: %s", t.RunID)
				}
			}
		},
	}

	cmd.AddCommand(createCmd, addTaskCmd, listCmd, showCmd)
	return cmd
}
