// Package main provides the conveyor CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Durable four-stage agent pipeline orchestrator",
		Long: `Conveyor drives a refine → build → verify → gate pipeline executed by
independent worker processes, persisting all progress to disk so a crash,
restart, or human-approval pause never loses work.

Use 'conveyor run start' to launch a pipeline, 'conveyor recover' after an
interruption, and 'conveyor board' for the mission kanban view.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", ".", "project directory")

	rootCmd.AddCommand(
		runCmd(),
		recoverCmd(),
		cleanCmd(),
		consultCmd(),
		failCmd(),
		missionCmd(),
		boardCmd(),
		watchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the conveyor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conveyor %s\n", version)
		},
	}
}
