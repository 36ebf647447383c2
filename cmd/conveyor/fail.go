package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func failCmd() *cobra.Command {
	var (
		reason string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "fail <run-id>",
		Short: "Force a stuck run into the failed phase",
		Long: `Operator escape hatch: move the run to failed regardless of its current
phase and record the reason in the run's error log. The run's worker
sessions are stopped first.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			runID := args[0]

			run, ok := a.store.Load(runID)
			if !ok {
				fatalError(fmt.Errorf("run not found: %s", runID))
			}
			if run.Phase.Terminal() {
				fatalError(fmt.Errorf("run %s is already terminal (%s)", runID, run.Phase))
			}
			if !force && !confirm(fmt.Sprintf("Mark run %s (%s) as failed?", runID, run.Phase)) {
				fmt.Println("Aborted")
				return
			}

			for name := range run.Workers {
				// Best effort; a dead session is fine.
				_ = a.host.Stop(runID, name)
			}
			if err := a.recovery.MarkAsFailed(runID, reason); err != nil {
				fatalError(err)
			}
			fmt.Printf("Run %s marked as failed\n", runID)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator intervention", "reason recorded on the run")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}
