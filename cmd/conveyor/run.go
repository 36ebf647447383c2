// Package main pipeline run commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/coordinator"
	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/logging"
	"github.com/mthorpe/conveyor/internal/render"
	"github.com/mthorpe/conveyor/internal/watch"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect pipeline runs",
	}

	var maxIterations int
	startCmd := &cobra.Command{
		Use:   "start <objective>",
		Short: "Create a run and supervise it to completion",
		Long: `Create a new pipeline run for the objective, start the refiner, and
supervise the run until it reaches ready_for_merge, completed, or failed.
The process can be interrupted at any point; 'conveyor recover' picks the
run back up.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}

			run := domain.NewRun(args[0], maxIterations)
			if maxIterations <= 0 {
				run.MaxIterations = a.cfg.MaxIterations
			}
			if err := a.store.Create(run); err != nil {
				fatalError(err)
			}
			fmt.Printf("Created run %s\n", run.ID)

			ctx := cmd.Context()
			if err := a.coord.StartWorker(ctx, run.ID, domain.WorkerRefiner); err != nil {
				fatalError(err)
			}

			final, err := superviseRun(ctx, a, run.ID)
			if err != nil && ctx.Err() == nil {
				fatalError(err)
			}
			fmt.Printf("Run %s finished in phase %s\n", run.ID, final)
			if final == domain.PhaseFailed {
				os.Exit(1)
			}
		},
	}
	startCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "rework iteration cap (default from config)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all persisted runs",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			runs, err := a.store.List()
			if err != nil {
				fatalError(err)
			}
			render.Stdout().Runs(runs)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one run's full state",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			run, ok := a.store.Load(args[0])
			if !ok {
				fatalError(fmt.Errorf("run not found: %s", args[0]))
			}
			render.Stdout().RunDetail(run)
		},
	}

	interruptedCmd := &cobra.Command{
		Use:   "interrupted",
		Short: "List interrupted runs",
		Long:  "Exits 0 with a table when interrupted runs exist, 1 with a message otherwise.",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			cands, err := a.recovery.DetectInterruptedRuns()
			if err != nil {
				fatalError(err)
			}
			if len(cands) == 0 {
				fmt.Println("No interrupted runs found")
				os.Exit(1)
			}
			render.Stdout().Candidates(cands)
		},
	}

	completeCmd := &cobra.Command{
		Use:   "complete <run-id>",
		Short: "Mark a ready_for_merge run as completed",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			ok, err := a.phases.Transition(args[0], domain.PhaseCompleted)
			if err != nil {
				fatalError(err)
			}
			if !ok {
				fatalError(fmt.Errorf("run %s is not ready for merge", args[0]))
			}
			fmt.Printf("Run %s completed\n", args[0])
		},
	}

	cmd.AddCommand(startCmd, listCmd, statusCmd, interruptedCmd, completeCmd)
	return cmd
}

// superviseRun drives a run's event loop until it reaches a resting phase.
func superviseRun(ctx context.Context, a *app, runID string) (domain.Phase, error) {
	stop := events.LogAll(a.bus, logging.New("events"))
	defer stop()
	watcher := watch.New(runID, a.store.RunDir(runID), a.cfg.PollInterval)
	sup := coordinator.NewSupervisor(a.coord, watcher, a.retries)
	return sup.Run(ctx, runID)
}
