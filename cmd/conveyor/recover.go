package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/recovery"
	"github.com/mthorpe/conveyor/internal/render"
)

func recoverCmd() *cobra.Command {
	var (
		listOnly bool
		auto     bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "recover [run-id]",
		Short: "Resume runs interrupted by a crash or restart",
		Long: `Scan persisted runs for ones whose orchestrator died mid-phase. Each
candidate is classified: restart_agent relaunches the stalled worker,
wait_human leaves the run parked on its consultation, manual refuses to
guess. With a run id, recover that run; with --auto, recover every
candidate that can be resumed without asking.`,
		Args: cobra.MaximumNArgs(1),
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
				return
			}

			if listOnly || (len(args) == 0 && !auto) {
				render.Stdout().Candidates(cands)
				if listOnly {
					return
				}
				fmt.Println("\nRe-run with a run id or --auto to resume.")
				return
			}

			if len(args) == 1 {
				c := findCandidate(cands, args[0])
				if c == nil {
					fatalError(fmt.Errorf("run %s is not an interrupted run", args[0]))
				}
				if err := recoverOne(cmd, a, *c, force); err != nil {
					fatalError(err)
				}
				return
			}

			// --auto: every resumable candidate, skipping the rest.
			failed := 0
			for _, c := range cands {
				if !c.CanResume {
					fmt.Printf("Skipping %s (%s)\n", c.RunID, c.Strategy)
					continue
				}
				if err := recoverOne(cmd, a, c, true); err != nil {
					fmt.Fprintf(os.Stderr, "Error recovering %s: %v\n", c.RunID, err)
					failed++
				}
			}
			if failed > 0 {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVar(&listOnly, "list", false, "list candidates without recovering")
	cmd.Flags().BoolVar(&auto, "auto", false, "recover every resumable run without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}

func findCandidate(cands []recovery.Candidate, runID string) *recovery.Candidate {
	for i := range cands {
		if cands[i].RunID == runID {
			return &cands[i]
		}
	}
	return nil
}

func recoverOne(cmd *cobra.Command, a *app, c recovery.Candidate, force bool) error {
	if !force && !confirm(fmt.Sprintf("Recover run %s (%s, strategy %s)?", c.RunID, c.Phase, c.Strategy)) {
		fmt.Println("Aborted")
		return nil
	}

	prepared, err := a.recovery.PrepareRecovery(c.RunID)
	if err != nil {
		return err
	}

	switch prepared.Strategy {
	case recovery.StrategyWaitHuman:
		fmt.Printf("Run %s is waiting on a consultation; answer it with 'conveyor consult'\n", c.RunID)
		return nil
	case recovery.StrategyRestartAgent:
		ctx := cmd.Context()
		if err := a.coord.StartWorker(ctx, c.RunID, prepared.Worker); err != nil {
			return err
		}
		fmt.Printf("Restarted %s for run %s\n", prepared.Worker, c.RunID)
		final, err := superviseRun(ctx, a, c.RunID)
		if err != nil && ctx.Err() == nil {
			return err
		}
		fmt.Printf("Run %s finished in phase %s\n", c.RunID, final)
		return nil
	default:
		return fmt.Errorf("run %s requires manual intervention", c.RunID)
	}
}
