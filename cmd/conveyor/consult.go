package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/render"
)

func consultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consult",
		Short: "List and answer worker consultation requests",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show unresolved consultation requests across all runs",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			runs, err := a.store.List()
			if err != nil {
				fatalError(err)
			}

			w := render.Stdout()
			found := 0
			for _, run := range runs {
				if run.Phase.Terminal() {
					continue
				}
				open, err := a.store.UnresolvedConsultations(run.ID)
				if err != nil {
					fatalError(err)
				}
				for _, req := range open {
					found++
					w.Header("%s  run %s  (%s)", req.ID, req.RunID, req.Worker)
					w.Item("%s", req.Question)
					for i, opt := range req.Options {
						w.Nested("%d. %s", i+1, opt)
					}
					w.Line()
				}
			}
			if found == 0 {
				w.Empty("No open consultations")
				os.Exit(1)
			}
		},
	}

	var rationale string
	answerCmd := &cobra.Command{
		Use:   "answer <run-id> <crp-id> <option>",
		Short: "Record a decision and resume the run",
		Long: `Write a decision for the consultation request and, once no requests
remain unanswered, transition the run out of waiting_human and restart
the appropriate worker. Runs resume in refine when the refiner asked,
build otherwise.`,
		Args: cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}
			runID, crpID, option := args[0], args[1], args[2]

			reqs, err := a.store.ListConsultations(runID)
			if err != nil {
				fatalError(err)
			}
			var target *domain.ConsultationRequest
			for _, req := range reqs {
				if req.ID == crpID || strings.HasPrefix(req.ID, crpID) {
					target = req
					break
				}
			}
			if target == nil {
				fatalError(fmt.Errorf("consultation %s not found in run %s", crpID, runID))
			}

			dec := domain.NewHumanDecision(target.ID, option, rationale)
			if err := a.store.SaveDecision(runID, dec); err != nil {
				fatalError(err)
			}
			fmt.Printf("Recorded decision %s for %s\n", dec.ID, target.ID)

			open, err := a.store.UnresolvedConsultations(runID)
			if err != nil {
				fatalError(err)
			}
			if len(open) > 0 {
				fmt.Printf("%d consultation(s) still open; run stays parked\n", len(open))
				return
			}

			ctx := cmd.Context()
			if err := a.coord.ResumeAfterDecision(ctx, runID); err != nil {
				fatalError(err)
			}
			fmt.Printf("Run %s resumed\n", runID)

			final, err := superviseRun(ctx, a, runID)
			if err != nil && ctx.Err() == nil {
				fatalError(err)
			}
			fmt.Printf("Run %s finished in phase %s\n", runID, final)
		},
	}
	answerCmd.Flags().StringVar(&rationale, "rationale", "", "why this option was chosen")

	cmd.AddCommand(listCmd, answerCmd)
	return cmd
}
