package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func cleanCmd() *cobra.Command {
	var (
		olderThan string
		force     bool
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete terminal run directories",
		Long: `Remove the on-disk state of completed and failed runs. Non-terminal
runs are never touched, whatever their age. --older-than accepts Nd or
Nh (for example 7d or 36h).`,
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalError(err)
			}

			var minAge time.Duration
			if olderThan != "" {
				minAge, err = parseAge(olderThan)
				if err != nil {
					fatalError(err)
				}
			}

			runs, err := a.store.List()
			if err != nil {
				fatalError(err)
			}

			var doomed []string
			for _, run := range runs {
				if !run.Phase.Terminal() {
					continue
				}
				if run.Age() < minAge {
					continue
				}
				doomed = append(doomed, run.ID)
			}

			if len(doomed) == 0 {
				fmt.Println("Nothing to clean")
				return
			}

			for _, id := range doomed {
				fmt.Printf("  %s\n", id)
			}
			if dryRun {
				fmt.Printf("Would delete %d run(s)\n", len(doomed))
				return
			}
			if !force && !confirm(fmt.Sprintf("Delete %d run(s)?", len(doomed))) {
				fmt.Println("Aborted")
				return
			}

			for _, id := range doomed {
				if err := a.store.Delete(id); err != nil {
					fatalError(err)
				}
			}
			fmt.Printf("Deleted %d run(s)\n", len(doomed))
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "only delete runs older than Nd or Nh")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted")
	return cmd
}

// parseAge understands the Nd / Nh shorthand used by --older-than.
func parseAge(s string) (time.Duration, error) {
	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "h"):
		unit = time.Hour
	default:
		return 0, fmt.Errorf("invalid age %q: want Nd or Nh", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid age %q: want Nd or Nh", s)
	}
	return time.Duration(n) * unit, nil
}
