package render

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/recovery"
)

// PhaseIcon returns a colored marker for a run phase.
func PhaseIcon(p domain.Phase) string {
	switch p {
	case domain.PhaseCompleted:
		return color.GreenString("✓")
	case domain.PhaseFailed:
		return color.RedString("✗")
	case domain.PhaseWaitingHuman:
		return color.YellowString("?")
	case domain.PhaseReadyForMerge:
		return color.CyanString("▸")
	default:
		return color.HiBlackString("•")
	}
}

// Runs renders a run summary table.
func (w *Writer) Runs(runs []*domain.Run) {
	if len(runs) == 0 {
		w.Empty("No runs found")
		return
	}

	w.Header("RUNS (%d)", len(runs))
	w.Println("%-28s %-16s %-5s %-10s %s", "ID", "PHASE", "ITER", "AGE", "OBJECTIVE")
	for _, r := range runs {
		w.Println("%s %-26s %-16s %d/%-3d %-10s %s",
			PhaseIcon(r.Phase),
			r.ID,
			string(r.Phase),
			r.Iteration, r.MaxIterations,
			FormatAge(r.Age()),
			Truncate(r.Objective, 40),
		)
	}
}

// RunDetail renders one run's full state.
func (w *Writer) RunDetail(run *domain.Run) {
	w.Header("RUN %s", run.ID)
	w.Item("Phase:      %s %s", PhaseIcon(run.Phase), string(run.Phase))
	w.Item("Iteration:  %d/%d", run.Iteration, run.MaxIterations)
	w.Item("Created:    %s", run.CreatedAt.Format(time.RFC3339))
	if run.Objective != "" {
		w.Item("Objective:  %s", run.Objective)
	}
	if run.PendingConsultationID != "" {
		w.Item("Pending consultation: %s", color.YellowString(run.PendingConsultationID))
	}

	w.Section("workers")
	for _, name := range domain.Workers {
		slot := run.Worker(name)
		line := fmt.Sprintf("%-11s %s", string(name), statusColored(slot.Status))
		if slot.StartedAt != nil {
			line += "  started " + slot.StartedAt.Format("15:04:05")
		}
		if slot.CompletedAt != nil {
			line += "  finished " + slot.CompletedAt.Format("15:04:05")
		}
		w.Item("%s", line)
		if slot.LastError != "" {
			w.Nested("%s", Truncate(slot.LastError, 70))
		}
	}

	if len(run.History) > 0 {
		w.Section("history")
		for _, h := range run.History {
			w.Item("[%s] %s → %s", h.Timestamp.Format("15:04:05"), string(h.Phase), h.Result)
		}
	}

	if len(run.Errors) > 0 {
		w.Section("errors")
		for _, e := range run.Errors {
			w.Item("%s [%s] %s", color.RedString("✗"), string(e.Classification), Truncate(e.Message, 70))
		}
	}
}

// Candidates renders the interrupted-run table.
func (w *Writer) Candidates(cands []recovery.Candidate) {
	w.Header("INTERRUPTED RUNS (%d)", len(cands))
	w.Println("%-28s %-14s %-14s %-10s %-8s %s", "ID", "PHASE", "STRATEGY", "AGE", "RESUME", "SESSION")
	for _, c := range cands {
		session := color.HiBlackString("dead")
		if c.SessionAlive {
			session = color.GreenString("alive")
		}
		resume := color.GreenString("yes")
		if !c.CanResume {
			resume = color.RedString("no")
		}
		w.Println("%-28s %-14s %-14s %-10s %-8s %s",
			c.RunID, string(c.Phase), string(c.Strategy), FormatAge(c.Age), resume, session)
	}
}

func statusColored(s domain.WorkerStatus) string {
	switch s {
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusFailed, domain.StatusTimeout:
		return color.RedString(string(s))
	case domain.StatusRunning, domain.StatusCompleting:
		return color.CyanString(string(s))
	case domain.StatusWaitingHuman:
		return color.YellowString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

// FormatAge renders a duration in coarse human units.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
