// Package phase implements the run state machine: which phase changes are
// legal, which worker owns each phase, and how a gate verdict resolves into
// the next phase.
package phase

import (
	"fmt"
	"time"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/logging"
	"github.com/mthorpe/conveyor/internal/runstore"
)

// allowedEdges is the complete transition table. Any (from, to) pair not
// listed here is rejected.
var allowedEdges = map[domain.Phase][]domain.Phase{
	domain.PhaseRefine:        {domain.PhaseBuild, domain.PhaseWaitingHuman},
	domain.PhaseBuild:         {domain.PhaseVerify},
	domain.PhaseVerify:        {domain.PhaseGate},
	domain.PhaseGate:          {domain.PhaseReadyForMerge, domain.PhaseBuild, domain.PhaseFailed},
	domain.PhaseWaitingHuman:  {domain.PhaseRefine, domain.PhaseBuild},
	domain.PhaseReadyForMerge: {domain.PhaseCompleted},
	domain.PhaseCompleted:     {},
	domain.PhaseFailed:        {},
}

// Allowed reports whether from→to is a legal transition.
func Allowed(from, to domain.Phase) bool {
	for _, t := range allowedEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Edges returns a copy of the transition table. Callers may mutate the
// result freely.
func Edges() map[domain.Phase][]domain.Phase {
	out := make(map[domain.Phase][]domain.Phase, len(allowedEdges))
	for from, tos := range allowedEdges {
		out[from] = append([]domain.Phase(nil), tos...)
	}
	return out
}

// Manager validates and executes phase changes against the run store.
type Manager struct {
	store *runstore.Store
	bus   *events.Bus
	log   *logging.Logger
}

// NewManager creates a phase manager.
func NewManager(store *runstore.Store, bus *events.Bus) *Manager {
	return &Manager{store: store, bus: bus, log: logging.New("phase")}
}

// Transition attempts to move the run to target. An edge missing from the
// transition table is a boolean failure with state untouched, not an error;
// only a missing run is an error. On success the previous phase is appended
// to history as completed.
func (m *Manager) Transition(runID string, target domain.Phase) (bool, error) {
	run, ok := m.store.Load(runID)
	if !ok {
		return false, &runstore.NotFoundError{RunID: runID}
	}

	from := run.Phase
	if !Allowed(from, target) {
		m.log.Warn("transition_rejected", map[string]interface{}{
			"run": runID, "from": string(from), "to": string(target),
		}, nil)
		return false, nil
	}

	_, err := m.store.Mutate(runID, func(r *domain.Run) error {
		r.Phase = target
		r.History = append(r.History, domain.HistoryEntry{
			Phase:     from,
			Result:    "completed",
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return false, err
	}

	m.log.Info("transition", map[string]interface{}{
		"run": runID, "from": string(from), "to": string(target),
	})
	m.bus.Publish(events.TypePhase, runID, "transition", map[string]any{
		"from": string(from),
		"to":   string(target),
	})
	return true, nil
}

// NextPhase resolves what follows the run's current phase. For the gate
// phase a verdict is required: PASS→ready_for_merge, FAIL→build while under
// the iteration cap else failed, NEEDS_HUMAN→waiting_human; any other value
// is a fatal input error. ready_for_merge advances to completed. Terminal
// phases have no next phase (ok=false).
func (m *Manager) NextPhase(run *domain.Run, verdict *domain.GateVerdict) (domain.Phase, bool, error) {
	switch run.Phase {
	case domain.PhaseRefine:
		return domain.PhaseBuild, true, nil
	case domain.PhaseBuild:
		return domain.PhaseVerify, true, nil
	case domain.PhaseVerify:
		return domain.PhaseGate, true, nil
	case domain.PhaseGate:
		if verdict == nil {
			return "", false, fmt.Errorf("%w: gate phase requires a verdict", domain.ErrInvalidVerdict)
		}
		switch *verdict {
		case domain.VerdictPass:
			return domain.PhaseReadyForMerge, true, nil
		case domain.VerdictFail:
			if run.Iteration < run.MaxIterations {
				return domain.PhaseBuild, true, nil
			}
			return domain.PhaseFailed, true, nil
		case domain.VerdictNeedsHuman:
			return domain.PhaseWaitingHuman, true, nil
		default:
			return "", false, fmt.Errorf("%w: %q", domain.ErrInvalidVerdict, string(*verdict))
		}
	case domain.PhaseReadyForMerge:
		return domain.PhaseCompleted, true, nil
	case domain.PhaseCompleted, domain.PhaseFailed, domain.PhaseWaitingHuman:
		// waiting_human resumes through consultation resolution, not here.
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unknown phase %q", run.Phase)
	}
}

// IncrementIteration bumps the rework counter, resets the downstream worker
// slots (builder, verifier, gatekeeper), and reports whether the new count
// meets or exceeds the cap.
func (m *Manager) IncrementIteration(runID string) (int, bool, error) {
	iteration, capReached, err := m.store.IncrementIteration(runID)
	if err != nil {
		return 0, false, err
	}
	m.bus.Publish(events.TypePhase, runID, "iteration", map[string]any{
		"iteration":   iteration,
		"cap_reached": capReached,
	})
	return iteration, capReached, nil
}

// SetPendingConsultation records the consultation id the run is paused on.
// A non-empty id additionally forces the waiting_human phase; clearing the
// id never changes phase (resumption is the coordinator's decision).
func (m *Manager) SetPendingConsultation(runID string, crpID string) error {
	_, err := m.store.Mutate(runID, func(r *domain.Run) error {
		r.PendingConsultationID = crpID
		if crpID != "" {
			r.Phase = domain.PhaseWaitingHuman
		}
		return nil
	})
	if err != nil {
		return err
	}
	if crpID != "" {
		m.bus.Publish(events.TypePhase, runID, "waiting_human", map[string]any{"crp_id": crpID})
	}
	return nil
}

// ForceFail moves a run to failed regardless of the transition table. This
// is the operator escape hatch used by interrupt recovery.
func (m *Manager) ForceFail(runID string, reason string) error {
	now := time.Now().UTC()
	_, err := m.store.Mutate(runID, func(r *domain.Run) error {
		r.History = append(r.History, domain.HistoryEntry{
			Phase:     r.Phase,
			Result:    "forced_failed",
			Timestamp: now,
		})
		r.Phase = domain.PhaseFailed
		r.Errors = append(r.Errors, domain.RunError{
			Message:   reason,
			Timestamp: now,
		})
		return nil
	})
	if err != nil {
		return err
	}
	m.bus.Publish(events.TypePhase, runID, "forced_failed", map[string]any{"reason": reason})
	return nil
}
