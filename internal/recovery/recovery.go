// Package recovery finds runs interrupted by a crash or restart and decides
// how each one can be resumed.
package recovery

import (
	"fmt"
	"time"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/logging"
	"github.com/mthorpe/conveyor/internal/phase"
	"github.com/mthorpe/conveyor/internal/runstore"
	"github.com/mthorpe/conveyor/internal/session"
)

// Strategy classifies how an interrupted run resumes.
type Strategy string

const (
	// StrategyRestartAgent relaunches the phase's mapped worker.
	StrategyRestartAgent Strategy = "restart_agent"
	// StrategyWaitHuman leaves the run parked on its consultation.
	StrategyWaitHuman Strategy = "wait_human"
	// StrategyManual refuses to guess; the operator decides.
	StrategyManual Strategy = "manual"
)

// Candidate is an interrupted run and its resume classification. It is
// recomputed on every scan, never persisted.
type Candidate struct {
	RunID        string
	Phase        domain.Phase
	Worker       domain.WorkerName
	WorkerStatus domain.WorkerStatus
	CanResume    bool
	Strategy     Strategy
	Age          time.Duration
	SessionAlive bool
}

// Service scans persisted runs and applies resume strategies.
type Service struct {
	store  *runstore.Store
	phases *phase.Manager
	host   session.Host
	bus    *events.Bus
	log    *logging.Logger

	// maxAge is the ceiling beyond which a run is considered abandoned and
	// excluded from detection.
	maxAge time.Duration
}

// NewService creates a recovery service.
func NewService(store *runstore.Store, phases *phase.Manager, host session.Host, bus *events.Bus, maxAge time.Duration) *Service {
	return &Service{
		store:  store,
		phases: phases,
		host:   host,
		bus:    bus,
		log:    logging.New("recovery"),
		maxAge: maxAge,
	}
}

// DetectInterruptedRuns scans every persisted run, discards terminal and
// over-age ones, and classifies the rest. The tmux liveness probe is
// diagnostic only; it never changes the strategy.
func (s *Service) DetectInterruptedRuns() ([]Candidate, error) {
	runs, err := s.store.List()
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, run := range runs {
		if run.Phase.Terminal() {
			continue
		}
		age := run.Age()
		if s.maxAge > 0 && age > s.maxAge {
			s.log.Debug("skipped_overage", map[string]interface{}{
				"run": run.ID, "age_hours": int(age.Hours()),
			})
			continue
		}

		c := s.classify(run)
		c.Age = age
		out = append(out, c)
	}

	s.bus.Publish(events.TypeRecovery, "", "scan", map[string]any{"candidates": len(out)})
	return out, nil
}

func (s *Service) classify(run *domain.Run) Candidate {
	c := Candidate{RunID: run.ID, Phase: run.Phase}

	switch run.Phase {
	case domain.PhaseRefine, domain.PhaseBuild, domain.PhaseVerify, domain.PhaseGate:
		worker, _ := domain.WorkerFor(run.Phase)
		c.Worker = worker
		c.WorkerStatus = run.Worker(worker).Status
		c.CanResume = true
		c.Strategy = StrategyRestartAgent
		c.SessionAlive = s.host.Alive(run.ID, worker)

	case domain.PhaseWaitingHuman:
		c.CanResume = true
		c.Strategy = StrategyWaitHuman

	default:
		// ready_for_merge or an inconsistent state: terminal-adjacent,
		// surfaced to the operator instead of auto-resolved.
		c.CanResume = false
		c.Strategy = StrategyManual
	}
	return c
}

// PrepareRecovery applies the side effects of a candidate's strategy:
// restart_agent resets the stalled worker slot to pending, wait_human does
// nothing (the pending consultation already holds the context), manual
// always fails without mutation.
func (s *Service) PrepareRecovery(runID string) (Candidate, error) {
	run, ok := s.store.Load(runID)
	if !ok {
		return Candidate{}, &runstore.NotFoundError{RunID: runID}
	}
	if run.Phase.Terminal() {
		return Candidate{}, fmt.Errorf("run %s is already terminal (%s)", runID, run.Phase)
	}

	c := s.classify(run)
	c.Age = run.Age()

	switch c.Strategy {
	case StrategyRestartAgent:
		if err := s.store.ClearDoneFlag(runID, c.Worker); err != nil {
			return c, err
		}
		if err := s.store.UpdateWorkerStatus(runID, c.Worker, domain.StatusPending, ""); err != nil {
			return c, err
		}
		s.bus.Publish(events.TypeRecovery, runID, "prepared", map[string]any{
			"strategy": string(c.Strategy),
			"worker":   string(c.Worker),
		})
		return c, nil

	case StrategyWaitHuman:
		s.bus.Publish(events.TypeRecovery, runID, "prepared", map[string]any{
			"strategy": string(c.Strategy),
		})
		return c, nil

	default:
		return c, fmt.Errorf("run %s requires manual intervention (phase %s)", runID, run.Phase)
	}
}

// MarkAsFailed is the operator escape hatch for a stuck run: force the
// failed phase and append the reason to the error log.
func (s *Service) MarkAsFailed(runID string, reason string) error {
	if _, ok := s.store.Load(runID); !ok {
		return &runstore.NotFoundError{RunID: runID}
	}
	if err := s.phases.ForceFail(runID, reason); err != nil {
		return err
	}
	s.bus.Publish(events.TypeRecovery, runID, "marked_failed", map[string]any{"reason": reason})
	s.log.Warn("marked_failed", map[string]interface{}{"run": runID, "reason": reason}, nil)
	return nil
}
