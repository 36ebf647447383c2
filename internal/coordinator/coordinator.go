// Package coordinator decides what happens after a worker finishes: advance
// the pipeline, or pause for an unresolved human consultation. The
// filesystem event source delivers completions at least once, so everything
// here is idempotent and guarded against duplicate calls.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/logging"
	"github.com/mthorpe/conveyor/internal/phase"
	"github.com/mthorpe/conveyor/internal/prompt"
	"github.com/mthorpe/conveyor/internal/runstore"
	"github.com/mthorpe/conveyor/internal/session"
)

// ActionKind is what the coordinator decided to do next.
type ActionKind string

const (
	ActionTransition ActionKind = "transition"
	ActionWaitHuman  ActionKind = "wait_human"
)

// Action is the decision computed after a worker completes.
type Action struct {
	Kind   ActionKind
	Target domain.Phase      // for ActionTransition
	Worker domain.WorkerName // worker mapped to Target, if any
	CRPID  string            // for ActionWaitHuman
}

// Result reports what HandleAgentDone did.
type Result struct {
	Action     Action
	Transition bool // whether a phase transition was performed
	Duplicate  bool // true when a concurrent call already handled this completion
}

// Coordinator wires the run store, phase manager, and process host.
type Coordinator struct {
	store  *runstore.Store
	phases *phase.Manager
	host   session.Host
	bus    *events.Bus
	log    *logging.Logger

	// settleDelay lets a worker's final on-disk artifacts (including a
	// consultation request written moments before done.flag) land before
	// the next action is computed. Latency traded for correctness given
	// the polling event source.
	settleDelay time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a coordinator.
func New(store *runstore.Store, phases *phase.Manager, host session.Host, bus *events.Bus, settleDelay time.Duration) *Coordinator {
	return &Coordinator{
		store:       store,
		phases:      phases,
		host:        host,
		bus:         bus,
		log:         logging.New("coordinator"),
		settleDelay: settleDelay,
		inflight:    make(map[string]bool),
	}
}

func inflightKey(runID string, worker domain.WorkerName) string {
	return runID + "/" + string(worker)
}

// HandleAgentDone processes a worker completion. Duplicate deliveries for
// the same worker short-circuit with a placeholder result and no side
// effects. candidateNext is the phase the pipeline would normally advance
// to; an unresolved consultation overrides it.
func (c *Coordinator) HandleAgentDone(ctx context.Context, worker domain.WorkerName, runID string, candidateNext domain.Phase) (Result, error) {
	key := inflightKey(runID, worker)
	c.mu.Lock()
	if c.inflight[key] {
		c.mu.Unlock()
		c.log.Debug("duplicate_completion", map[string]interface{}{
			"run": runID, "worker": string(worker),
		})
		return Result{Duplicate: true, Action: Action{Kind: ActionTransition, Target: candidateNext}}, nil
	}
	c.inflight[key] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	if err := c.store.UpdateWorkerStatus(runID, worker, domain.StatusCompleting, ""); err != nil {
		return Result{}, err
	}
	if err := c.store.UpdateWorkerStatus(runID, worker, domain.StatusCompleted, ""); err != nil {
		return Result{}, err
	}

	c.settle(ctx)

	action, err := c.determineNextAction(runID, worker, candidateNext)
	if err != nil {
		return Result{}, err
	}

	switch action.Kind {
	case ActionWaitHuman:
		if err := c.recordWaitHuman(runID, action.CRPID); err != nil {
			return Result{}, err
		}
		c.bus.Publish(events.TypeCoordinator, runID, "wait_human", map[string]any{
			"worker": string(worker),
			"crp_id": action.CRPID,
		})
		return Result{Action: action}, nil

	case ActionTransition:
		// Rework: the gate→build edge bumps the iteration counter and resets
		// the downstream slots. Ordered after the completion marking above so
		// the reset gatekeeper slot reads pending for the new iteration.
		if worker == domain.WorkerGatekeeper && action.Target == domain.PhaseBuild {
			if _, _, err := c.phases.IncrementIteration(runID); err != nil {
				return Result{}, err
			}
		}
		ok, err := c.phases.Transition(runID, action.Target)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			c.log.Warn("transition_refused", map[string]interface{}{
				"run": runID, "worker": string(worker), "target": string(action.Target),
			}, nil)
			return Result{Action: action}, nil
		}
		if action.Worker != "" {
			if err := c.StartWorker(ctx, runID, action.Worker); err != nil {
				return Result{Action: action, Transition: true}, err
			}
		}
		c.bus.Publish(events.TypeCoordinator, runID, "advanced", map[string]any{
			"worker": string(worker),
			"to":     string(action.Target),
		})
		return Result{Action: action, Transition: true}, nil
	}

	return Result{}, fmt.Errorf("unknown action %q", action.Kind)
}

// determineNextAction picks between pausing for a human and advancing. A
// consultation request from this worker with no matching decision wins;
// failing that, a run already parked in waiting_human (or carrying a pending
// consultation id) stays parked; otherwise the pipeline advances.
func (c *Coordinator) determineNextAction(runID string, worker domain.WorkerName, candidateNext domain.Phase) (Action, error) {
	open, err := c.store.UnresolvedConsultations(runID)
	if err != nil {
		return Action{}, err
	}
	for _, req := range open {
		if req.Worker == worker {
			return Action{Kind: ActionWaitHuman, CRPID: req.ID}, nil
		}
	}

	run, ok := c.store.Load(runID)
	if !ok {
		return Action{}, &runstore.NotFoundError{RunID: runID}
	}
	if run.Phase == domain.PhaseWaitingHuman || run.PendingConsultationID != "" {
		return Action{Kind: ActionWaitHuman, CRPID: run.PendingConsultationID}, nil
	}

	action := Action{Kind: ActionTransition, Target: candidateNext}
	if w, ok := domain.WorkerFor(candidateNext); ok {
		action.Worker = w
	}
	return action, nil
}

// recordWaitHuman persists the pending consultation id if it isn't already
// recorded. No phase mutation happens for an already-parked run.
func (c *Coordinator) recordWaitHuman(runID, crpID string) error {
	run, ok := c.store.Load(runID)
	if !ok {
		return &runstore.NotFoundError{RunID: runID}
	}
	if crpID == "" || run.PendingConsultationID == crpID {
		return nil
	}
	return c.phases.SetPendingConsultation(runID, crpID)
}

// HandleCRPCreated reacts to a worker raising a consultation request
// mid-execution: the worker is stopped, its slot reset to pending (it will
// rerun after the human answers), and the run parks in waiting_human.
func (c *Coordinator) HandleCRPCreated(ctx context.Context, runID string, worker domain.WorkerName, crpID string) error {
	if err := c.host.Stop(runID, worker); err != nil {
		c.log.Warn("stop_worker", map[string]interface{}{
			"run": runID, "worker": string(worker),
		}, err)
	}

	if err := c.store.UpdateWorkerStatus(runID, worker, domain.StatusPending, ""); err != nil {
		return err
	}
	if err := c.phases.SetPendingConsultation(runID, crpID); err != nil {
		return err
	}

	c.bus.Publish(events.TypeCoordinator, runID, "crp_created", map[string]any{
		"worker": string(worker),
		"crp_id": crpID,
	})
	return nil
}

// ResumeAfterDecision restarts a run parked in waiting_human once its
// pending consultation has a decision. The pipeline re-enters at the phase
// owned by the worker that raised the request.
func (c *Coordinator) ResumeAfterDecision(ctx context.Context, runID string) error {
	run, ok := c.store.Load(runID)
	if !ok {
		return &runstore.NotFoundError{RunID: runID}
	}
	if run.Phase != domain.PhaseWaitingHuman {
		return fmt.Errorf("run %s is not waiting for a human (phase %s)", runID, run.Phase)
	}

	open, err := c.store.UnresolvedConsultations(runID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return fmt.Errorf("run %s still has %d unresolved consultation(s)", runID, len(open))
	}

	// The request's author decides where the pipeline resumes: the refiner
	// re-enters refine, everyone else re-enters build.
	target := domain.PhaseBuild
	if reqs, err := c.store.ListConsultations(runID); err == nil {
		for _, req := range reqs {
			if req.ID == run.PendingConsultationID && req.Worker == domain.WorkerRefiner {
				target = domain.PhaseRefine
			}
		}
	}

	if err := c.phases.SetPendingConsultation(runID, ""); err != nil {
		return err
	}
	ok2, err := c.phases.Transition(runID, target)
	if err != nil {
		return err
	}
	if !ok2 {
		return fmt.Errorf("cannot resume run %s into %s", runID, target)
	}

	worker, _ := domain.WorkerFor(target)
	if err := c.StartWorker(ctx, runID, worker); err != nil {
		return err
	}
	c.bus.Publish(events.TypeCoordinator, runID, "resumed", map[string]any{
		"to": string(target),
	})
	return nil
}

// StartWorker renders the worker's prompt artifact, clears any stale
// completion marker, marks the slot running, and launches the process.
func (c *Coordinator) StartWorker(ctx context.Context, runID string, worker domain.WorkerName) error {
	run, ok := c.store.Load(runID)
	if !ok {
		return &runstore.NotFoundError{RunID: runID}
	}

	promptPath, err := prompt.Render(c.store.RunDir(runID), run, worker)
	if err != nil {
		return err
	}
	if err := c.store.ClearDoneFlag(runID, worker); err != nil {
		return err
	}
	if err := c.store.UpdateWorkerStatus(runID, worker, domain.StatusRunning, ""); err != nil {
		return err
	}
	if err := c.host.Start(ctx, runID, worker, promptPath); err != nil {
		c.store.UpdateWorkerStatus(runID, worker, domain.StatusFailed, err.Error())
		return fmt.Errorf("start %s for run %s: %w", worker, runID, err)
	}
	return nil
}

func (c *Coordinator) settle(ctx context.Context) {
	if c.settleDelay <= 0 {
		return
	}
	select {
	case <-time.After(c.settleDelay):
	case <-ctx.Done():
	}
}
