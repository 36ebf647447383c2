package coordinator

import (
	"context"
	"fmt"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/logging"
	"github.com/mthorpe/conveyor/internal/retry"
	"github.com/mthorpe/conveyor/internal/watch"
)

// Supervisor reacts to typed filesystem events for one run and drives the
// coordinator. Events arrive at least once; the last_event marker on the
// run plus the coordinator's guards make replay harmless.
type Supervisor struct {
	coord   *Coordinator
	watcher *watch.Watcher
	retries *retry.Manager
	log     *logging.Logger
}

// NewSupervisor creates a supervisor over a run's event stream.
func NewSupervisor(coord *Coordinator, watcher *watch.Watcher, retries *retry.Manager) *Supervisor {
	return &Supervisor{coord: coord, watcher: watcher, retries: retries, log: logging.New("supervisor")}
}

// Run consumes events until the run reaches a terminal phase or the context
// is cancelled. It returns the final phase.
func (s *Supervisor) Run(ctx context.Context, runID string) (domain.Phase, error) {
	ch := s.watcher.Start(ctx)

	for {
		run, ok := s.coord.store.Load(runID)
		if !ok {
			return "", fmt.Errorf("run vanished: %s", runID)
		}
		if run.Phase.Terminal() || run.Phase == domain.PhaseReadyForMerge {
			return run.Phase, nil
		}

		select {
		case <-ctx.Done():
			return run.Phase, ctx.Err()
		case ev, open := <-ch:
			if !open {
				return run.Phase, nil
			}
			if err := s.handle(ctx, runID, ev); err != nil {
				s.log.Error("event_failed", map[string]interface{}{
					"run": runID, "event": string(ev.Type),
				}, err)
			}
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, runID string, ev watch.Event) error {
	run, ok := s.coord.store.Load(runID)
	if !ok {
		return fmt.Errorf("run vanished: %s", runID)
	}

	marker := ev.Marker()
	if run.LastEvent == marker {
		// Replay of the event we already handled.
		return nil
	}

	switch ev.Type {
	case watch.EventRefinerDone, watch.EventBuilderDone, watch.EventVerifierDone, watch.EventGatekeeperDone:
		if err := s.workerDone(ctx, runID, ev.Worker); err != nil {
			// Leave the marker untouched so a redelivery retries the
			// completion (the artifacts it needs may still be landing).
			return err
		}
		return s.coord.store.SetLastEvent(runID, marker)

	case watch.EventCRPCreated:
		open, err := s.coord.store.UnresolvedConsultations(runID)
		if err != nil {
			return err
		}
		var req *domain.ConsultationRequest
		for _, r := range open {
			if r.ID == ev.CRPID {
				req = r
			}
		}
		if req == nil {
			// The request file outlives its decision; a re-emission for an
			// already-answered request must not park the run again.
			return s.coord.store.SetLastEvent(runID, marker)
		}
		if err := s.coord.HandleCRPCreated(ctx, runID, req.Worker, req.ID); err != nil {
			return err
		}
		return s.coord.store.SetLastEvent(runID, marker)

	case watch.EventError:
		return s.workerError(ctx, runID, ev.Worker, marker)

	case watch.EventTestsReady, watch.EventTestExecutionDone:
		// Progress markers only; surfaced to observers by the watcher.
		return nil
	}
	return nil
}

// workerDone resolves the candidate next phase for the finished worker and
// hands off to the coordinator. The gatekeeper's completion additionally
// consumes verdict.json; a missing or unreadable verdict is an error, which
// keeps the done event unconsumed until the file lands.
func (s *Supervisor) workerDone(ctx context.Context, runID string, worker domain.WorkerName) error {
	run, ok := s.coord.store.Load(runID)
	if !ok {
		return fmt.Errorf("run vanished: %s", runID)
	}

	var verdict *domain.GateVerdict
	if worker == domain.WorkerGatekeeper {
		v, _, err := s.coord.store.ReadVerdict(runID)
		if err != nil {
			return err
		}
		verdict = &v
	}

	next, ok2, err := s.coord.phases.NextPhase(run, verdict)
	if err != nil {
		return err
	}
	if !ok2 {
		return nil
	}

	_, err = s.coord.HandleAgentDone(ctx, worker, runID, next)
	return err
}

// workerError records a worker-reported failure, then applies the retry
// policy: a retryable classification with budget left relaunches the worker
// after backoff; anything else fails the run.
func (s *Supervisor) workerError(ctx context.Context, runID string, worker domain.WorkerName, marker string) error {
	runErr, ok := s.coord.store.ReadWorkerError(runID, worker)
	if !ok {
		runErr = &domain.RunError{Worker: worker, Message: "worker reported an error", Classification: domain.ClassOther}
	}
	runErr.Worker = worker

	if err := s.coord.store.AddError(runID, *runErr); err != nil {
		return err
	}
	status := domain.StatusFailed
	if runErr.Classification == domain.ClassTimeout {
		status = domain.StatusTimeout
	}
	if err := s.coord.store.UpdateWorkerStatus(runID, worker, status, runErr.Message); err != nil {
		return err
	}
	if s.retries == nil {
		return s.coord.store.SetLastEvent(runID, marker)
	}

	rc := retry.Context{Worker: worker, Classification: runErr.Classification, RunID: runID}
	attempt := s.retries.RecordAttempt(rc)
	if !s.retries.ShouldRetry(runErr.Classification, attempt) {
		if err := s.coord.store.SetLastEvent(runID, marker); err != nil {
			return err
		}
		return s.coord.phases.ForceFail(runID, fmt.Sprintf(
			"%s failed (%s) after %d attempt(s): %s",
			worker, runErr.Classification, attempt, runErr.Message))
	}

	s.log.Warn("worker_retry", map[string]interface{}{
		"run": runID, "worker": string(worker),
		"classification": string(runErr.Classification), "attempt": attempt,
	}, nil)
	s.retries.Backoff(attempt)

	// Fresh start: drop the consumed failure artifacts so the next error
	// from this worker is observed as a new occurrence.
	if err := s.coord.store.ClearWorkerError(runID, worker); err != nil {
		return err
	}
	if err := s.coord.store.SetLastEvent(runID, ""); err != nil {
		return err
	}
	return s.coord.StartWorker(ctx, runID, worker)
}
