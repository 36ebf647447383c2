// Package domain defines the core entities of the conveyor pipeline: runs,
// phases, worker slots, gate verdicts, and consultation records.
package domain

// Phase is the lifecycle state of a run.
type Phase string

const (
	PhaseRefine        Phase = "refine"
	PhaseBuild         Phase = "build"
	PhaseVerify        Phase = "verify"
	PhaseGate          Phase = "gate"
	PhaseWaitingHuman  Phase = "waiting_human"
	PhaseReadyForMerge Phase = "ready_for_merge"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// Phases lists every phase, in pipeline order.
var Phases = []Phase{
	PhaseRefine,
	PhaseBuild,
	PhaseVerify,
	PhaseGate,
	PhaseWaitingHuman,
	PhaseReadyForMerge,
	PhaseCompleted,
	PhaseFailed,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, q := range Phases {
		if p == q {
			return true
		}
	}
	return false
}

// Terminal reports whether the run is finished. ready_for_merge still has an
// outgoing edge (to completed) and is not terminal.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Active reports whether the phase has a responsible worker.
func (p Phase) Active() bool {
	_, ok := phaseWorkers[p]
	return ok
}

// WorkerName identifies one of the four pipeline worker slots.
type WorkerName string

const (
	WorkerRefiner    WorkerName = "refiner"
	WorkerBuilder    WorkerName = "builder"
	WorkerVerifier   WorkerName = "verifier"
	WorkerGatekeeper WorkerName = "gatekeeper"
)

// Workers lists all worker slots in pipeline order.
var Workers = []WorkerName{WorkerRefiner, WorkerBuilder, WorkerVerifier, WorkerGatekeeper}

// Valid reports whether w is a known worker name.
func (w WorkerName) Valid() bool {
	for _, v := range Workers {
		if w == v {
			return true
		}
	}
	return false
}

// phaseWorkers maps each active phase to its responsible worker slot.
// Terminal and paused phases have no entry.
var phaseWorkers = map[Phase]WorkerName{
	PhaseRefine: WorkerRefiner,
	PhaseBuild:  WorkerBuilder,
	PhaseVerify: WorkerVerifier,
	PhaseGate:   WorkerGatekeeper,
}

// WorkerFor returns the worker slot responsible for a phase.
func WorkerFor(p Phase) (WorkerName, bool) {
	w, ok := phaseWorkers[p]
	return w, ok
}

// PhaseFor returns the phase a worker slot is responsible for.
func PhaseFor(w WorkerName) (Phase, bool) {
	for p, pw := range phaseWorkers {
		if pw == w {
			return p, true
		}
	}
	return "", false
}
