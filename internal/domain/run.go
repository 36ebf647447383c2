package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkerStatus is the lifecycle state of a worker slot.
type WorkerStatus string

const (
	StatusPending      WorkerStatus = "pending"
	StatusRunning      WorkerStatus = "running"
	StatusCompleting   WorkerStatus = "completing"
	StatusCompleted    WorkerStatus = "completed"
	StatusFailed       WorkerStatus = "failed"
	StatusTimeout      WorkerStatus = "timeout"
	StatusWaitingHuman WorkerStatus = "waiting_human"
)

// WorkerSlot tracks one of the four named workers within a run.
type WorkerSlot struct {
	Status      WorkerStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// Reset returns the slot to its initial pending state.
func (s *WorkerSlot) Reset() {
	s.Status = StatusPending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.LastError = ""
}

// HistoryEntry records one completed phase.
type HistoryEntry struct {
	Phase     Phase     `json:"phase"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// RunError records a failure attributed to a run.
type RunError struct {
	Worker         WorkerName     `json:"worker,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Run is the unit of orchestration: one execution of the four-phase pipeline.
type Run struct {
	ID                    string                      `json:"id"`
	Objective             string                      `json:"objective,omitempty"`
	Phase                 Phase                       `json:"phase"`
	Iteration             int                         `json:"iteration"`
	MaxIterations         int                         `json:"max_iterations"`
	Workers               map[WorkerName]*WorkerSlot  `json:"workers"`
	PendingConsultationID string                      `json:"pending_consultation_id,omitempty"`
	History               []HistoryEntry              `json:"history"`
	Errors                []RunError                  `json:"errors"`
	LastEvent             string                      `json:"last_event,omitempty"`
	CreatedAt             time.Time                   `json:"created_at"`
	UpdatedAt             time.Time                   `json:"updated_at"`
}

// NewRun creates a fresh run in the refine phase. The ID is a ULID, so it
// encodes the creation timestamp and sorts chronologically.
func NewRun(objective string, maxIterations int) *Run {
	now := time.Now().UTC()
	workers := make(map[WorkerName]*WorkerSlot, len(Workers))
	for _, w := range Workers {
		workers[w] = &WorkerSlot{Status: StatusPending}
	}
	return &Run{
		ID:            strings.ToLower(ulid.Make().String()),
		Objective:     objective,
		Phase:         PhaseRefine,
		Iteration:     1,
		MaxIterations: maxIterations,
		Workers:       workers,
		History:       []HistoryEntry{},
		Errors:        []RunError{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Worker returns the slot for a worker name, creating it if the persisted
// record predates the slot (defensive against hand-edited state files).
func (r *Run) Worker(name WorkerName) *WorkerSlot {
	if r.Workers == nil {
		r.Workers = make(map[WorkerName]*WorkerSlot)
	}
	slot, ok := r.Workers[name]
	if !ok {
		slot = &WorkerSlot{Status: StatusPending}
		r.Workers[name] = slot
	}
	return slot
}

// ActiveWorker returns the worker slot responsible for the current phase.
func (r *Run) ActiveWorker() (WorkerName, bool) {
	return WorkerFor(r.Phase)
}

// Age returns time elapsed since the run was created.
func (r *Run) Age() time.Duration {
	return time.Since(r.CreatedAt)
}
