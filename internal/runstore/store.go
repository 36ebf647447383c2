// Package runstore persists run state to the filesystem. The run directory
// is the single source of truth; every mutation goes through an atomic
// write-temp-then-rename of state.json so readers never observe a torn
// record.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/logging"
)

// Sentinel errors.
var (
	// ErrRunNotFound indicates an operation addressed a run with no
	// persisted state. Mutating calls never create runs implicitly.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists indicates Create was called for an existing run.
	ErrRunExists = errors.New("run already exists")
)

// NotFoundError wraps ErrRunNotFound with the run id.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrRunNotFound
}

// IsNotFound checks whether an error means the run does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

const stateFile = "state.json"

// Store reads and mutates persisted runs under a root directory
// (one subdirectory per run).
type Store struct {
	root string
	log  *logging.Logger
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir, log: logging.New("runstore")}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// RunDir returns the directory for a run id.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.root, id)
}

// Create persists a new run and lays out its directory structure.
func (s *Store) Create(run *domain.Run) error {
	dir := s.RunDir(run.ID)
	if _, err := os.Stat(filepath.Join(dir, stateFile)); err == nil {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	for _, sub := range runSubdirs(run) {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create run dir: %w", err)
		}
	}
	if err := s.Save(run); err != nil {
		return err
	}
	s.log.Info("run_created", map[string]interface{}{"run": run.ID})
	return nil
}

func runSubdirs(run *domain.Run) []string {
	subs := []string{"crp", "vcr"}
	for _, w := range domain.Workers {
		subs = append(subs, string(w))
	}
	return subs
}

// Save atomically writes the run's state.json: marshal to a temp file in the
// run's directory, fsync, then rename over the canonical path.
func (s *Store) Save(run *domain.Run) error {
	run.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}

	dir := s.RunDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, stateFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Load reads a run's state. Missing, empty, or corrupt state files all
// report absent: corruption must not wedge the orchestrator, and callers
// that expect an existing run fail loudly at the call site.
func (s *Store) Load(id string) (*domain.Run, bool) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(id), stateFile))
	if err != nil {
		return nil, false
	}
	if len(data) == 0 {
		s.log.Warn("state_empty", map[string]interface{}{"run": id}, nil)
		return nil, false
	}

	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		s.log.Warn("state_corrupt", map[string]interface{}{"run": id}, err)
		return nil, false
	}
	return &run, true
}

// List returns every persisted run, sorted by id (ULIDs sort
// chronologically). Directories without a readable state file are skipped.
func (s *Store) List() ([]*domain.Run, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []*domain.Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if run, ok := s.Load(e.Name()); ok {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

// Delete removes a run's directory. Callers are responsible for only
// deleting terminal runs.
func (s *Store) Delete(id string) error {
	return os.RemoveAll(s.RunDir(id))
}

// Mutate performs a read-modify-write cycle on a run. It is a hard error if
// the run does not exist.
func (s *Store) Mutate(id string, fn func(*domain.Run) error) (*domain.Run, error) {
	run, ok := s.Load(id)
	if !ok {
		return nil, &NotFoundError{RunID: id}
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	if err := s.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// UpdatePhase sets the run's phase. There is no implicit creation: a missing
// run is an error.
func (s *Store) UpdatePhase(id string, phase domain.Phase) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		run.Phase = phase
		return nil
	})
	return err
}

// UpdateWorkerStatus sets a worker slot's status, maintaining timestamps:
// running stamps StartedAt, the terminal-ish statuses stamp CompletedAt.
func (s *Store) UpdateWorkerStatus(id string, worker domain.WorkerName, status domain.WorkerStatus, lastErr string) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		slot := run.Worker(worker)
		slot.Status = status
		now := time.Now().UTC()
		switch status {
		case domain.StatusRunning:
			slot.StartedAt = &now
			slot.CompletedAt = nil
		case domain.StatusCompleted, domain.StatusFailed, domain.StatusTimeout:
			slot.CompletedAt = &now
		}
		if lastErr != "" {
			slot.LastError = lastErr
		}
		return nil
	})
	return err
}

// SetPendingConsultation records (or clears, with "") the consultation id
// the run is paused on. Phase changes are the transition manager's job.
func (s *Store) SetPendingConsultation(id string, crpID string) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		run.PendingConsultationID = crpID
		return nil
	})
	return err
}

// IncrementIteration bumps the rework counter and resets the builder,
// verifier, and gatekeeper slots to pending (the refiner's work is never
// redone). Returns the new count and whether it meets or exceeds the cap.
func (s *Store) IncrementIteration(id string) (int, bool, error) {
	var iteration int
	var capReached bool
	_, err := s.Mutate(id, func(run *domain.Run) error {
		run.Iteration++
		for _, w := range []domain.WorkerName{domain.WorkerBuilder, domain.WorkerVerifier, domain.WorkerGatekeeper} {
			run.Worker(w).Reset()
		}
		iteration = run.Iteration
		capReached = run.Iteration >= run.MaxIterations
		return nil
	})
	return iteration, capReached, err
}

// AddHistory appends a history entry.
func (s *Store) AddHistory(id string, entry domain.HistoryEntry) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		run.History = append(run.History, entry)
		return nil
	})
	return err
}

// AddError appends an error record.
func (s *Store) AddError(id string, runErr domain.RunError) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		if runErr.Timestamp.IsZero() {
			runErr.Timestamp = time.Now().UTC()
		}
		run.Errors = append(run.Errors, runErr)
		return nil
	})
	return err
}

// SetLastEvent records the most recently handled event marker, used for
// idempotent replay by the supervising loop.
func (s *Store) SetLastEvent(id string, marker string) error {
	_, err := s.Mutate(id, func(run *domain.Run) error {
		run.LastEvent = marker
		return nil
	})
	return err
}
