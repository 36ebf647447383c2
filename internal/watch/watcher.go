// Package watch turns raw files appearing in a run directory into typed
// pipeline events. It polls rather than using inotify so it works on any
// filesystem; delivery is at-least-once with debounced duplicates, and
// consumers are expected to be idempotent.
package watch

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/logging"
)

// EventType is a typed pipeline event derived from the run directory.
type EventType string

const (
	EventRefinerDone       EventType = "refiner_done"
	EventBuilderDone       EventType = "builder_done"
	EventVerifierDone      EventType = "verifier_done"
	EventGatekeeperDone    EventType = "gatekeeper_done"
	EventTestsReady        EventType = "tests_ready"
	EventTestExecutionDone EventType = "test_execution_done"
	EventCRPCreated        EventType = "crp_created"
	EventError             EventType = "error"
)

// Event is one observed occurrence.
type Event struct {
	Type   EventType
	RunID  string
	Worker domain.WorkerName
	CRPID  string
	Path   string
	At     time.Time
}

// Marker returns a stable identity for the occurrence so consumers can
// suppress consecutive replays of the same marker file.
func (e Event) Marker() string {
	return string(e.Type) + ":" + e.Path
}

// donePatterns maps completion markers (relative to the run directory) to
// their event type.
var donePatterns = map[string]EventType{
	"refiner/done.flag":    EventRefinerDone,
	"builder/done.flag":    EventBuilderDone,
	"verifier/done.flag":   EventVerifierDone,
	"gatekeeper/done.flag": EventGatekeeperDone,
}

const (
	testsReadyPattern   = "builder/tests_ready.flag"
	testsExecPattern    = "verifier/tests_executed.flag"
	crpPattern          = "crp/*.json"
	errorPattern        = "*/error.json"
	defaultPollInterval = 500 * time.Millisecond
	defaultDebounce     = 10 * time.Second
)

// Watcher polls one run directory.
type Watcher struct {
	runID    string
	dir      string
	interval time.Duration
	debounce time.Duration
	log      *logging.Logger

	// lastSeen maps a marker path to when it was last emitted; within the
	// debounce window a marker is not re-emitted.
	lastSeen map[string]time.Time
}

// New creates a watcher for a run directory.
func New(runID, dir string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		runID:    runID,
		dir:      dir,
		interval: interval,
		debounce: defaultDebounce,
		log:      logging.New("watch").WithRun(runID),
		lastSeen: make(map[string]time.Time),
	}
}

// Start begins polling; the returned channel closes when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, ev := range w.Scan() {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// Scan performs one poll pass and returns freshly observed events. Exposed
// for tests and the status command.
func (w *Watcher) Scan() []Event {
	now := time.Now()
	var out []Event

	emit := func(t EventType, rel string, worker domain.WorkerName, crpID string) {
		if last, ok := w.lastSeen[rel]; ok && now.Sub(last) < w.debounce {
			return
		}
		w.lastSeen[rel] = now
		w.log.Debug("observed", map[string]interface{}{"type": string(t), "path": rel})
		out = append(out, Event{
			Type:   t,
			RunID:  w.runID,
			Worker: worker,
			CRPID:  crpID,
			Path:   rel,
			At:     now,
		})
	}

	fsys := os.DirFS(w.dir)

	for rel, t := range donePatterns {
		if _, err := os.Stat(filepath.Join(w.dir, rel)); err == nil {
			worker := domain.WorkerName(strings.SplitN(rel, "/", 2)[0])
			emit(t, rel, worker, "")
		}
	}

	if _, err := os.Stat(filepath.Join(w.dir, testsReadyPattern)); err == nil {
		emit(EventTestsReady, testsReadyPattern, domain.WorkerBuilder, "")
	}
	if _, err := os.Stat(filepath.Join(w.dir, testsExecPattern)); err == nil {
		emit(EventTestExecutionDone, testsExecPattern, domain.WorkerVerifier, "")
	}

	if matches, err := doublestar.Glob(fsys, crpPattern); err == nil {
		for _, m := range matches {
			crpID := strings.TrimSuffix(path.Base(m), ".json")
			emit(EventCRPCreated, m, "", crpID)
		}
	}

	if matches, err := doublestar.Glob(fsys, errorPattern); err == nil {
		for _, m := range matches {
			worker := domain.WorkerName(path.Dir(m))
			if worker.Valid() {
				emit(EventError, m, worker, "")
			}
		}
	}

	return out
}
