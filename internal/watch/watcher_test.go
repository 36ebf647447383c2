package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorpe/conveyor/internal/domain"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"refiner", "builder", "verifier", "gatekeeper", "crp", "vcr"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	return New("run1", dir, time.Millisecond)
}

func touch(t *testing.T, w *Watcher, rel string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(w.dir, rel), []byte("{}"), 0o644))
}

func eventTypes(evs []Event) []EventType {
	out := make([]EventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func TestScanEmptyDirectory(t *testing.T) {
	w := newTestWatcher(t)
	assert.Empty(t, w.Scan())
}

func TestScanDoneFlags(t *testing.T) {
	w := newTestWatcher(t)

	touch(t, w, "refiner/done.flag")
	evs := w.Scan()
	require.Len(t, evs, 1)
	assert.Equal(t, EventRefinerDone, evs[0].Type)
	assert.Equal(t, domain.WorkerRefiner, evs[0].Worker)
	assert.Equal(t, "run1", evs[0].RunID)

	touch(t, w, "gatekeeper/done.flag")
	evs = w.Scan()
	require.Len(t, evs, 1)
	assert.Equal(t, EventGatekeeperDone, evs[0].Type)
	assert.Equal(t, domain.WorkerGatekeeper, evs[0].Worker)
}

func TestScanDebouncesRepeatObservations(t *testing.T) {
	w := newTestWatcher(t)
	touch(t, w, "builder/done.flag")

	require.Len(t, w.Scan(), 1)
	// The flag is still on disk; within the debounce window it stays quiet.
	assert.Empty(t, w.Scan())
	assert.Empty(t, w.Scan())
}

func TestScanReemitsAfterDebounceWindow(t *testing.T) {
	w := newTestWatcher(t)
	w.debounce = 10 * time.Millisecond
	touch(t, w, "builder/done.flag")

	require.Len(t, w.Scan(), 1)
	time.Sleep(20 * time.Millisecond)
	// At-least-once: the still-present flag is re-delivered after the
	// window, and consumers dedupe by marker.
	require.Len(t, w.Scan(), 1)
}

func TestScanProgressMarkers(t *testing.T) {
	w := newTestWatcher(t)
	touch(t, w, "builder/tests_ready.flag")
	touch(t, w, "verifier/tests_executed.flag")

	types := eventTypes(w.Scan())
	assert.Contains(t, types, EventTestsReady)
	assert.Contains(t, types, EventTestExecutionDone)
}

func TestScanConsultationRequests(t *testing.T) {
	w := newTestWatcher(t)
	touch(t, w, "crp/5d1aa1f2-dead-beef-0000-000000000001.json")

	evs := w.Scan()
	require.Len(t, evs, 1)
	assert.Equal(t, EventCRPCreated, evs[0].Type)
	assert.Equal(t, "5d1aa1f2-dead-beef-0000-000000000001", evs[0].CRPID)
}

func TestScanWorkerErrors(t *testing.T) {
	w := newTestWatcher(t)
	touch(t, w, "verifier/error.json")

	evs := w.Scan()
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Type)
	assert.Equal(t, domain.WorkerVerifier, evs[0].Worker)
}

func TestScanIgnoresErrorsOutsideWorkerDirs(t *testing.T) {
	w := newTestWatcher(t)
	touch(t, w, "vcr/error.json")
	assert.Empty(t, w.Scan())
}

func TestMarkerIsStableAcrossScans(t *testing.T) {
	w := newTestWatcher(t)
	w.debounce = time.Millisecond
	touch(t, w, "builder/done.flag")

	first := w.Scan()
	require.Len(t, first, 1)
	time.Sleep(5 * time.Millisecond)
	second := w.Scan()
	require.Len(t, second, 1)

	// Identical marker for the same file lets the supervisor suppress the
	// replay via the run's last-event record.
	assert.Equal(t, first[0].Marker(), second[0].Marker())
	assert.Equal(t, "builder_done:builder/done.flag", first[0].Marker())
}
