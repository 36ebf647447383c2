package runstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorpe/conveyor/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "runs"))
}

func createRun(t *testing.T, s *Store) *domain.Run {
	t.Helper()
	run := domain.NewRun("test objective", 3)
	require.NoError(t, s.Create(run))
	return run
}

func TestCreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	got, ok := s.Load(run.ID)
	require.True(t, ok)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, domain.PhaseRefine, got.Phase)
	assert.Equal(t, 1, got.Iteration)
	assert.Len(t, got.Workers, 4)

	// Layout: crp/, vcr/, and one directory per worker.
	for _, sub := range []string{"crp", "vcr", "refiner", "builder", "verifier", "gatekeeper"} {
		info, err := os.Stat(filepath.Join(s.RunDir(run.ID), sub))
		require.NoError(t, err, "missing %s", sub)
		assert.True(t, info.IsDir())
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	err := s.Create(run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunExists)
}

func TestLoadMissingRun(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Load("01jabc0000000000000000nope")
	assert.False(t, ok)
}

func TestLoadCorruptStateReportsAbsent(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	path := filepath.Join(s.RunDir(run.ID), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, ok := s.Load(run.ID)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, ok = s.Load(run.ID)
	assert.False(t, ok)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(run))
	}

	entries, err := os.ReadDir(s.RunDir(run.ID))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestMutateMissingRun(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Mutate("missing", func(run *domain.Run) error { return nil })
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestUpdateWorkerStatusTimestamps(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	require.NoError(t, s.UpdateWorkerStatus(run.ID, domain.WorkerBuilder, domain.StatusRunning, ""))
	got, ok := s.Load(run.ID)
	require.True(t, ok)
	slot := got.Worker(domain.WorkerBuilder)
	assert.Equal(t, domain.StatusRunning, slot.Status)
	require.NotNil(t, slot.StartedAt)
	assert.Nil(t, slot.CompletedAt)

	require.NoError(t, s.UpdateWorkerStatus(run.ID, domain.WorkerBuilder, domain.StatusCompleted, ""))
	got, ok = s.Load(run.ID)
	require.True(t, ok)
	slot = got.Worker(domain.WorkerBuilder)
	require.NotNil(t, slot.CompletedAt)

	require.NoError(t, s.UpdateWorkerStatus(run.ID, domain.WorkerVerifier, domain.StatusFailed, "exit status 1"))
	got, _ = s.Load(run.ID)
	assert.Equal(t, "exit status 1", got.Worker(domain.WorkerVerifier).LastError)
}

func TestIncrementIterationResetsDownstreamSlots(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	// Mark every worker as having run.
	for _, w := range domain.Workers {
		require.NoError(t, s.UpdateWorkerStatus(run.ID, w, domain.StatusCompleted, ""))
	}

	n, capReached, err := s.IncrementIteration(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, capReached)

	got, ok := s.Load(run.ID)
	require.True(t, ok)
	// The refiner's work is never redone.
	assert.Equal(t, domain.StatusCompleted, got.Worker(domain.WorkerRefiner).Status)
	for _, w := range []domain.WorkerName{domain.WorkerBuilder, domain.WorkerVerifier, domain.WorkerGatekeeper} {
		assert.Equal(t, domain.StatusPending, got.Worker(w).Status, "worker %s", w)
	}
}

func TestIncrementIterationCap(t *testing.T) {
	s := newTestStore(t)
	run := domain.NewRun("cap", 2)
	require.NoError(t, s.Create(run))

	n, capReached, err := s.IncrementIteration(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, capReached)
}

func TestListSortedChronologically(t *testing.T) {
	s := newTestStore(t)
	a := createRun(t, s)
	b := createRun(t, s)
	c := createRun(t, s)

	// A directory with no readable state must be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "stray"), 0o755))

	runs, err := s.List()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, a.ID, runs[0].ID)
	assert.Equal(t, b.ID, runs[1].ID)
	assert.Equal(t, c.ID, runs[2].ID)
}

func TestListEmptyRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	runs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	require.NoError(t, s.Delete(run.ID))
	_, ok := s.Load(run.ID)
	assert.False(t, ok)
	_, err := os.Stat(s.RunDir(run.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestSetLastEvent(t *testing.T) {
	s := newTestStore(t)
	run := createRun(t, s)

	require.NoError(t, s.SetLastEvent(run.ID, "worker_done:builder/done.flag"))
	got, ok := s.Load(run.ID)
	require.True(t, ok)
	assert.Equal(t, "worker_done:builder/done.flag", got.LastEvent)
}
