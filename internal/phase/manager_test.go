package phase

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/runstore"
)

func newManager(t *testing.T) (*Manager, *runstore.Store) {
	t.Helper()
	store := runstore.New(filepath.Join(t.TempDir(), "runs"))
	return NewManager(store, events.NewBus()), store
}

func seedRun(t *testing.T, store *runstore.Store, phase domain.Phase) *domain.Run {
	t.Helper()
	run := domain.NewRun("objective", 3)
	run.Phase = phase
	require.NoError(t, store.Create(run))
	return run
}

func TestTransitionTableExhaustive(t *testing.T) {
	allowed := map[domain.Phase]map[domain.Phase]bool{
		domain.PhaseRefine:        {domain.PhaseBuild: true, domain.PhaseWaitingHuman: true},
		domain.PhaseBuild:         {domain.PhaseVerify: true},
		domain.PhaseVerify:        {domain.PhaseGate: true},
		domain.PhaseGate:          {domain.PhaseReadyForMerge: true, domain.PhaseBuild: true, domain.PhaseFailed: true},
		domain.PhaseWaitingHuman:  {domain.PhaseRefine: true, domain.PhaseBuild: true},
		domain.PhaseReadyForMerge: {domain.PhaseCompleted: true},
		domain.PhaseCompleted:     {},
		domain.PhaseFailed:        {},
	}

	// Every (from, to) pair across all eight phases must agree with the table.
	for _, from := range domain.Phases {
		for _, to := range domain.Phases {
			want := allowed[from][to]
			assert.Equal(t, want, Allowed(from, to), "%s -> %s", from, to)
		}
	}

	// The exported copy of the table carries exactly the same edges, and
	// mutating it does not leak back into the real table.
	edges := Edges()
	require.Len(t, edges, len(allowed))
	for from, tos := range edges {
		assert.Len(t, tos, len(allowed[from]), "edge count for %s", from)
		for _, to := range tos {
			assert.True(t, allowed[from][to], "%s -> %s", from, to)
		}
	}
	edges[domain.PhaseCompleted] = append(edges[domain.PhaseCompleted], domain.PhaseRefine)
	assert.False(t, Allowed(domain.PhaseCompleted, domain.PhaseRefine))
}

func TestTransitionRejectedLeavesStateUntouched(t *testing.T) {
	m, store := newManager(t)
	run := seedRun(t, store, domain.PhaseRefine)

	ok, err := m.Transition(run.ID, domain.PhaseGate)
	require.NoError(t, err)
	assert.False(t, ok)

	got, found := store.Load(run.ID)
	require.True(t, found)
	assert.Equal(t, domain.PhaseRefine, got.Phase)
	assert.Empty(t, got.History)
}

func TestTransitionAppendsHistory(t *testing.T) {
	m, store := newManager(t)
	run := seedRun(t, store, domain.PhaseRefine)

	ok, err := m.Transition(run.ID, domain.PhaseBuild)
	require.NoError(t, err)
	require.True(t, ok)

	got, found := store.Load(run.ID)
	require.True(t, found)
	assert.Equal(t, domain.PhaseBuild, got.Phase)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.PhaseRefine, got.History[0].Phase)
	assert.Equal(t, "completed", got.History[0].Result)
	assert.False(t, got.History[0].Timestamp.IsZero())
}

func TestTransitionMissingRun(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Transition("missing", domain.PhaseBuild)
	require.Error(t, err)
	assert.True(t, runstore.IsNotFound(err))
}

func TestTerminalPhasesHaveNoEdges(t *testing.T) {
	m, store := newManager(t)
	for _, terminal := range []domain.Phase{domain.PhaseCompleted, domain.PhaseFailed} {
		run := seedRun(t, store, terminal)
		for _, to := range domain.Phases {
			ok, err := m.Transition(run.ID, to)
			require.NoError(t, err)
			assert.False(t, ok, "%s -> %s must be rejected", terminal, to)
		}
	}
}

func TestNextPhaseLinearStages(t *testing.T) {
	m, _ := newManager(t)
	cases := []struct {
		from, want domain.Phase
	}{
		{domain.PhaseRefine, domain.PhaseBuild},
		{domain.PhaseBuild, domain.PhaseVerify},
		{domain.PhaseVerify, domain.PhaseGate},
		{domain.PhaseReadyForMerge, domain.PhaseCompleted},
	}
	for _, tc := range cases {
		run := &domain.Run{Phase: tc.from, Iteration: 1, MaxIterations: 3}
		next, ok, err := m.NextPhase(run, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tc.want, next, "from %s", tc.from)
	}
}

func TestNextPhaseGateVerdicts(t *testing.T) {
	m, _ := newManager(t)

	pass := domain.VerdictPass
	needsHuman := domain.VerdictNeedsHuman
	fail := domain.VerdictFail

	run := &domain.Run{Phase: domain.PhaseGate, Iteration: 1, MaxIterations: 3}
	next, ok, err := m.NextPhase(run, &pass)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseReadyForMerge, next)

	next, ok, err = m.NextPhase(run, &needsHuman)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseWaitingHuman, next)

	// FAIL under the cap reworks; at the cap it fails.
	next, ok, err = m.NextPhase(run, &fail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseBuild, next)

	run.Iteration = 3
	next, ok, err = m.NextPhase(run, &fail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseFailed, next)
}

func TestNextPhaseGateFailCapProperty(t *testing.T) {
	m, _ := newManager(t)
	fail := domain.VerdictFail

	for max := 1; max <= 5; max++ {
		for iter := 1; iter <= max+1; iter++ {
			run := &domain.Run{Phase: domain.PhaseGate, Iteration: iter, MaxIterations: max}
			next, ok, err := m.NextPhase(run, &fail)
			require.NoError(t, err)
			require.True(t, ok)
			if iter < max {
				assert.Equal(t, domain.PhaseBuild, next, "iter=%d max=%d", iter, max)
			} else {
				assert.Equal(t, domain.PhaseFailed, next, "iter=%d max=%d", iter, max)
			}
		}
	}
}

func TestNextPhaseGateRequiresVerdict(t *testing.T) {
	m, _ := newManager(t)
	run := &domain.Run{Phase: domain.PhaseGate, Iteration: 1, MaxIterations: 3}

	_, _, err := m.NextPhase(run, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidVerdict))

	bogus := domain.GateVerdict("SHRUG")
	_, _, err = m.NextPhase(run, &bogus)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidVerdict))
}

func TestNextPhaseNoSuccessor(t *testing.T) {
	m, _ := newManager(t)
	for _, p := range []domain.Phase{domain.PhaseCompleted, domain.PhaseFailed, domain.PhaseWaitingHuman} {
		run := &domain.Run{Phase: p, Iteration: 1, MaxIterations: 3}
		_, ok, err := m.NextPhase(run, nil)
		require.NoError(t, err)
		assert.False(t, ok, "phase %s", p)
	}
}

func TestSetPendingConsultationForcesWaitingHuman(t *testing.T) {
	m, store := newManager(t)
	run := seedRun(t, store, domain.PhaseBuild)

	require.NoError(t, m.SetPendingConsultation(run.ID, "crp-123"))
	got, found := store.Load(run.ID)
	require.True(t, found)
	assert.Equal(t, domain.PhaseWaitingHuman, got.Phase)
	assert.Equal(t, "crp-123", got.PendingConsultationID)

	// Clearing the id never changes phase.
	require.NoError(t, m.SetPendingConsultation(run.ID, ""))
	got, found = store.Load(run.ID)
	require.True(t, found)
	assert.Equal(t, domain.PhaseWaitingHuman, got.Phase)
	assert.Empty(t, got.PendingConsultationID)
}

func TestForceFailBypassesTable(t *testing.T) {
	m, store := newManager(t)
	run := seedRun(t, store, domain.PhaseVerify)

	// verify -> failed is not in the table.
	assert.False(t, Allowed(domain.PhaseVerify, domain.PhaseFailed))
	require.NoError(t, m.ForceFail(run.ID, "operator gave up"))

	got, found := store.Load(run.ID)
	require.True(t, found)
	assert.Equal(t, domain.PhaseFailed, got.Phase)
	require.Len(t, got.History, 1)
	assert.Equal(t, "forced_failed", got.History[0].Result)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "operator gave up", got.Errors[0].Message)
}

func TestIncrementIterationThroughManager(t *testing.T) {
	m, store := newManager(t)
	run := seedRun(t, store, domain.PhaseGate)

	n, capReached, err := m.IncrementIteration(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, capReached)

	n, capReached, err = m.IncrementIteration(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, capReached)
}
