package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseValid(t *testing.T) {
	for _, p := range Phases {
		assert.True(t, p.Valid(), "phase %s should be valid", p)
	}
	assert.False(t, Phase("merging").Valid())
	assert.False(t, Phase("").Valid())
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseCompleted.Terminal())
	assert.True(t, PhaseFailed.Terminal())

	// ready_for_merge still has an outgoing edge, so it is not terminal.
	for _, p := range []Phase{PhaseRefine, PhaseBuild, PhaseVerify, PhaseGate, PhaseWaitingHuman, PhaseReadyForMerge} {
		assert.False(t, p.Terminal(), "phase %s should not be terminal", p)
	}
}

func TestWorkerForCoversExactlyActivePhases(t *testing.T) {
	want := map[Phase]WorkerName{
		PhaseRefine: WorkerRefiner,
		PhaseBuild:  WorkerBuilder,
		PhaseVerify: WorkerVerifier,
		PhaseGate:   WorkerGatekeeper,
	}
	for _, p := range Phases {
		w, ok := WorkerFor(p)
		if expected, active := want[p]; active {
			require.True(t, ok, "phase %s should have a worker", p)
			assert.Equal(t, expected, w)
			assert.True(t, p.Active())
		} else {
			assert.False(t, ok, "phase %s should have no worker", p)
			assert.False(t, p.Active())
		}
	}
}

func TestPhaseForRoundTrips(t *testing.T) {
	for _, w := range Workers {
		p, ok := PhaseFor(w)
		require.True(t, ok)
		got, ok := WorkerFor(p)
		require.True(t, ok)
		assert.Equal(t, w, got)
	}
}

func TestNewRunDefaults(t *testing.T) {
	run := NewRun("ship the widget", 3)

	assert.Equal(t, PhaseRefine, run.Phase)
	assert.Equal(t, 1, run.Iteration)
	assert.Equal(t, 3, run.MaxIterations)
	assert.Len(t, run.ID, 26)
	assert.Equal(t, strings.ToLower(run.ID), run.ID)

	require.Len(t, run.Workers, 4)
	for _, w := range Workers {
		require.Contains(t, run.Workers, w)
		assert.Equal(t, StatusPending, run.Workers[w].Status)
	}
}

func TestRunIDsSortChronologically(t *testing.T) {
	a := NewRun("first", 3)
	b := NewRun("second", 3)
	assert.LessOrEqual(t, a.ID, b.ID)
}

func TestWorkerSlotReset(t *testing.T) {
	run := NewRun("x", 3)
	slot := run.Worker(WorkerBuilder)
	slot.Status = StatusFailed
	slot.LastError = "exit status 1"

	slot.Reset()
	assert.Equal(t, StatusPending, slot.Status)
	assert.Empty(t, slot.LastError)
	assert.Nil(t, slot.StartedAt)
	assert.Nil(t, slot.CompletedAt)
}

func TestWorkerCreatesMissingSlot(t *testing.T) {
	run := &Run{}
	slot := run.Worker(WorkerVerifier)
	require.NotNil(t, slot)
	assert.Equal(t, StatusPending, slot.Status)
}
