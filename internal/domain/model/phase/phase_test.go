package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hshk99/autopack/internal/domain/model"
)

func newTestPhase(t *testing.T) *Phase {
	t.Helper()
	runID, err := model.NewRunID("run-001")
	require.NoError(t, err)
	phaseID, err := model.NewPhaseID("phase-1")
	require.NoError(t, err)
	return NewPhase(runID, phaseID)
}

func TestNewPhase_Defaults(t *testing.T) {
	p := newTestPhase(t)

	assert.Equal(t, model.PhaseQueued, p.State())
	assert.Equal(t, 0, p.RetryAttempt().Value())
	assert.Equal(t, 0, p.RevisionEpoch().Value())
	assert.Equal(t, 0, p.EscalationLevel().Value())
	assert.Empty(t, p.LastFailureReason())
	assert.True(t, p.CompletedAt().IsZero())
}

func TestPhase_CountersAreIndependent(t *testing.T) {
	p := newTestPhase(t)

	p.IncrementRetry()
	p.IncrementRetry()
	assert.Equal(t, 2, p.RetryAttempt().Value())
	assert.Equal(t, 0, p.RevisionEpoch().Value())
	assert.Equal(t, 0, p.EscalationLevel().Value())

	p.IncrementEpoch()
	assert.Equal(t, 2, p.RetryAttempt().Value())
	assert.Equal(t, 1, p.RevisionEpoch().Value())
	assert.Equal(t, 0, p.EscalationLevel().Value())

	p.IncrementEscalation()
	assert.Equal(t, 2, p.RetryAttempt().Value())
	assert.Equal(t, 1, p.RevisionEpoch().Value())
	assert.Equal(t, 1, p.EscalationLevel().Value())
}

func TestPhase_TerminalStatesAcceptNoTransitions(t *testing.T) {
	p := newTestPhase(t)
	require.NoError(t, p.TransitionTo(model.PhaseExecuting))
	require.NoError(t, p.TransitionTo(model.PhaseComplete))
	assert.False(t, p.CompletedAt().IsZero())

	err := p.TransitionTo(model.PhaseExecuting)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTerminalPhase)

	err = p.TransitionTo(model.PhaseFailed)
	assert.ErrorIs(t, err, model.ErrTerminalPhase)
}

func TestPhase_InvalidTransitionRejected(t *testing.T) {
	p := newTestPhase(t)
	// QUEUED cannot jump straight to COMPLETE
	err := p.TransitionTo(model.PhaseComplete)
	assert.Error(t, err)
	assert.Equal(t, model.PhaseQueued, p.State())
}

func TestPhase_RecordFailure(t *testing.T) {
	p := newTestPhase(t)
	p.RecordFailure("patch does not apply")

	assert.Equal(t, "patch does not apply", p.LastFailureReason())
	assert.False(t, p.LastAttemptAt().IsZero())

	// A later failure replaces the reason
	p.RecordFailure("timeout")
	assert.Equal(t, "timeout", p.LastFailureReason())
}

func TestPhase_StaleDetectionAndReset(t *testing.T) {
	p := newTestPhase(t)
	require.NoError(t, p.TransitionTo(model.PhaseExecuting))
	p.IncrementRetry()
	p.RecordFailure("ci_fail")

	now := time.Now().Add(20 * time.Minute)
	assert.True(t, p.IsStale(10*time.Minute, now))
	assert.False(t, p.IsStale(30*time.Minute, now))

	require.NoError(t, p.ResetToQueued())
	assert.Equal(t, model.PhaseQueued, p.State())

	// Counters and failure reason survive reclamation
	assert.Equal(t, 1, p.RetryAttempt().Value())
	assert.Equal(t, "ci_fail", p.LastFailureReason())
}

func TestPhase_ResetOnlyFromExecuting(t *testing.T) {
	p := newTestPhase(t)
	assert.Error(t, p.ResetToQueued())

	require.NoError(t, p.TransitionTo(model.PhaseExecuting))
	require.NoError(t, p.TransitionTo(model.PhaseFailed))
	assert.Error(t, p.ResetToQueued())
}

func TestPhase_QueuedPhaseIsNeverStale(t *testing.T) {
	p := newTestPhase(t)
	now := time.Now().Add(24 * time.Hour)
	assert.False(t, p.IsStale(time.Minute, now))
}

func TestReconstructPhase_RoundTrip(t *testing.T) {
	runID, _ := model.NewRunID("run-001")
	phaseID, _ := model.NewPhaseID("phase-9")
	retry, _ := model.NewCounterFromInt(3)
	epoch, _ := model.NewCounterFromInt(1)
	esc, _ := model.NewCounterFromInt(2)
	now := time.Now().UTC()

	p := ReconstructPhase(runID, phaseID, model.PhaseExecuting, retry, epoch, esc,
		"deps missing", now, time.Time{}, now.Add(-time.Hour), now)

	snap := p.Snapshot()
	assert.Equal(t, "run-001", snap.RunID)
	assert.Equal(t, "phase-9", snap.PhaseID)
	assert.Equal(t, model.PhaseExecuting, snap.State)
	assert.Equal(t, 3, snap.RetryAttempt)
	assert.Equal(t, 1, snap.RevisionEpoch)
	assert.Equal(t, 2, snap.EscalationLevel)
	assert.Equal(t, "deps missing", snap.LastFailureReason)
}
