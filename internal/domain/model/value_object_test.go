package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID_Validation(t *testing.T) {
	id, err := NewRunID("run-001")
	require.NoError(t, err)
	assert.Equal(t, "run-001", id.String())

	_, err = NewRunID("")
	assert.Error(t, err)
}

func TestPhaseState_Transitions(t *testing.T) {
	// Forward edges
	assert.True(t, PhaseQueued.CanTransitionTo(PhaseExecuting))
	assert.True(t, PhaseExecuting.CanTransitionTo(PhaseComplete))
	assert.True(t, PhaseExecuting.CanTransitionTo(PhaseFailed))

	// The only backward edge is stale-phase recovery
	assert.True(t, PhaseExecuting.CanTransitionTo(PhaseQueued))
	assert.False(t, PhaseComplete.CanTransitionTo(PhaseQueued))
	assert.False(t, PhaseFailed.CanTransitionTo(PhaseQueued))

	// Terminal states accept nothing
	assert.False(t, PhaseComplete.CanTransitionTo(PhaseExecuting))
	assert.False(t, PhaseFailed.CanTransitionTo(PhaseExecuting))
	assert.False(t, PhaseComplete.CanTransitionTo(PhaseFailed))

	assert.False(t, PhaseQueued.CanTransitionTo(PhaseComplete))
}

func TestPhaseState_IsTerminal(t *testing.T) {
	assert.False(t, PhaseQueued.IsTerminal())
	assert.False(t, PhaseExecuting.IsTerminal())
	assert.True(t, PhaseComplete.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
}

func TestCounter_Increment(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, 0, c.Value())

	c2 := c.Increment()
	assert.Equal(t, 1, c2.Value())
	// Counters are values; the original is untouched
	assert.Equal(t, 0, c.Value())

	_, err := NewCounterFromInt(-1)
	assert.Error(t, err)

	c3, err := NewCounterFromInt(7)
	require.NoError(t, err)
	assert.Equal(t, 7, c3.Value())
}

func TestBudgetExhaustedError_MessageContainsBothNumbers(t *testing.T) {
	err := &BudgetExhaustedError{TokensUsed: 60000, TokenCap: 50000}
	assert.Contains(t, err.Error(), "60000")
	assert.Contains(t, err.Error(), "50000")
}
