package model

import (
	"errors"
	"fmt"
	"time"
)

// RunID identifies one autonomous build run.
type RunID struct {
	value string
}

// NewRunID creates a RunID from a string
func NewRunID(id string) (RunID, error) {
	if id == "" {
		return RunID{}, errors.New("run ID cannot be empty")
	}
	return RunID{value: id}, nil
}

// String returns the string representation
func (r RunID) String() string {
	return r.value
}

// Equals checks if two RunIDs are equal
func (r RunID) Equals(other RunID) bool {
	return r.value == other.value
}

// PhaseID identifies a phase within a run
type PhaseID struct {
	value string
}

// NewPhaseID creates a PhaseID from a string
func NewPhaseID(id string) (PhaseID, error) {
	if id == "" {
		return PhaseID{}, errors.New("phase ID cannot be empty")
	}
	return PhaseID{value: id}, nil
}

// String returns the string representation
func (p PhaseID) String() string {
	return p.value
}

// Equals checks if two PhaseIDs are equal
func (p PhaseID) Equals(other PhaseID) bool {
	return p.value == other.value
}

// PhaseState represents the lifecycle state of a phase
type PhaseState string

const (
	PhaseQueued    PhaseState = "QUEUED"
	PhaseExecuting PhaseState = "EXECUTING"
	PhaseComplete  PhaseState = "COMPLETE"
	PhaseFailed    PhaseState = "FAILED"
)

// String returns the string representation
func (s PhaseState) String() string {
	return string(s)
}

// IsValid validates the phase state
func (s PhaseState) IsValid() bool {
	switch s {
	case PhaseQueued, PhaseExecuting, PhaseComplete, PhaseFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is COMPLETE or FAILED
func (s PhaseState) IsTerminal() bool {
	return s == PhaseComplete || s == PhaseFailed
}

// CanTransitionTo checks if a state transition is valid.
// The only backward edge is EXECUTING -> QUEUED, used by stale-phase
// recovery after a crash; terminal states accept no transitions.
func (s PhaseState) CanTransitionTo(next PhaseState) bool {
	validTransitions := map[PhaseState][]PhaseState{
		PhaseQueued:    {PhaseExecuting},
		PhaseExecuting: {PhaseComplete, PhaseFailed, PhaseQueued},
		PhaseComplete:  {},
		PhaseFailed:    {},
	}

	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, allowedState := range allowed {
		if allowedState == next {
			return true
		}
	}
	return false
}

// Counter is a monotonic progress counter (retry attempts, revision
// epochs, escalation levels). It never decreases within a phase's lifetime.
type Counter struct {
	value int
}

// NewCounter creates a zero-valued counter
func NewCounter() Counter {
	return Counter{value: 0}
}

// NewCounterFromInt creates a Counter from an integer value
func NewCounterFromInt(value int) (Counter, error) {
	if value < 0 {
		return Counter{}, errors.New("counter value must not be negative")
	}
	return Counter{value: value}, nil
}

// Value returns the integer value
func (c Counter) Value() int {
	return c.value
}

// Increment returns a new Counter with incremented value
func (c Counter) Increment() Counter {
	return Counter{value: c.value + 1}
}

// Equals checks if two Counters are equal
func (c Counter) Equals(other Counter) bool {
	return c.value == other.value
}

// String returns the string representation
func (c Counter) String() string {
	return fmt.Sprintf("%d", c.value)
}

// Timestamp represents a point in time
type Timestamp struct {
	value time.Time
}

// NewTimestamp creates a new Timestamp with current time
func NewTimestamp() Timestamp {
	return Timestamp{value: time.Now()}
}

// NewTimestampFromTime creates a Timestamp from a time.Time value
func NewTimestampFromTime(t time.Time) Timestamp {
	return Timestamp{value: t}
}

// Value returns the time.Time value
func (t Timestamp) Value() time.Time {
	return t.value
}

// IsZero reports whether the timestamp is unset
func (t Timestamp) IsZero() bool {
	return t.value.IsZero()
}

// Before checks if this timestamp is before another
func (t Timestamp) Before(other Timestamp) bool {
	return t.value.Before(other.value)
}

// String returns the string representation
func (t Timestamp) String() string {
	return t.value.Format(time.RFC3339)
}
