package phase

import (
	"fmt"
	"time"

	"github.com/hshk99/autopack/internal/domain/model"
)

// Phase is the unit of work within a run. It owns the progress counters
// the orchestrator ratchets during retries, replans and escalations.
type Phase struct {
	runID   model.RunID
	phaseID model.PhaseID
	state   model.PhaseState

	retryAttempt    model.Counter
	revisionEpoch   model.Counter
	escalationLevel model.Counter

	lastFailureReason string
	lastAttemptAt     model.Timestamp
	completedAt       model.Timestamp

	createdAt model.Timestamp
	updatedAt model.Timestamp
}

// NewPhase creates a QUEUED phase with zeroed counters
func NewPhase(runID model.RunID, phaseID model.PhaseID) *Phase {
	now := model.NewTimestamp()
	return &Phase{
		runID:           runID,
		phaseID:         phaseID,
		state:           model.PhaseQueued,
		retryAttempt:    model.NewCounter(),
		revisionEpoch:   model.NewCounter(),
		escalationLevel: model.NewCounter(),
		createdAt:       now,
		updatedAt:       now,
	}
}

// ReconstructPhase rebuilds a Phase from persisted values
func ReconstructPhase(
	runID model.RunID,
	phaseID model.PhaseID,
	state model.PhaseState,
	retryAttempt, revisionEpoch, escalationLevel model.Counter,
	lastFailureReason string,
	lastAttemptAt, completedAt, createdAt, updatedAt time.Time,
) *Phase {
	return &Phase{
		runID:             runID,
		phaseID:           phaseID,
		state:             state,
		retryAttempt:      retryAttempt,
		revisionEpoch:     revisionEpoch,
		escalationLevel:   escalationLevel,
		lastFailureReason: lastFailureReason,
		lastAttemptAt:     model.NewTimestampFromTime(lastAttemptAt),
		completedAt:       model.NewTimestampFromTime(completedAt),
		createdAt:         model.NewTimestampFromTime(createdAt),
		updatedAt:         model.NewTimestampFromTime(updatedAt),
	}
}

// RunID returns the owning run's ID
func (p *Phase) RunID() model.RunID { return p.runID }

// PhaseID returns the phase's ID
func (p *Phase) PhaseID() model.PhaseID { return p.phaseID }

// State returns the current lifecycle state
func (p *Phase) State() model.PhaseState { return p.state }

// RetryAttempt returns the retry counter
func (p *Phase) RetryAttempt() model.Counter { return p.retryAttempt }

// RevisionEpoch returns the replan counter
func (p *Phase) RevisionEpoch() model.Counter { return p.revisionEpoch }

// EscalationLevel returns the escalation counter
func (p *Phase) EscalationLevel() model.Counter { return p.escalationLevel }

// LastFailureReason returns the most recent failure reason, or ""
func (p *Phase) LastFailureReason() string { return p.lastFailureReason }

// LastAttemptAt returns the timestamp of the most recent attempt
func (p *Phase) LastAttemptAt() model.Timestamp { return p.lastAttemptAt }

// CompletedAt returns the terminal timestamp; zero while non-terminal
func (p *Phase) CompletedAt() model.Timestamp { return p.completedAt }

// CreatedAt returns the creation timestamp
func (p *Phase) CreatedAt() model.Timestamp { return p.createdAt }

// UpdatedAt returns the last mutation timestamp
func (p *Phase) UpdatedAt() model.Timestamp { return p.updatedAt }

// TransitionTo moves the phase to the next state, enforcing the state
// machine. Terminal states are entered exactly once; completedAt is
// stamped iff the next state is terminal.
func (p *Phase) TransitionTo(next model.PhaseState) error {
	if p.state.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", model.ErrTerminalPhase, p.phaseID, p.state)
	}
	if !p.state.CanTransitionTo(next) {
		return fmt.Errorf("invalid phase transition %s -> %s for %s", p.state, next, p.phaseID)
	}

	p.state = next
	p.updatedAt = model.NewTimestamp()
	if next.IsTerminal() {
		p.completedAt = p.updatedAt
	}
	return nil
}

// IncrementRetry ratchets the retry counter
func (p *Phase) IncrementRetry() {
	p.retryAttempt = p.retryAttempt.Increment()
	p.updatedAt = model.NewTimestamp()
}

// IncrementEpoch ratchets the revision epoch (replan)
func (p *Phase) IncrementEpoch() {
	p.revisionEpoch = p.revisionEpoch.Increment()
	p.updatedAt = model.NewTimestamp()
}

// IncrementEscalation ratchets the escalation level
func (p *Phase) IncrementEscalation() {
	p.escalationLevel = p.escalationLevel.Increment()
	p.updatedAt = model.NewTimestamp()
}

// RecordFailure replaces the failure reason and stamps the attempt time
func (p *Phase) RecordFailure(reason string) {
	p.lastFailureReason = reason
	p.lastAttemptAt = model.NewTimestamp()
	p.updatedAt = p.lastAttemptAt
}

// TouchAttempt stamps the attempt timestamp without recording a failure
func (p *Phase) TouchAttempt() {
	p.lastAttemptAt = model.NewTimestamp()
	p.updatedAt = p.lastAttemptAt
}

// IsStale reports whether an EXECUTING phase has not been touched within
// the staleness timeout. Stale phases are reclaimed to QUEUED after a
// crash; their counters are preserved.
func (p *Phase) IsStale(timeout time.Duration, now time.Time) bool {
	if p.state != model.PhaseExecuting {
		return false
	}
	ref := p.lastAttemptAt
	if ref.IsZero() {
		ref = p.updatedAt
	}
	return now.Sub(ref.Value()) > timeout
}

// ResetToQueued reclaims a stale EXECUTING phase back to QUEUED. Counters
// and failure reason survive the reset.
func (p *Phase) ResetToQueued() error {
	if p.state != model.PhaseExecuting {
		return fmt.Errorf("cannot reset phase %s from %s", p.phaseID, p.state)
	}
	p.state = model.PhaseQueued
	p.updatedAt = model.NewTimestamp()
	return nil
}

// Snapshot is a plain-data view of phase progress handed to callers that
// must not mutate the entity.
type Snapshot struct {
	RunID             string
	PhaseID           string
	State             model.PhaseState
	RetryAttempt      int
	RevisionEpoch     int
	EscalationLevel   int
	LastFailureReason string
	LastAttemptAt     time.Time
	CompletedAt       time.Time
}

// Snapshot returns a copy of the phase's observable progress
func (p *Phase) Snapshot() Snapshot {
	return Snapshot{
		RunID:             p.runID.String(),
		PhaseID:           p.phaseID.String(),
		State:             p.state,
		RetryAttempt:      p.retryAttempt.Value(),
		RevisionEpoch:     p.revisionEpoch.Value(),
		EscalationLevel:   p.escalationLevel.Value(),
		LastFailureReason: p.lastFailureReason,
		LastAttemptAt:     p.lastAttemptAt.Value(),
		CompletedAt:       p.completedAt.Value(),
	}
}
