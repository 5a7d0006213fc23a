package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/phase"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// StateUpdateRequest describes one atomic phase-state mutation. Any
// combination of increments may be set; counters are independent and
// incrementing one never resets another.
type StateUpdateRequest struct {
	IncrementRetry      bool
	IncrementEpoch      bool
	IncrementEscalation bool
	FailureReason       *string // replacement value; nil leaves it untouched
	TouchAttempt        bool
}

// PhaseStateManager is the only component allowed to mutate phase
// state directly. Each operation runs inside one store transaction
// when a transaction manager is configured; a failed write is
// reported as false, never partially applied.
type PhaseStateManager struct {
	phaseRepo repository.PhaseStateRepository
	tx        output.TransactionManager
	logger    output.Logger
}

// NewPhaseStateManager creates a PhaseStateManager. tx may be nil, in
// which case each repository call is its own implicit transaction.
func NewPhaseStateManager(phaseRepo repository.PhaseStateRepository, tx output.TransactionManager, logger output.Logger) *PhaseStateManager {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &PhaseStateManager{
		phaseRepo: phaseRepo,
		tx:        tx,
		logger:    logger,
	}
}

func (m *PhaseStateManager) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.tx == nil {
		return fn(ctx)
	}
	return m.tx.InTransaction(ctx, fn)
}

// LoadOrCreateDefault returns the stored snapshot for a phase, or a
// zero-initialized one when the phase is unknown. It never fails for a
// missing phase; that property is what permits crash recovery.
func (m *PhaseStateManager) LoadOrCreateDefault(ctx context.Context, runID model.RunID, phaseID model.PhaseID) (phase.Snapshot, error) {
	var snap phase.Snapshot
	err := m.inTransaction(ctx, func(ctx context.Context) error {
		p, err := m.phaseRepo.Find(ctx, phaseID)
		if err != nil {
			return fmt.Errorf("load phase %s: %w", phaseID, err)
		}
		if p == nil {
			p = phase.NewPhase(runID, phaseID)
			if err := m.phaseRepo.Save(ctx, p); err != nil {
				return fmt.Errorf("create default phase %s: %w", phaseID, err)
			}
			m.logger.Debug("created default state for phase %s", phaseID)
		}
		snap = p.Snapshot()
		return nil
	})
	if err != nil {
		return phase.Snapshot{}, err
	}
	return snap, nil
}

// Update atomically applies a StateUpdateRequest. Returns false (no
// error) when the phase does not exist so callers degrade gracefully.
func (m *PhaseStateManager) Update(ctx context.Context, phaseID model.PhaseID, req StateUpdateRequest) (bool, error) {
	applied := false
	err := m.inTransaction(ctx, func(ctx context.Context) error {
		p, err := m.phaseRepo.Find(ctx, phaseID)
		if err != nil {
			return fmt.Errorf("load phase %s: %w", phaseID, err)
		}
		if p == nil {
			m.logger.Warn("update requested for unknown phase %s", phaseID)
			return nil
		}

		if req.IncrementRetry {
			p.IncrementRetry()
		}
		if req.IncrementEpoch {
			p.IncrementEpoch()
		}
		if req.IncrementEscalation {
			p.IncrementEscalation()
		}
		if req.FailureReason != nil {
			p.RecordFailure(*req.FailureReason)
		} else if req.TouchAttempt {
			p.TouchAttempt()
		}

		if err := m.phaseRepo.Save(ctx, p); err != nil {
			return fmt.Errorf("save phase %s: %w", phaseID, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// MarkExecuting transitions a QUEUED phase to EXECUTING
func (m *PhaseStateManager) MarkExecuting(ctx context.Context, phaseID model.PhaseID) (bool, error) {
	return m.transition(ctx, phaseID, model.PhaseExecuting, "")
}

// MarkComplete transitions a phase to COMPLETE and stamps completed_at.
// Calling on an already-terminal phase succeeds as a no-op write but
// never resurrects a terminal phase.
func (m *PhaseStateManager) MarkComplete(ctx context.Context, phaseID model.PhaseID) (bool, error) {
	return m.transition(ctx, phaseID, model.PhaseComplete, "")
}

// MarkFailed transitions a phase to FAILED with a reason
func (m *PhaseStateManager) MarkFailed(ctx context.Context, phaseID model.PhaseID, reason string) (bool, error) {
	return m.transition(ctx, phaseID, model.PhaseFailed, reason)
}

func (m *PhaseStateManager) transition(ctx context.Context, phaseID model.PhaseID, next model.PhaseState, reason string) (bool, error) {
	applied := false
	err := m.inTransaction(ctx, func(ctx context.Context) error {
		p, err := m.phaseRepo.Find(ctx, phaseID)
		if err != nil {
			return fmt.Errorf("load phase %s: %w", phaseID, err)
		}
		if p == nil {
			return nil
		}

		if p.State().IsTerminal() {
			// Terminal phases stay terminal; the repeated call is a no-op.
			m.logger.Debug("phase %s already terminal (%s), ignoring %s", phaseID, p.State(), next)
			applied = true
			return nil
		}

		if reason != "" {
			p.RecordFailure(reason)
		}
		if err := p.TransitionTo(next); err != nil {
			return err
		}
		if err := m.phaseRepo.Save(ctx, p); err != nil {
			return fmt.Errorf("save phase %s: %w", phaseID, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// ResetStalePhases reclaims EXECUTING phases that have been untouched
// longer than the staleness timeout back to QUEUED. Counters are not
// reset. Returns the number of reclaimed phases.
func (m *PhaseStateManager) ResetStalePhases(ctx context.Context, timeout time.Duration) (int, error) {
	count, err := m.phaseRepo.ResetStale(ctx, timeout)
	if err != nil {
		return 0, fmt.Errorf("reset stale phases: %w", err)
	}
	if count > 0 {
		m.logger.Info("reclaimed %d stale phase(s) back to QUEUED", count)
	}
	return count, nil
}
