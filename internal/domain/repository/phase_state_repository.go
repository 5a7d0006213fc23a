package repository

import (
	"context"
	"time"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/phase"
)

// PhaseFilter narrows phase queries
type PhaseFilter struct {
	RunID  *model.RunID
	States []model.PhaseState
	Limit  int
}

// PhaseStateRepository persists per-phase progress records.
// All mutating operations execute as a single local transaction:
// a failed write leaves no partial counter update behind.
type PhaseStateRepository interface {
	// Find retrieves a phase; returns (nil, nil) when the phase does
	// not exist so callers can degrade gracefully.
	Find(ctx context.Context, phaseID model.PhaseID) (*phase.Phase, error)

	// Save upserts a phase record
	Save(ctx context.Context, p *phase.Phase) error

	// List retrieves phases matching a filter, oldest first
	List(ctx context.Context, filter PhaseFilter) ([]*phase.Phase, error)

	// NextQueued returns the oldest QUEUED phase for a run, or nil
	NextQueued(ctx context.Context, runID model.RunID) (*phase.Phase, error)

	// ResetStale reclaims EXECUTING phases older than the staleness
	// timeout back to QUEUED and returns how many were reset.
	ResetStale(ctx context.Context, timeout time.Duration) (int, error)
}
