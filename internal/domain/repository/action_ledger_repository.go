package repository

import (
	"context"

	"github.com/hshk99/autopack/internal/domain/model/action"
)

// ActionLedgerRepository persists the append-only external action
// ledger. Registration is idempotent on the key: inserting an existing
// key returns the stored row instead of creating a duplicate.
type ActionLedgerRepository interface {
	// Register inserts a new action or returns the existing row for
	// the same idempotency key. The bool reports whether a new row was
	// created.
	Register(ctx context.Context, a *action.ExternalAction) (*action.ExternalAction, bool, error)

	// Find retrieves an action by idempotency key; returns
	// model.ErrActionNotFound when absent.
	Find(ctx context.Context, idempotencyKey string) (*action.ExternalAction, error)

	// Update persists status/counter mutations of an existing row
	Update(ctx context.Context, a *action.ExternalAction) error

	// ListByRun retrieves all actions recorded for a run, oldest first
	ListByRun(ctx context.Context, runID string) ([]*action.ExternalAction, error)

	// Count returns the total number of ledger rows
	Count(ctx context.Context) (int, error)
}
