package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers
var (
	// ErrSavePointFailed indicates a save point could not be created;
	// no patch may be applied without one.
	ErrSavePointFailed = errors.New("save point creation failed")

	// ErrTerminalPhase indicates an attempt to resurrect a COMPLETE or
	// FAILED phase.
	ErrTerminalPhase = errors.New("phase is in a terminal state")

	// ErrActionNotFound indicates a ledger lookup for an unknown
	// idempotency key.
	ErrActionNotFound = errors.New("external action not found")

	// ErrApprovalExpired indicates a dry-run approval past its expiry.
	ErrApprovalExpired = errors.New("approval has expired")
)

// BudgetExhaustedError is raised by the autonomous loop when cumulative
// token usage reaches the configured run cap. It propagates immediately;
// no further status queries or context loads may happen once raised.
type BudgetExhaustedError struct {
	TokensUsed int
	TokenCap   int
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("run token budget exhausted: %d tokens used, cap is %d", e.TokensUsed, e.TokenCap)
}

// RunNotFoundError indicates the backing store has no record of the run.
// This is fatal to the run; transient store errors are not.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found in backing store: %s", e.RunID)
}

// HashMismatchError indicates the payload presented at execution or
// approval time does not hash to the value recorded earlier. It protects
// against approving one payload and silently executing another.
type HashMismatchError struct {
	IdempotencyKey string
	StoredHash     string
	PresentedHash  string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("payload hash mismatch for %s: stored %s, presented %s",
		e.IdempotencyKey, e.StoredHash, e.PresentedHash)
}
