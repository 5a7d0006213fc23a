package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hshk99/autopack/internal/domain/model"
)

// DryRunResult is the planning half of a plan/approve pair. It records
// the payload hash the operator saw when the plan was produced.
type DryRunResult struct {
	PlanID      string
	Provider    string
	Action      string
	PayloadHash string
	Summary     string
	PlannedAt   time.Time
}

// NewDryRunResult captures a plan for a payload
func NewDryRunResult(provider, actionName string, payload map[string]interface{}, summary string) (*DryRunResult, error) {
	hash, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}
	return &DryRunResult{
		PlanID:      uuid.New().String(),
		Provider:    provider,
		Action:      actionName,
		PayloadHash: hash,
		Summary:     summary,
		PlannedAt:   time.Now().UTC(),
	}, nil
}

// DryRunApproval binds an approval to the hash recorded at plan time
// and carries an expiry after which it is void.
type DryRunApproval struct {
	ApprovalID  string
	PlanID      string
	PayloadHash string
	ApprovedBy  string
	ApprovedAt  time.Time
	ExpiresAt   time.Time
}

// Approve issues an approval for a dry-run plan with the given lifetime
func (r *DryRunResult) Approve(approvedBy string, lifetime time.Duration) *DryRunApproval {
	now := time.Now().UTC()
	return &DryRunApproval{
		ApprovalID:  uuid.New().String(),
		PlanID:      r.PlanID,
		PayloadHash: r.PayloadHash,
		ApprovedBy:  approvedBy,
		ApprovedAt:  now,
		ExpiresAt:   now.Add(lifetime),
	}
}

// AuthorizeExecution checks that the approval still stands for the
// payload about to be executed: the hash at execution time must match
// the hash at approval time, and the approval must not have expired.
func (ap *DryRunApproval) AuthorizeExecution(payload map[string]interface{}, now time.Time) error {
	if now.After(ap.ExpiresAt) {
		return fmt.Errorf("%w: approval %s expired at %s", model.ErrApprovalExpired, ap.ApprovalID, ap.ExpiresAt.Format(time.RFC3339))
	}

	hash, err := HashPayload(payload)
	if err != nil {
		return err
	}
	if hash != ap.PayloadHash {
		return &model.HashMismatchError{
			IdempotencyKey: ap.PlanID,
			StoredHash:     ap.PayloadHash,
			PresentedHash:  hash,
		}
	}
	return nil
}
