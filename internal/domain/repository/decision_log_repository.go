package repository

import (
	"context"

	"github.com/hshk99/autopack/internal/domain/model/decision"
)

// DecisionLogRecord is the persisted audit entry for one executed
// decision, written after the pipeline finishes regardless of outcome.
type DecisionLogRecord struct {
	RunID     string                    `json:"run_id"`
	Decision  *decision.Decision        `json:"decision"`
	Result    *decision.ExecutionResult `json:"result"`
	Timestamp string                    `json:"timestamp"`
}

// DecisionLogRepository persists decision audit records, one document
// per decision. Writes are best-effort from the executor's point of
// view: a failed log write never fails the execution.
type DecisionLogRepository interface {
	Save(ctx context.Context, record *DecisionLogRecord) error
	Find(ctx context.Context, runID, decisionID string) (*DecisionLogRecord, error)
	ListByRun(ctx context.Context, runID string) ([]*DecisionLogRecord, error)
}
