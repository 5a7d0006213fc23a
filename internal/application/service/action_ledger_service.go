package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/action"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// RegisterActionInput carries everything needed to record an intended
// external action before it runs.
type RegisterActionInput struct {
	IdempotencyKey string
	Provider       string
	Action         string
	RunID          string
	PhaseNumber    int
	Payload        map[string]interface{}
	MaxRetries     int
}

// ActionLedgerService manages the durable record of side-effecting
// external calls. Registration is idempotent on the idempotency key,
// and every execution is gated on the payload hash recorded at
// registration time.
type ActionLedgerService struct {
	ledger  repository.ActionLedgerRepository
	storage output.StorageGateway
	tx      output.TransactionManager
	logger  output.Logger
}

// NewActionLedgerService creates an ActionLedgerService. tx may be
// nil, in which case each ledger write is its own implicit transaction.
func NewActionLedgerService(ledger repository.ActionLedgerRepository, storage output.StorageGateway, tx output.TransactionManager, logger output.Logger) *ActionLedgerService {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &ActionLedgerService{
		ledger:  ledger,
		storage: storage,
		tx:      tx,
		logger:  logger,
	}
}

func (s *ActionLedgerService) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTransaction(ctx, fn)
}

// Register records an intended external action. Calling twice with the
// same idempotency key returns the original row unchanged; no second
// row is created.
func (s *ActionLedgerService) Register(ctx context.Context, in RegisterActionInput) (*action.ExternalAction, error) {
	candidate, err := action.NewExternalAction(in.IdempotencyKey, in.Provider, in.Action, in.RunID, in.PhaseNumber, in.Payload, in.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("build action %s: %w", in.IdempotencyKey, err)
	}

	stored, created, err := s.ledger.Register(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("register action %s: %w", in.IdempotencyKey, err)
	}
	if !created {
		s.logger.Debug("action %s already registered, returning existing record", in.IdempotencyKey)
	}
	return stored, nil
}

// Approve binds an approval to an action after re-verifying that the
// payload being approved is the payload that was registered. A hash
// mismatch moves the action to HASH_MISMATCH and is reported.
func (s *ActionLedgerService) Approve(ctx context.Context, idempotencyKey, approvalID string, payload map[string]interface{}) error {
	presentedHash, err := action.HashPayload(payload)
	if err != nil {
		return fmt.Errorf("hash payload for %s: %w", idempotencyKey, err)
	}

	var approveErr error
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		act, err := s.ledger.Find(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		// A mismatch is persisted as HASH_MISMATCH, never rolled back
		approveErr = act.Approve(approvalID, presentedHash)
		if saveErr := s.ledger.Update(ctx, act); saveErr != nil {
			return fmt.Errorf("save action %s: %w", idempotencyKey, saveErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return approveErr
}

// Execute runs the side effect after verifying status and payload hash,
// then records the outcome. A payload that does not hash to the
// registered value never reaches the exec callback.
func (s *ActionLedgerService) Execute(ctx context.Context, idempotencyKey string, payload map[string]interface{}, exec func(ctx context.Context, payload map[string]interface{}) (string, error)) error {
	presentedHash, err := action.HashPayload(payload)
	if err != nil {
		return fmt.Errorf("hash payload for %s: %w", idempotencyKey, err)
	}

	// Claim the action atomically: the hash gate and the EXECUTING
	// transition are one transaction, so two racing callers cannot both
	// reach the side effect.
	var act *action.ExternalAction
	var beginErr error
	claimed := false
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		a, err := s.ledger.Find(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		act = a
		if act.IsCompleted() {
			return nil
		}
		if beginErr = act.BeginExecution(presentedHash); beginErr != nil {
			// A refused claim (hash mismatch, bad status) is still
			// persisted; it is an audit event, not a rollback.
			if saveErr := s.ledger.Update(ctx, act); saveErr != nil {
				return fmt.Errorf("save action %s: %w", idempotencyKey, saveErr)
			}
			return nil
		}
		if err := s.ledger.Update(ctx, act); err != nil {
			return fmt.Errorf("save action %s: %w", idempotencyKey, err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return err
	}
	if beginErr != nil {
		return beginErr
	}
	if !claimed {
		s.logger.Debug("action %s already completed, skipping execution", idempotencyKey)
		return nil
	}

	// The side effect runs outside the claim transaction; a held
	// transaction must never span an external call.
	summary, execErr := exec(ctx, payload)
	if execErr != nil {
		act.Fail(execErr.Error())
		s.logger.Warn("action %s failed: %v", idempotencyKey, execErr)
	} else {
		act.Complete(summary)
		s.logger.Info("action %s completed", idempotencyKey)
	}
	if err := s.ledger.Update(ctx, act); err != nil {
		return fmt.Errorf("save action %s: %w", idempotencyKey, err)
	}
	return execErr
}

// CompleteAction records a completion result for an action whose side
// effect was performed out of band.
func (s *ActionLedgerService) CompleteAction(ctx context.Context, idempotencyKey, responseSummary string) error {
	act, err := s.ledger.Find(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if err := act.Complete(responseSummary); err != nil {
		return err
	}
	if err := s.ledger.Update(ctx, act); err != nil {
		return fmt.Errorf("save action %s: %w", idempotencyKey, err)
	}
	return nil
}

// IsCompleted reports whether the action has already run to completion.
// Unknown actions report false without error.
func (s *ActionLedgerService) IsCompleted(ctx context.Context, idempotencyKey string) (bool, error) {
	act, err := s.ledger.Find(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, model.ErrActionNotFound) {
			return false, nil
		}
		return false, err
	}
	return act.IsCompleted(), nil
}

// Cancel abandons a non-terminal action
func (s *ActionLedgerService) Cancel(ctx context.Context, idempotencyKey, reason string) error {
	act, err := s.ledger.Find(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if err := act.Cancel(reason); err != nil {
		return err
	}
	if err := s.ledger.Update(ctx, act); err != nil {
		return fmt.Errorf("save action %s: %w", idempotencyKey, err)
	}
	return nil
}

// Retry re-queues a FAILED action for another attempt, bounded by the
// per-action retry limit.
func (s *ActionLedgerService) Retry(ctx context.Context, idempotencyKey string) error {
	act, err := s.ledger.Find(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if err := act.Retry(); err != nil {
		return err
	}
	if err := s.ledger.Update(ctx, act); err != nil {
		return fmt.Errorf("save action %s: %w", idempotencyKey, err)
	}
	return nil
}

// exportedAction is the artifact shape written by ExportRunActions
type exportedAction struct {
	IdempotencyKey  string `json:"idempotency_key"`
	Provider        string `json:"provider"`
	Action          string `json:"action"`
	PhaseNumber     int    `json:"phase_number"`
	Status          string `json:"status"`
	PayloadHash     string `json:"payload_hash"`
	RequestSummary  string `json:"request_summary"`
	ResponseSummary string `json:"response_summary,omitempty"`
	RetryCount      int    `json:"retry_count"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ExportRunActions writes an audit snapshot of every action in a run
// to <outputDir>/actions_<run_id>.json and returns the stored path.
func (s *ActionLedgerService) ExportRunActions(ctx context.Context, runID string, outputDir string) (string, error) {
	actions, err := s.ledger.ListByRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("list actions for run %s: %w", runID, err)
	}

	exported := make([]exportedAction, 0, len(actions))
	for _, a := range actions {
		exported = append(exported, exportedAction{
			IdempotencyKey:  a.IdempotencyKey,
			Provider:        a.Provider,
			Action:          a.Action,
			PhaseNumber:     a.PhaseNumber,
			Status:          string(a.Status),
			PayloadHash:     a.PayloadHash,
			RequestSummary:  a.RequestSummary,
			ResponseSummary: a.ResponseSummary,
			RetryCount:      a.RetryCount,
			ErrorMessage:    a.ErrorMessage,
			CreatedAt:       a.CreatedAt.Format(time.RFC3339),
			UpdatedAt:       a.UpdatedAt.Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal actions for run %s: %w", runID, err)
	}

	relPath := filepath.Join(outputDir, fmt.Sprintf("actions_%s.json", runID))
	path, err := s.storage.SaveArtifact(ctx, relPath, data)
	if err != nil {
		return "", fmt.Errorf("save action export: %w", err)
	}
	s.logger.Info("exported %d action(s) for run %s to %s", len(exported), runID, path)
	return path, nil
}
