package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/action"
	"github.com/hshk99/autopack/internal/domain/repository"
	"github.com/hshk99/autopack/internal/infrastructure/transaction"
)

// ActionLedgerRepositoryImpl implements repository.ActionLedgerRepository with SQLite
type ActionLedgerRepositoryImpl struct {
	db *sql.DB
}

// NewActionLedgerRepository creates a new SQLite-based action ledger repository
func NewActionLedgerRepository(db *sql.DB) repository.ActionLedgerRepository {
	return &ActionLedgerRepositoryImpl{db: db}
}

// getDB returns the appropriate database executor from context
func (r *ActionLedgerRepositoryImpl) getDB(ctx context.Context) dbExecutor {
	if tx, ok := transaction.GetTxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

const actionColumns = `idempotency_key, payload_hash, provider, action, run_id, phase_number,
	approval_id, status, retry_count, max_retries, request_summary, response_summary,
	error_message, created_at, updated_at`

// Register inserts a new action. A primary-key collision means the key
// is already registered: the stored row is returned unchanged and the
// caller's candidate is discarded. That property makes "register, maybe
// crash, restart, register again" safe.
func (r *ActionLedgerRepositoryImpl) Register(ctx context.Context, a *action.ExternalAction) (*action.ExternalAction, bool, error) {
	db := r.getDB(ctx)

	query := fmt.Sprintf(`INSERT INTO external_actions (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, actionColumns)
	_, err := db.ExecContext(ctx, query,
		a.IdempotencyKey,
		a.PayloadHash,
		a.Provider,
		a.Action,
		a.RunID,
		a.PhaseNumber,
		nullableString(a.ApprovalID),
		string(a.Status),
		a.RetryCount,
		a.MaxRetries,
		a.RequestSummary,
		nullableString(a.ResponseSummary),
		nullableString(a.ErrorMessage),
		a.CreatedAt.UTC().Format(storedTimeLayout),
		a.UpdatedAt.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, findErr := r.Find(ctx, a.IdempotencyKey)
			if findErr != nil {
				return nil, false, fmt.Errorf("load existing action %s: %w", a.IdempotencyKey, findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("register action %s: %w", a.IdempotencyKey, err)
	}
	return a, true, nil
}

// Find retrieves an action by idempotency key
func (r *ActionLedgerRepositoryImpl) Find(ctx context.Context, idempotencyKey string) (*action.ExternalAction, error) {
	db := r.getDB(ctx)
	query := fmt.Sprintf(`SELECT %s FROM external_actions WHERE idempotency_key = ?`, actionColumns)

	row := db.QueryRowContext(ctx, query, idempotencyKey)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find action %s: %w", idempotencyKey, err)
	}
	return a, nil
}

// Update persists status and counter mutations of an existing row
func (r *ActionLedgerRepositoryImpl) Update(ctx context.Context, a *action.ExternalAction) error {
	db := r.getDB(ctx)

	result, err := db.ExecContext(ctx, `
		UPDATE external_actions
		SET approval_id = ?, status = ?, retry_count = ?, response_summary = ?,
			error_message = ?, updated_at = ?
		WHERE idempotency_key = ?
	`,
		nullableString(a.ApprovalID),
		string(a.Status),
		a.RetryCount,
		nullableString(a.ResponseSummary),
		nullableString(a.ErrorMessage),
		a.UpdatedAt.UTC().Format(storedTimeLayout),
		a.IdempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("update action %s: %w", a.IdempotencyKey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrActionNotFound
	}
	return nil
}

// ListByRun retrieves all actions recorded for a run, oldest first
func (r *ActionLedgerRepositoryImpl) ListByRun(ctx context.Context, runID string) ([]*action.ExternalAction, error) {
	db := r.getDB(ctx)
	query := fmt.Sprintf(`SELECT %s FROM external_actions WHERE run_id = ? ORDER BY created_at ASC`, actionColumns)

	rows, err := db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list actions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var actions []*action.ExternalAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Count returns the total number of ledger rows
func (r *ActionLedgerRepositoryImpl) Count(ctx context.Context) (int, error) {
	db := r.getDB(ctx)
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM external_actions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return count, nil
}

func scanAction(row rowScanner) (*action.ExternalAction, error) {
	var (
		a                                       action.ExternalAction
		statusStr                               string
		approvalID, responseSummary, errMessage sql.NullString
		createdAt, updatedAt                    string
	)

	if err := row.Scan(&a.IdempotencyKey, &a.PayloadHash, &a.Provider, &a.Action, &a.RunID,
		&a.PhaseNumber, &approvalID, &statusStr, &a.RetryCount, &a.MaxRetries,
		&a.RequestSummary, &responseSummary, &errMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.Status = action.Status(statusStr)
	a.ApprovalID = approvalID.String
	a.ResponseSummary = responseSummary.String
	a.ErrorMessage = errMessage.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// isUniqueConstraintError reports whether an error is a SQLite
// uniqueness violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
