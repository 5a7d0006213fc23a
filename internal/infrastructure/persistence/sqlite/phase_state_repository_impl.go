package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/phase"
	"github.com/hshk99/autopack/internal/domain/repository"
	"github.com/hshk99/autopack/internal/infrastructure/transaction"
)

// dbExecutor abstracts *sql.DB and *sql.Tx
type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PhaseStateRepositoryImpl implements repository.PhaseStateRepository with SQLite
type PhaseStateRepositoryImpl struct {
	db *sql.DB
}

// NewPhaseStateRepository creates a new SQLite-based phase state repository
func NewPhaseStateRepository(db *sql.DB) repository.PhaseStateRepository {
	return &PhaseStateRepositoryImpl{db: db}
}

// getDB returns the appropriate database executor from context
func (r *PhaseStateRepositoryImpl) getDB(ctx context.Context) dbExecutor {
	if tx, ok := transaction.GetTxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

const phaseColumns = `phase_id, run_id, state, retry_attempt, revision_epoch, escalation_level,
	last_failure_reason, last_attempt_at, completed_at, created_at, updated_at`

// storedTimeLayout is RFC 3339 with a fixed-width nanosecond fraction.
// Timestamps are always stored in UTC, so lexicographic order matches
// chronological order and SQL string comparisons stay correct.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Find retrieves a phase; returns (nil, nil) when the phase is unknown
func (r *PhaseStateRepositoryImpl) Find(ctx context.Context, phaseID model.PhaseID) (*phase.Phase, error) {
	db := r.getDB(ctx)
	query := fmt.Sprintf(`SELECT %s FROM phase_states WHERE phase_id = ?`, phaseColumns)

	row := db.QueryRowContext(ctx, query, phaseID.String())
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find phase %s: %w", phaseID, err)
	}
	return p, nil
}

// Save upserts a phase record
func (r *PhaseStateRepositoryImpl) Save(ctx context.Context, p *phase.Phase) error {
	db := r.getDB(ctx)
	query := `
		INSERT INTO phase_states (phase_id, run_id, state, retry_attempt, revision_epoch, escalation_level,
			last_failure_reason, last_attempt_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phase_id) DO UPDATE SET
			state = excluded.state,
			retry_attempt = excluded.retry_attempt,
			revision_epoch = excluded.revision_epoch,
			escalation_level = excluded.escalation_level,
			last_failure_reason = excluded.last_failure_reason,
			last_attempt_at = excluded.last_attempt_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		p.PhaseID().String(),
		p.RunID().String(),
		string(p.State()),
		p.RetryAttempt().Value(),
		p.RevisionEpoch().Value(),
		p.EscalationLevel().Value(),
		nullableString(p.LastFailureReason()),
		nullableTime(p.LastAttemptAt().Value()),
		nullableTime(p.CompletedAt().Value()),
		p.CreatedAt().Value().UTC().Format(storedTimeLayout),
		p.UpdatedAt().Value().UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("save phase %s: %w", p.PhaseID(), err)
	}
	return nil
}

// List retrieves phases matching a filter, oldest first
func (r *PhaseStateRepositoryImpl) List(ctx context.Context, filter repository.PhaseFilter) ([]*phase.Phase, error) {
	db := r.getDB(ctx)

	query := fmt.Sprintf(`SELECT %s FROM phase_states`, phaseColumns)
	var conditions []string
	var args []interface{}

	if filter.RunID != nil {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID.String())
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, s := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []*phase.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// NextQueued returns the oldest QUEUED phase for a run, or nil
func (r *PhaseStateRepositoryImpl) NextQueued(ctx context.Context, runID model.RunID) (*phase.Phase, error) {
	db := r.getDB(ctx)
	query := fmt.Sprintf(`SELECT %s FROM phase_states
		WHERE run_id = ? AND state = ?
		ORDER BY created_at ASC LIMIT 1`, phaseColumns)

	row := db.QueryRowContext(ctx, query, runID.String(), string(model.PhaseQueued))
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued phase for %s: %w", runID, err)
	}
	return p, nil
}

// ResetStale reclaims EXECUTING phases whose last activity predates the
// staleness timeout back to QUEUED. Counters survive the reset.
func (r *PhaseStateRepositoryImpl) ResetStale(ctx context.Context, timeout time.Duration) (int, error) {
	db := r.getDB(ctx)
	cutoff := time.Now().UTC().Add(-timeout).Format(storedTimeLayout)

	result, err := db.ExecContext(ctx, `
		UPDATE phase_states
		SET state = ?, updated_at = ?
		WHERE state = ? AND COALESCE(last_attempt_at, updated_at) < ?
	`,
		string(model.PhaseQueued),
		time.Now().UTC().Format(storedTimeLayout),
		string(model.PhaseExecuting),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale phases: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPhase(row rowScanner) (*phase.Phase, error) {
	var (
		phaseIDStr, runIDStr, stateStr          string
		retry, epoch, escalation                int
		failureReason, lastAttempt, completedAt sql.NullString
		createdAt, updatedAt                    string
	)

	if err := row.Scan(&phaseIDStr, &runIDStr, &stateStr, &retry, &epoch, &escalation,
		&failureReason, &lastAttempt, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	runID, err := model.NewRunID(runIDStr)
	if err != nil {
		return nil, err
	}
	phaseID, err := model.NewPhaseID(phaseIDStr)
	if err != nil {
		return nil, err
	}

	retryCounter, err := model.NewCounterFromInt(retry)
	if err != nil {
		return nil, err
	}
	epochCounter, err := model.NewCounterFromInt(epoch)
	if err != nil {
		return nil, err
	}
	escalationCounter, err := model.NewCounterFromInt(escalation)
	if err != nil {
		return nil, err
	}

	return phase.ReconstructPhase(
		runID,
		phaseID,
		model.PhaseState(stateStr),
		retryCounter,
		epochCounter,
		escalationCounter,
		failureReason.String,
		parseNullTime(lastAttempt),
		parseNullTime(completedAt),
		parseTime(createdAt),
		parseTime(updatedAt),
	), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(storedTimeLayout)
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(storedTimeLayout, s)
	if err == nil {
		return t
	}
	t, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
