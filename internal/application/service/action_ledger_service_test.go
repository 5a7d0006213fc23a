package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/action"
)

// memLedger is an in-memory ActionLedgerRepository
type memLedger struct {
	rows map[string]*action.ExternalAction
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]*action.ExternalAction)}
}

func (l *memLedger) Register(_ context.Context, a *action.ExternalAction) (*action.ExternalAction, bool, error) {
	if existing, ok := l.rows[a.IdempotencyKey]; ok {
		return existing, false, nil
	}
	cp := *a
	l.rows[a.IdempotencyKey] = &cp
	return &cp, true, nil
}

func (l *memLedger) Find(_ context.Context, key string) (*action.ExternalAction, error) {
	a, ok := l.rows[key]
	if !ok {
		return nil, model.ErrActionNotFound
	}
	return a, nil
}

func (l *memLedger) Update(_ context.Context, a *action.ExternalAction) error {
	if _, ok := l.rows[a.IdempotencyKey]; !ok {
		return model.ErrActionNotFound
	}
	l.rows[a.IdempotencyKey] = a
	return nil
}

func (l *memLedger) ListByRun(_ context.Context, runID string) ([]*action.ExternalAction, error) {
	var out []*action.ExternalAction
	for _, a := range l.rows {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *memLedger) Count(_ context.Context) (int, error) {
	return len(l.rows), nil
}

// memStorage records artifacts in memory
type memStorage struct {
	artifacts map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{artifacts: make(map[string][]byte)}
}

func (s *memStorage) SaveArtifact(_ context.Context, relPath string, data []byte) (string, error) {
	s.artifacts[relPath] = data
	return "/artifacts/" + relPath, nil
}

func (s *memStorage) LoadArtifact(_ context.Context, relPath string) ([]byte, error) {
	data, ok := s.artifacts[relPath]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func publishInput() RegisterActionInput {
	return RegisterActionInput{
		IdempotencyKey: "pub-1",
		Provider:       "youtube",
		Action:         "publish",
		RunID:          "run-001",
		PhaseNumber:    3,
		Payload:        map[string]interface{}{"title": "A"},
		MaxRetries:     2,
	}
}

func TestActionLedgerService_RegisterIsIdempotent(t *testing.T) {
	ledger := newMemLedger()
	svc := NewActionLedgerService(ledger, newMemStorage(), nil, nil)
	ctx := context.Background()

	first, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	second, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	// Same row both times, exactly one row stored
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, first.PayloadHash, second.PayloadHash)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	count, err := ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActionLedgerService_IsCompletedFlow(t *testing.T) {
	svc := NewActionLedgerService(newMemLedger(), newMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	done, err := svc.IsCompleted(ctx, "pub-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, svc.CompleteAction(ctx, "pub-1", "video_id=abc"))

	done, err = svc.IsCompleted(ctx, "pub-1")
	require.NoError(t, err)
	assert.True(t, done)

	// Unknown keys report not-completed without error
	done, err = svc.IsCompleted(ctx, "never-registered")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestActionLedgerService_ApproveHashMismatchPersisted(t *testing.T) {
	ledger := newMemLedger()
	svc := NewActionLedgerService(ledger, newMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	// Approving a different payload than was registered
	err = svc.Approve(ctx, "pub-1", "approval-9", map[string]interface{}{"title": "tampered"})
	require.Error(t, err)

	var mismatch *model.HashMismatchError
	assert.ErrorAs(t, err, &mismatch)

	// The mismatch outcome is durable, not just returned
	stored, err := ledger.Find(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, action.StatusHashMismatch, stored.Status)
}

func TestActionLedgerService_ExecuteGatedOnPayloadHash(t *testing.T) {
	ledger := newMemLedger()
	svc := NewActionLedgerService(ledger, newMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	calls := 0
	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "tampered"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			calls++
			return "", nil
		})
	require.Error(t, err)
	assert.Equal(t, 0, calls, "a tampered payload must never reach the exec callback")

	stored, err := ledger.Find(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, action.StatusHashMismatch, stored.Status)
}

func TestActionLedgerService_ExecuteRecordsOutcome(t *testing.T) {
	ledger := newMemLedger()
	svc := NewActionLedgerService(ledger, newMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "A"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			return "video_id=abc", nil
		})
	require.NoError(t, err)

	stored, err := ledger.Find(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, action.StatusCompleted, stored.Status)
	assert.Equal(t, "video_id=abc", stored.ResponseSummary)

	// A second execute is a no-op: the side effect already happened
	calls := 0
	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "A"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			calls++
			return "", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestActionLedgerService_ExecuteFailureStaysRetryable(t *testing.T) {
	ledger := newMemLedger()
	svc := NewActionLedgerService(ledger, newMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	execErr := errors.New("upstream 503")
	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "A"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			return "", execErr
		})
	assert.ErrorIs(t, err, execErr)

	stored, err := ledger.Find(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, action.StatusFailed, stored.Status)
	assert.Equal(t, "upstream 503", stored.ErrorMessage)

	require.NoError(t, svc.Retry(ctx, "pub-1"))
	stored, _ = ledger.Find(ctx, "pub-1")
	assert.Equal(t, action.StatusExecuting, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestActionLedgerService_ExecuteClaimsInsideTransaction(t *testing.T) {
	ledger := newMemLedger()
	tx := &recordingTxManager{}
	svc := NewActionLedgerService(ledger, newMemStorage(), tx, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "A"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			// The claim transaction must be closed before the side effect
			assert.Equal(t, 1, tx.calls)
			return "video_id=abc", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, tx.calls)

	// A repeat call still claims transactionally, then skips the effect
	err = svc.Execute(ctx, "pub-1", map[string]interface{}{"title": "A"},
		func(ctx context.Context, payload map[string]interface{}) (string, error) {
			t.Fatal("completed action must not re-execute")
			return "", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, tx.calls)
}

func TestActionLedgerService_HashMismatchSurvivesTransaction(t *testing.T) {
	ledger := newMemLedger()
	tx := &recordingTxManager{}
	svc := NewActionLedgerService(ledger, newMemStorage(), tx, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)

	err = svc.Approve(ctx, "pub-1", "approval-9", map[string]interface{}{"title": "tampered"})
	var mismatch *model.HashMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, tx.calls)

	// The HASH_MISMATCH outcome committed despite the returned error
	stored, err := ledger.Find(ctx, "pub-1")
	require.NoError(t, err)
	assert.Equal(t, action.StatusHashMismatch, stored.Status)
}

func TestActionLedgerService_ExportRunActions(t *testing.T) {
	storage := newMemStorage()
	svc := NewActionLedgerService(newMemLedger(), storage, nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, publishInput())
	require.NoError(t, err)
	require.NoError(t, svc.CompleteAction(ctx, "pub-1", "video_id=abc"))

	path, err := svc.ExportRunActions(ctx, "run-001", "exports")
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/exports/actions_run-001.json", path)

	raw, ok := storage.artifacts["exports/actions_run-001.json"]
	require.True(t, ok)

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "pub-1", entries[0]["idempotency_key"])
	assert.Equal(t, "youtube", entries[0]["provider"])
	assert.Equal(t, "COMPLETED", entries[0]["status"])
	assert.NotEmpty(t, entries[0]["payload_hash"])
}
