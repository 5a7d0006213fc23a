package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/decision"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// fakeWorkspace scripts the workspace boundary for executor tests
type fakeWorkspace struct {
	savePointErr error
	applyErr     error
	commitErr    error
	rollbackErr  error
	existing     map[string]bool

	savePoints []string
	rollbacks  []string
	commits    []string
	applied    []string
}

func (w *fakeWorkspace) CreateSavePoint(_ context.Context, name string) (string, error) {
	if w.savePointErr != nil {
		return "", w.savePointErr
	}
	w.savePoints = append(w.savePoints, name)
	return name, nil
}

func (w *fakeWorkspace) ApplyPatch(_ context.Context, patch string) error {
	if w.applyErr != nil {
		return w.applyErr
	}
	w.applied = append(w.applied, patch)
	return nil
}

func (w *fakeWorkspace) RollbackTo(_ context.Context, savePoint string) error {
	if w.rollbackErr != nil {
		return w.rollbackErr
	}
	w.rollbacks = append(w.rollbacks, savePoint)
	return nil
}

func (w *fakeWorkspace) CommitAll(_ context.Context, message string) (string, error) {
	if w.commitErr != nil {
		return "", w.commitErr
	}
	w.commits = append(w.commits, message)
	return "abc1234", nil
}

func (w *fakeWorkspace) Exists(_ context.Context, relPath string) (bool, error) {
	if w.existing == nil {
		return true, nil
	}
	return w.existing[relPath], nil
}

// fakeRunner scripts acceptance-test and probe commands by name
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, name)
	return r.outputs[name], r.errs[name]
}

// memDecisionLog keeps audit records in memory
type memDecisionLog struct {
	records []*repository.DecisionLogRecord
}

func (l *memDecisionLog) Save(_ context.Context, record *repository.DecisionLogRecord) error {
	l.records = append(l.records, record)
	return nil
}

func (l *memDecisionLog) Find(_ context.Context, runID, decisionID string) (*repository.DecisionLogRecord, error) {
	for _, r := range l.records {
		if r.RunID == runID && r.Decision.ID == decisionID {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (l *memDecisionLog) ListByRun(_ context.Context, runID string) ([]*repository.DecisionLogRecord, error) {
	var out []*repository.DecisionLogRecord
	for _, r := range l.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func testDecision() *decision.Decision {
	return &decision.Decision{
		ID:              decision.NewDecisionID(),
		Type:            decision.TypeClearFix,
		PhaseID:         "phase-3",
		FixStrategy:     "pin the flaky dependency",
		RiskLevel:       decision.RiskLow,
		Patch:           "--- a/go.mod\n+++ b/go.mod\n@@ -1 +1 @@\n-old\n+new\n",
		FilesModified:   []string{"go.mod"},
		Confidence:      0.9,
		DeliverablesMet: []string{"go.mod"},
		CreatedAt:       time.Now().UTC(),
	}
}

func newTestExecutor(ws *fakeWorkspace, runner *fakeRunner) (*ExecuteDecisionUseCase, *memDecisionLog) {
	log := &memDecisionLog{}
	if runner == nil {
		runner = &fakeRunner{}
	}
	return NewExecuteDecisionUseCase(ws, runner, log, nil), log
}

func TestExecuteDecision_HappyPath(t *testing.T) {
	ws := &fakeWorkspace{}
	uc, log := newTestExecutor(ws, nil)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: testDecision(),
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.PatchApplied)
	assert.True(t, result.DeliverablesValidated)
	assert.True(t, result.TestsPassed)
	assert.True(t, result.FixValidated)
	assert.False(t, result.RollbackPerformed)
	assert.Equal(t, "abc1234", result.CommitSHA)
	assert.NoError(t, result.CheckInvariants())

	require.Len(t, ws.savePoints, 1)
	assert.Empty(t, ws.rollbacks)

	// Commit message carries the decision audit trail
	require.Len(t, ws.commits, 1)
	assert.Contains(t, ws.commits[0], result.DecisionID)
	assert.Contains(t, ws.commits[0], "pin the flaky dependency")

	// Audit record written
	require.Len(t, log.records, 1)
	assert.True(t, log.records[0].Result.Success)
}

func TestExecuteDecision_PatchFailureSkipsRollback(t *testing.T) {
	ws := &fakeWorkspace{applyErr: errors.New("error: patch does not apply")}
	uc, _ := newTestExecutor(ws, nil)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: testDecision(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.PatchApplied)
	// The workspace never changed, so there is nothing to roll back
	assert.False(t, result.RollbackPerformed)
	assert.Empty(t, ws.rollbacks)
	assert.True(t, result.NeedsRetry)
	assert.Contains(t, result.ErrorMessage, "Patch application failed")
	assert.Equal(t, decision.FailurePatchApply, result.FailureClass)
}

func TestExecuteDecision_SavePointFailureAbortsWithoutRollback(t *testing.T) {
	ws := &fakeWorkspace{savePointErr: errors.New("repository locked")}
	uc, _ := newTestExecutor(ws, nil)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: testDecision(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSavePointFailed)

	assert.False(t, result.Success)
	assert.False(t, result.PatchApplied)
	assert.False(t, result.RollbackPerformed)
	assert.Empty(t, ws.applied, "no patch may apply without a save point")
	assert.Empty(t, ws.rollbacks)
}

func TestExecuteDecision_MissingDeliverableRollsBack(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{"go.mod": false}}
	uc, _ := newTestExecutor(ws, nil)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: testDecision(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.PatchApplied)
	assert.False(t, result.DeliverablesValidated)
	assert.True(t, result.RollbackPerformed)
	assert.True(t, result.NeedsRetry)
	assert.Contains(t, result.ErrorMessage, "missing deliverable path(s): go.mod")
	require.Len(t, ws.rollbacks, 1)
	assert.Equal(t, ws.savePoints[0], ws.rollbacks[0])
	assert.NoError(t, result.CheckInvariants())
}

func TestExecuteDecision_AcceptanceFailureRollsBack(t *testing.T) {
	ws := &fakeWorkspace{}
	runner := &fakeRunner{
		outputs: map[string]string{"pytest": "--- FAIL: test_upload"},
		errs:    map[string]error{"pytest": errors.New("exit status 1")},
	}
	uc, _ := newTestExecutor(ws, runner)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:           "run-001",
		Decision:        testDecision(),
		AcceptanceTests: []AcceptanceCommand{{Name: "pytest", Args: []string{"-x"}}},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.PatchApplied)
	assert.False(t, result.TestsPassed)
	assert.True(t, result.RollbackPerformed)
	assert.Contains(t, result.ErrorMessage, "acceptance test pytest failed")
	require.Len(t, ws.rollbacks, 1)
}

func TestExecuteDecision_OriginalErrorStillPresent(t *testing.T) {
	ws := &fakeWorkspace{}
	runner := &fakeRunner{
		outputs: map[string]string{"probe": "ModuleNotFoundError: No module named 'moviepy'"},
		errs:    map[string]error{"probe": errors.New("exit status 1")},
	}
	uc, _ := newTestExecutor(ws, runner)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:                  "run-001",
		Decision:               testDecision(),
		OriginalErrorProbe:     &AcceptanceCommand{Name: "probe"},
		OriginalErrorSignature: "ModuleNotFoundError",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.FixValidated)
	assert.True(t, result.NeedsRetry)
	assert.True(t, result.RollbackPerformed)
	require.NotNil(t, result.ValidationResult)
	assert.False(t, result.ValidationResult.Resolved)
	assert.True(t, result.ValidationResult.OriginalErrorStillPresent)
	assert.NoError(t, result.CheckInvariants())
}

func TestExecuteDecision_FixValidationPasses(t *testing.T) {
	ws := &fakeWorkspace{}
	runner := &fakeRunner{outputs: map[string]string{"probe": "all good"}}
	uc, _ := newTestExecutor(ws, runner)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:                  "run-001",
		Decision:               testDecision(),
		OriginalErrorProbe:     &AcceptanceCommand{Name: "probe"},
		OriginalErrorSignature: "ModuleNotFoundError",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.FixValidated)
	require.NotNil(t, result.ValidationResult)
	assert.True(t, result.ValidationResult.Resolved)
}

func TestExecuteDecision_RollbackFailureSurfacesBothErrors(t *testing.T) {
	ws := &fakeWorkspace{
		existing:    map[string]bool{"go.mod": false},
		rollbackErr: errors.New("tag vanished"),
	}
	uc, _ := newTestExecutor(ws, nil)

	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: testDecision(),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.RollbackPerformed)
	// A workspace in unknown state must not be retried blindly
	assert.False(t, result.NeedsRetry)
	assert.Contains(t, result.ErrorMessage, "rollback also failed")
	assert.Contains(t, result.ErrorMessage, "tag vanished")
}

func TestExecuteDecision_InvalidDecisionRejectedBeforeSavePoint(t *testing.T) {
	ws := &fakeWorkspace{}
	uc, _ := newTestExecutor(ws, nil)

	d := testDecision()
	d.Patch = ""
	result, err := uc.Execute(context.Background(), ExecuteDecisionInput{
		RunID:    "run-001",
		Decision: d,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Empty(t, ws.savePoints)
	assert.Contains(t, result.ErrorMessage, "no patch")
}

func TestExecuteDecision_SavePointNameCarriesPhaseAndDecision(t *testing.T) {
	ws := &fakeWorkspace{}
	uc, _ := newTestExecutor(ws, nil)

	d := testDecision()
	_, err := uc.Execute(context.Background(), ExecuteDecisionInput{RunID: "run-001", Decision: d})
	require.NoError(t, err)

	require.Len(t, ws.savePoints, 1)
	assert.Equal(t, fmt.Sprintf("autopack/%s/%s", d.PhaseID, d.ID), ws.savePoints[0])
}
