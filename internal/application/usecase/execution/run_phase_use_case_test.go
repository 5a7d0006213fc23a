package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/application/service"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/phase"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// stubPhaseRepo is an in-memory PhaseStateRepository for orchestrator tests
type stubPhaseRepo struct {
	phases map[string]*phase.Phase
}

func newStubPhaseRepo() *stubPhaseRepo {
	return &stubPhaseRepo{phases: make(map[string]*phase.Phase)}
}

func (r *stubPhaseRepo) Find(_ context.Context, phaseID model.PhaseID) (*phase.Phase, error) {
	return r.phases[phaseID.String()], nil
}

func (r *stubPhaseRepo) Save(_ context.Context, p *phase.Phase) error {
	r.phases[p.PhaseID().String()] = p
	return nil
}

func (r *stubPhaseRepo) List(_ context.Context, _ repository.PhaseFilter) ([]*phase.Phase, error) {
	var out []*phase.Phase
	for _, p := range r.phases {
		out = append(out, p)
	}
	return out, nil
}

func (r *stubPhaseRepo) NextQueued(_ context.Context, runID model.RunID) (*phase.Phase, error) {
	for _, p := range r.phases {
		if p.RunID().Equals(runID) && p.State() == model.PhaseQueued {
			return p, nil
		}
	}
	return nil, nil
}

func (r *stubPhaseRepo) ResetStale(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// scriptedBuilder returns canned patches, or errors, per call
type scriptedBuilder struct {
	err    error
	tokens int
	calls  int
	hints  []map[string]string
}

func (b *scriptedBuilder) ExecuteBuilder(_ context.Context, req output.BuilderRequest) (*output.PatchResult, error) {
	b.calls++
	seen := make(map[string]string, len(req.Hints))
	for k, v := range req.Hints {
		seen[k] = v
	}
	b.hints = append(b.hints, seen)
	if b.err != nil {
		return nil, b.err
	}
	return &output.PatchResult{
		Patch:         "--- a/main.go\n+++ b/main.go\n@@ -1 +1 @@\n-x\n+y\n",
		FilesModified: []string{"main.go"},
		TokensUsed:    b.tokens,
	}, nil
}

// scriptedAuditor approves or rejects according to a verdict script
type scriptedAuditor struct {
	approvals []bool
	tokens    int
	calls     int
	coverage  float64
	reqs      []output.AuditorRequest
}

func (a *scriptedAuditor) ExecuteAuditorReview(_ context.Context, req output.AuditorRequest) (*output.AuditorResult, error) {
	a.reqs = append(a.reqs, req)
	approved := true
	if a.calls < len(a.approvals) {
		approved = a.approvals[a.calls]
	}
	a.calls++
	verdict := "looks good"
	if !approved {
		verdict = "patch touches protected paths"
	}
	return &output.AuditorResult{Approved: approved, Verdict: verdict, TokensUsed: a.tokens, CoverageDelta: a.coverage}, nil
}

type orchestratorFixture struct {
	uc      *RunPhaseUseCase
	repo    *stubPhaseRepo
	builder *scriptedBuilder
	auditor *scriptedAuditor
	ws      *fakeWorkspace
	runner  *fakeRunner
	journal *memJournal
}

// memJournal collects journal records in memory
type memJournal struct {
	records []*repository.JournalRecord
}

func (j *memJournal) Append(_ context.Context, record *repository.JournalRecord) error {
	j.records = append(j.records, record)
	return nil
}

func (j *memJournal) Load(_ context.Context) ([]*repository.JournalRecord, error) {
	return j.records, nil
}

func (j *memJournal) FindByPhase(_ context.Context, phaseID string) ([]*repository.JournalRecord, error) {
	var out []*repository.JournalRecord
	for _, r := range j.records {
		if r.PhaseID == phaseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newOrchestratorFixture(ws *fakeWorkspace) *orchestratorFixture {
	repo := newStubPhaseRepo()
	builder := &scriptedBuilder{tokens: 100}
	auditor := &scriptedAuditor{tokens: 50}
	journal := &memJournal{}
	runner := &fakeRunner{}
	executor := NewExecuteDecisionUseCase(ws, runner, &memDecisionLog{}, nil)
	states := service.NewPhaseStateManager(repo, nil, nil)

	return &orchestratorFixture{
		uc:      NewRunPhaseUseCase(builder, auditor, executor, states, nil, journal, nil),
		repo:    repo,
		builder: builder,
		auditor: auditor,
		ws:      ws,
		runner:  runner,
		journal: journal,
	}
}

func testContext() ExecutionContext {
	return ExecutionContext{
		Spec: PhaseSpec{
			RunID:     "run-001",
			PhaseID:   "phase-1",
			Objective: "produce the assembly module",
		},
		MaxAttempts: 4,
		Deadline:    time.Minute,
	}
}

func TestRunPhase_FirstAttemptSucceeds(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StatusApprovedAndPassed, result.Status)
	assert.Equal(t, PhaseResultComplete, result.PhaseResult)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 150, result.TokensUsed)

	p := f.repo.phases["phase-1"]
	require.NotNil(t, p)
	assert.Equal(t, model.PhaseComplete, p.State())
	assert.Equal(t, 0, p.RetryAttempt().Value())

	require.Len(t, f.journal.records, 1)
	assert.Equal(t, "passed", f.journal.records[0].Status)
}

func TestRunPhase_AuditorRejectionCountsReplan(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.auditor.approvals = []bool{false, true}

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.UpdatedCounters.TotalFailures)
	assert.Equal(t, 1, result.UpdatedCounters.ReplanCount)

	p := f.repo.phases["phase-1"]
	assert.Equal(t, 1, p.RetryAttempt().Value())
	assert.Equal(t, 1, p.RevisionEpoch().Value())
	assert.Equal(t, model.PhaseComplete, p.State())
}

func TestRunPhase_MaxAttemptsExhausted(t *testing.T) {
	ws := &fakeWorkspace{existing: map[string]bool{}} // deliverable checks pass (empty deliverables)
	f := newOrchestratorFixture(ws)
	// Auditor rejects everything
	f.auditor.approvals = []bool{false, false, false, false}

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, StatusMaxAttemptsExhausted, result.Status)
	assert.Equal(t, PhaseResultFailed, result.PhaseResult)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, 4, result.UpdatedCounters.TotalFailures)

	p := f.repo.phases["phase-1"]
	assert.Equal(t, model.PhaseFailed, p.State())
	assert.Equal(t, 4, p.RetryAttempt().Value())
	// Escalation happened once, on the middle attempt
	assert.Equal(t, 1, p.EscalationLevel().Value())
	assert.Equal(t, StatusMaxAttemptsExhausted, p.LastFailureReason())
}

func TestRunPhase_PatchFailureCountsSeparately(t *testing.T) {
	ws := &fakeWorkspace{applyErr: errors.New("error: patch does not apply")}
	f := newOrchestratorFixture(ws)

	ec := testContext()
	ec.MaxAttempts = 2
	result, err := f.uc.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.UpdatedCounters.TotalFailures)
	assert.Equal(t, 2, result.UpdatedCounters.PatchFailureCount)
	assert.Equal(t, 0, result.UpdatedCounters.ReplanCount)
}

func TestRunPhase_BuilderErrorRetriedThenExhausted(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.builder.err = errors.New("model overloaded")

	ec := testContext()
	ec.MaxAttempts = 2
	result, err := f.uc.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, f.builder.calls)
	assert.Contains(t, result.LastError, "model overloaded")
}

func TestRunPhase_AlreadyTerminalPhaseNotRerun(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})

	runID, _ := model.NewRunID("run-001")
	phaseID, _ := model.NewPhaseID("phase-1")
	p := phase.NewPhase(runID, phaseID)
	require.NoError(t, p.TransitionTo(model.PhaseExecuting))
	require.NoError(t, p.TransitionTo(model.PhaseComplete))
	f.repo.phases["phase-1"] = p

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "ALREADY_TERMINAL", result.Status)
	assert.Equal(t, 0, result.Attempts)
	assert.Equal(t, 0, f.builder.calls)
}

func TestRunPhase_ValidateRejectsUnboundedExecution(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})

	ec := testContext()
	ec.Deadline = 0
	_, err := f.uc.Execute(context.Background(), ec)
	assert.Error(t, err)

	ec = testContext()
	ec.MaxAttempts = 0
	_, err = f.uc.Execute(context.Background(), ec)
	assert.Error(t, err)

	ec = testContext()
	ec.Spec.PhaseID = ""
	_, err = f.uc.Execute(context.Background(), ec)
	assert.Error(t, err)
}

// clarifyGateway scripts the clarification side of the approval
// boundary and records what the orchestrator asked.
type clarifyGateway struct {
	requests []map[string]interface{}
	status   string
	response string
}

func (g *clarifyGateway) RequestApproval(_ context.Context, _ map[string]interface{}) (*output.ApprovalTicket, error) {
	return nil, errors.New("not used")
}

func (g *clarifyGateway) PollApprovalStatus(_ context.Context, _ string) (*output.ApprovalStatus, error) {
	return nil, errors.New("not used")
}

func (g *clarifyGateway) RequestClarification(_ context.Context, payload map[string]interface{}) (*output.ApprovalTicket, error) {
	g.requests = append(g.requests, payload)
	return &output.ApprovalTicket{ApprovalID: "clr-001", Status: output.ApprovalPending}, nil
}

func (g *clarifyGateway) PollClarificationStatus(_ context.Context, _ string) (*output.ApprovalStatus, error) {
	return &output.ApprovalStatus{Status: g.status, Response: g.response}, nil
}

func withClarifications(f *orchestratorFixture, gw *clarifyGateway) {
	f.uc.approvals = service.NewApprovalServiceWithClock(
		gw, time.Millisecond, 5*time.Millisecond,
		service.SystemClock{}, service.SystemSleeper{}, nil)
}

func TestRunPhase_RejectionSeeksClarificationForNextAttempt(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.auditor.approvals = []bool{false, true}
	gw := &clarifyGateway{status: output.ApprovalAnswered, response: "keep the migration out of this patch"}
	withClarifications(f, gw)

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, gw.requests, 1)
	assert.Equal(t, "phase-1", gw.requests[0]["phase_id"])
	assert.Contains(t, gw.requests[0]["verdict"], "auditor rejected")

	require.Len(t, f.builder.hints, 2)
	assert.NotContains(t, f.builder.hints[0], "auditor_clarification")
	assert.Equal(t, "keep the migration out of this patch", f.builder.hints[1]["auditor_clarification"])
}

func TestRunPhase_UnansweredClarificationStillReplans(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.auditor.approvals = []bool{false, true}
	gw := &clarifyGateway{status: output.ApprovalPending}
	withClarifications(f, gw)

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)

	// The expired wait is swallowed; the replan proceeds without a hint.
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	require.Len(t, f.builder.hints, 2)
	assert.NotContains(t, f.builder.hints[1], "auditor_clarification")
}

func TestRunPhase_ServerErrorsCountedSeparately(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.builder.err = errors.New("builder returned 500 internal server error")

	ec := testContext()
	ec.MaxAttempts = 2
	result, err := f.uc.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.UpdatedCounters.TotalFailures)
	assert.Equal(t, 2, result.UpdatedCounters.HTTP500Count)
}

func TestRunPhase_TestFailureFeedsNextAuditorReview(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.runner.errs = map[string]error{"go-test": errors.New("exit status 1")}
	f.runner.outputs = map[string]string{"go-test": "--- FAIL: TestAssembly (0.01s)"}

	ec := testContext()
	ec.MaxAttempts = 2
	ec.Spec.AcceptanceCriteria = []AcceptanceCommand{{Name: "go-test", Args: []string{"./..."}}}
	result, err := f.uc.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, f.auditor.reqs, 2)
	assert.Empty(t, f.auditor.reqs[0].CIResults)
	assert.Contains(t, f.auditor.reqs[1].CIResults, "acceptance test go-test failed")
}

func TestRunPhase_FixValidationCounted(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})
	f.auditor.coverage = 2.5

	ec := testContext()
	ec.Spec.OriginalErrorProbe = &AcceptanceCommand{Name: "repro", Args: []string{"--once"}}
	ec.Spec.OriginalErrorSignature = "nil pointer dereference"
	result, err := f.uc.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.UpdatedCounters.DoctorCalls)
	assert.Contains(t, f.runner.calls, "repro")

	require.Len(t, f.journal.records, 1)
	require.Len(t, f.journal.records[0].Artifacts, 1)
	assert.Equal(t, map[string]interface{}{"coverage_delta": 2.5}, f.journal.records[0].Artifacts[0])
}

func TestRunPhase_ResumesFromStoredEscalation(t *testing.T) {
	f := newOrchestratorFixture(&fakeWorkspace{})

	runID, _ := model.NewRunID("run-001")
	phaseID, _ := model.NewPhaseID("phase-1")
	p := phase.NewPhase(runID, phaseID)
	p.IncrementEscalation()
	p.IncrementEscalation()
	f.repo.phases["phase-1"] = p

	result, err := f.uc.Execute(context.Background(), testContext())
	require.NoError(t, err)
	assert.True(t, result.Success)
	// Stored escalation survives the restart
	assert.Equal(t, 2, f.repo.phases["phase-1"].EscalationLevel().Value())
}
