package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/application/service"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/decision"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// RunPhaseUseCase drives one phase through Builder, Auditor and
// decision-execution cycles until it reaches a terminal result. It
// respects the attempt ceiling and escalation ladder; counters are
// recorded through the PhaseStateManager, one transaction per update.
type RunPhaseUseCase struct {
	builder   output.BuilderGateway
	auditor   output.AuditorGateway
	executor  *ExecuteDecisionUseCase
	states    *service.PhaseStateManager
	approvals *service.ApprovalService
	journal   repository.JournalRepository
	logger    output.Logger
}

// NewRunPhaseUseCase creates a RunPhaseUseCase
func NewRunPhaseUseCase(
	builder output.BuilderGateway,
	auditor output.AuditorGateway,
	executor *ExecuteDecisionUseCase,
	states *service.PhaseStateManager,
	approvals *service.ApprovalService,
	journal repository.JournalRepository,
	logger output.Logger,
) *RunPhaseUseCase {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &RunPhaseUseCase{
		builder:   builder,
		auditor:   auditor,
		executor:  executor,
		states:    states,
		approvals: approvals,
		journal:   journal,
		logger:    logger,
	}
}

// Execute runs the attempt loop for one phase. The returned result is
// always non-nil; errors are reserved for state-store failures that
// make further attempts meaningless.
func (uc *RunPhaseUseCase) Execute(ctx context.Context, ec ExecutionContext) (*AttemptResult, error) {
	result := &AttemptResult{PhaseResult: PhaseResultFailed, ShouldContinue: true}

	if err := ec.Validate(); err != nil {
		result.Status = StatusBuilderError
		result.LastError = err.Error()
		return result, err
	}

	runID, err := model.NewRunID(ec.Spec.RunID)
	if err != nil {
		return result, err
	}
	phaseID, err := model.NewPhaseID(ec.Spec.PhaseID)
	if err != nil {
		return result, err
	}

	// Phase deadline. Exceeding it is a timeout failure, not a crash.
	ctx, cancel := context.WithTimeout(ctx, ec.Deadline)
	defer cancel()

	snapshot, err := uc.states.LoadOrCreateDefault(ctx, runID, phaseID)
	if err != nil {
		return result, err
	}
	if snapshot.State.IsTerminal() {
		result.Success = snapshot.State == model.PhaseComplete
		result.PhaseResult = string(snapshot.State)
		result.Status = "ALREADY_TERMINAL"
		return result, nil
	}
	if _, err := uc.states.MarkExecuting(ctx, phaseID); err != nil {
		return result, err
	}

	escalation := ec.EscalationLevel
	if snapshot.EscalationLevel > escalation {
		escalation = snapshot.EscalationLevel
	}

	// Hints may gain clarification answers between attempts; mutate a
	// copy so the caller's map stays untouched.
	hints := make(map[string]string, len(ec.Spec.Hints))
	for k, v := range ec.Spec.Hints {
		hints[k] = v
	}
	ec.Spec.Hints = hints

	lastCIResults := ""
	for attempt := ec.AttemptIndex; attempt < ec.MaxAttempts; attempt++ {
		result.Attempts++
		start := time.Now()

		outcome, tokens := uc.runAttempt(ctx, ec, attempt, escalation, lastCIResults)
		result.TokensUsed += tokens
		if outcome.execution != nil && outcome.execution.ValidationResult != nil {
			result.UpdatedCounters.DoctorCalls++
		}
		uc.appendJournal(ctx, ec, attempt, outcome, start)

		if outcome.err == nil && outcome.approved {
			if _, err := uc.states.MarkComplete(ctx, phaseID); err != nil {
				return result, err
			}
			result.Success = true
			result.Status = StatusApprovedAndPassed
			result.PhaseResult = PhaseResultComplete
			return result, nil
		}

		// Failed attempt: classify, ratchet counters, maybe escalate.
		result.UpdatedCounters.TotalFailures++
		reason := outcome.reason()
		class := decision.ClassifyFailure(reason)
		result.LastError = reason

		if isServerError(reason) {
			result.UpdatedCounters.HTTP500Count++
		}
		switch class {
		case decision.FailurePatchApply:
			result.UpdatedCounters.PatchFailureCount++
		case decision.FailureCI:
			// Carried into the next attempt's auditor review
			lastCIResults = reason
		case decision.FailureTimeout:
			// The phase deadline is spent; further attempts cannot fit.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				uc.states.MarkFailed(context.WithoutCancel(ctx), phaseID, reason)
				result.Status = StatusDeadlineExceeded
				return result, nil
			}
		}

		update := service.StateUpdateRequest{IncrementRetry: true, FailureReason: &reason}
		if uc.shouldEscalate(attempt, ec.MaxAttempts) {
			update.IncrementEscalation = true
			escalation++
			uc.logger.Warn("phase %s escalating to level %d after attempt %d", phaseID, escalation, attempt)
		}
		if outcome.replanned {
			update.IncrementEpoch = true
			result.UpdatedCounters.ReplanCount++
			uc.seekClarification(ctx, ec.Spec, attempt, outcome.verdict, hints)
		}
		if _, err := uc.states.Update(ctx, phaseID, update); err != nil {
			return result, err
		}
	}

	if _, err := uc.states.MarkFailed(ctx, phaseID, StatusMaxAttemptsExhausted); err != nil {
		return result, err
	}
	result.Status = StatusMaxAttemptsExhausted
	result.PhaseResult = PhaseResultFailed
	uc.logger.Warn("phase %s failed after %d attempt(s)", phaseID, result.Attempts)
	return result, nil
}

// attemptOutcome is the internal record of a single attempt
type attemptOutcome struct {
	approved  bool
	replanned bool
	verdict   string
	coverage  float64
	execution *decision.ExecutionResult
	err       error
}

func (o attemptOutcome) reason() string {
	if o.err != nil {
		return o.err.Error()
	}
	if o.execution != nil && o.execution.ErrorMessage != "" {
		return o.execution.ErrorMessage
	}
	if o.verdict != "" {
		return o.verdict
	}
	return "attempt failed"
}

// runAttempt performs one Builder -> Auditor -> execute cycle.
// ciResults carries the previous attempt's test failure so the auditor
// reviews the revised patch against it.
func (uc *RunPhaseUseCase) runAttempt(ctx context.Context, ec ExecutionContext, attempt, escalation int, ciResults string) (attemptOutcome, int) {
	tokens := 0

	patch, err := uc.builder.ExecuteBuilder(ctx, output.BuilderRequest{
		RunID:           ec.Spec.RunID,
		PhaseID:         ec.Spec.PhaseID,
		Objective:       ec.Spec.Objective,
		AttemptIndex:    attempt,
		EscalationLevel: escalation,
		AllowedPaths:    ec.Spec.AllowedPaths,
		Hints:           ec.Spec.Hints,
		Timeout:         ec.Deadline,
	})
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("builder: %w", err)}, tokens
	}
	tokens += patch.TokensUsed

	review, err := uc.auditor.ExecuteAuditorReview(ctx, output.AuditorRequest{
		RunID:        ec.Spec.RunID,
		PhaseID:      ec.Spec.PhaseID,
		PatchContent: patch.Patch,
		ProjectRules: ec.Spec.ProjectRules,
		RunHints:     ec.Spec.Hints,
		AttemptIndex: attempt,
		CIResults:    ciResults,
		Timeout:      ec.Deadline,
	})
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("auditor: %w", err)}, tokens
	}
	tokens += review.TokensUsed

	if !review.Approved {
		return attemptOutcome{verdict: "auditor rejected: " + review.Verdict, replanned: true}, tokens
	}

	d := &decision.Decision{
		ID:              decision.NewDecisionID(),
		Type:            decision.TypeClearFix,
		PhaseID:         ec.Spec.PhaseID,
		FixStrategy:     ec.Spec.Objective,
		Rationale:       review.Verdict,
		RiskLevel:       decision.RiskMedium,
		Patch:           patch.Patch,
		FilesModified:   patch.FilesModified,
		Confidence:      0.8,
		DeliverablesMet: ec.Spec.Deliverables,
		CreatedAt:       time.Now().UTC(),
	}

	exec, err := uc.executor.Execute(ctx, ExecuteDecisionInput{
		RunID:                  ec.Spec.RunID,
		Decision:               d,
		AcceptanceTests:        ec.Spec.AcceptanceCriteria,
		OriginalErrorProbe:     ec.Spec.OriginalErrorProbe,
		OriginalErrorSignature: ec.Spec.OriginalErrorSignature,
	})
	if err != nil {
		return attemptOutcome{execution: exec, coverage: review.CoverageDelta, err: err}, tokens
	}
	return attemptOutcome{approved: exec.Success, execution: exec, coverage: review.CoverageDelta}, tokens
}

// seekClarification asks the approval boundary to resolve an auditor
// rejection before the next attempt. The wait is bounded by the
// approval service; an expired or failed clarification is logged and
// the replan proceeds without it.
func (uc *RunPhaseUseCase) seekClarification(ctx context.Context, spec PhaseSpec, attempt int, verdict string, hints map[string]string) {
	if uc.approvals == nil {
		return
	}
	outcome, err := uc.approvals.RequestClarificationAndWait(ctx, map[string]interface{}{
		"run_id":   spec.RunID,
		"phase_id": spec.PhaseID,
		"attempt":  attempt,
		"verdict":  verdict,
	})
	if err != nil {
		uc.logger.Warn("clarification for phase %s unresolved: %v", spec.PhaseID, err)
		return
	}
	if outcome.Status == output.ApprovalAnswered && outcome.Response != "" {
		hints["auditor_clarification"] = outcome.Response
	}
}

// shouldEscalate bumps the escalation ladder on the middle attempt so
// later attempts run with a stronger configuration.
func (uc *RunPhaseUseCase) shouldEscalate(attempt, maxAttempts int) bool {
	return attempt == maxAttempts/2
}

// isServerError spots 5xx-style gateway failures, counted separately
// from ordinary attempt failures.
func isServerError(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "500") ||
		strings.Contains(r, "internal server error") ||
		strings.Contains(r, "bad gateway") ||
		strings.Contains(r, "service unavailable")
}

func (uc *RunPhaseUseCase) appendJournal(ctx context.Context, ec ExecutionContext, attempt int, o attemptOutcome, start time.Time) {
	if uc.journal == nil {
		return
	}
	status := "failed"
	if o.approved {
		status = "passed"
	}
	rec := &repository.JournalRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RunID:     ec.Spec.RunID,
		PhaseID:   ec.Spec.PhaseID,
		Attempt:   attempt,
		Step:      "builder_auditor_cycle",
		Status:    status,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if o.execution != nil {
		rec.Decision = o.execution.DecisionID
		rec.FailureClass = string(o.execution.FailureClass)
	}
	if o.coverage != 0 {
		rec.Artifacts = append(rec.Artifacts, map[string]interface{}{"coverage_delta": o.coverage})
	}
	if !o.approved {
		rec.Error = o.reason()
	}
	if err := uc.journal.Append(ctx, rec); err != nil {
		uc.logger.Warn("journal append failed: %v", err)
	}
}
