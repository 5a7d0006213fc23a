package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
	"github.com/hshk99/autopack/internal/domain/model"
	"github.com/hshk99/autopack/internal/domain/model/decision"
	"github.com/hshk99/autopack/internal/domain/repository"
)

// AcceptanceCommand is one command executed inside the workspace to
// verify a fix.
type AcceptanceCommand struct {
	Name string
	Args []string
}

// ExecuteDecisionInput carries the decision and the context needed to
// verify it.
type ExecuteDecisionInput struct {
	RunID    string
	Decision *decision.Decision

	// AcceptanceTests run after the patch applies; any non-zero exit
	// fails the attempt.
	AcceptanceTests []AcceptanceCommand

	// OriginalErrorProbe, when set, re-runs the command that originally
	// failed. The fix is validated only if the probe no longer reports
	// the original error signature.
	OriginalErrorProbe     *AcceptanceCommand
	OriginalErrorSignature string
}

// ExecuteDecisionUseCase runs one decision through the fix pipeline:
// save point, patch, deliverable checks, acceptance tests, optional fix
// validation, commit. Any failure after the save point rolls the
// workspace back before reporting, so a failed execution leaves the
// workspace exactly as it found it.
type ExecuteDecisionUseCase struct {
	workspace   output.WorkspaceGateway
	runner      output.CommandRunner
	decisionLog repository.DecisionLogRepository
	logger      output.Logger
}

// NewExecuteDecisionUseCase creates an ExecuteDecisionUseCase
func NewExecuteDecisionUseCase(
	workspace output.WorkspaceGateway,
	runner output.CommandRunner,
	decisionLog repository.DecisionLogRepository,
	logger output.Logger,
) *ExecuteDecisionUseCase {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &ExecuteDecisionUseCase{
		workspace:   workspace,
		runner:      runner,
		decisionLog: decisionLog,
		logger:      logger,
	}
}

// Execute runs the pipeline for one decision. The returned result is
// always non-nil and always satisfies the result invariants; the error
// is non-nil only when the save point itself could not be created.
func (uc *ExecuteDecisionUseCase) Execute(ctx context.Context, in ExecuteDecisionInput) (*decision.ExecutionResult, error) {
	d := in.Decision
	result := &decision.ExecutionResult{DecisionID: d.ID}

	if err := d.Validate(); err != nil {
		result.ErrorMessage = err.Error()
		result.FailureClass = decision.ClassifyFailure(err.Error())
		uc.log(ctx, in.RunID, d, result)
		return result, nil
	}

	// 1. Save point. Without it no later step can be rolled back, so a
	// failure here aborts before any mutation.
	savePointName := fmt.Sprintf("autopack/%s/%s", d.PhaseID, d.ID)
	savePoint, err := uc.workspace.CreateSavePoint(ctx, savePointName)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("save point creation failed: %v", err)
		result.FailureClass = decision.ClassifyFailure(result.ErrorMessage)
		uc.log(ctx, in.RunID, d, result)
		return result, fmt.Errorf("%w: %v", model.ErrSavePointFailed, err)
	}
	result.SavePoint = savePoint
	uc.logger.Debug("created save point %s for decision %s", savePoint, d.ID)

	// 2. Apply the patch. A failed apply leaves the workspace unchanged
	// so there is nothing to roll back yet.
	if err := uc.workspace.ApplyPatch(ctx, d.Patch); err != nil {
		result.ErrorMessage = fmt.Sprintf("Patch application failed: %v", err)
		result.FailureClass = decision.FailurePatchApply
		result.NeedsRetry = true
		uc.logger.Warn("decision %s: %s", d.ID, result.ErrorMessage)
		uc.log(ctx, in.RunID, d, result)
		return result, nil
	}
	result.PatchApplied = true

	// 3. Deliverables must exist on disk after the patch
	if err := uc.checkDeliverables(ctx, d); err != nil {
		return uc.fail(ctx, in.RunID, d, result, err.Error(), true)
	}
	result.DeliverablesValidated = true

	// 4. Acceptance tests
	if err := uc.runAcceptanceTests(ctx, in.AcceptanceTests); err != nil {
		return uc.fail(ctx, in.RunID, d, result, err.Error(), true)
	}
	result.TestsPassed = true

	// 5. Fix validation: confirm the original error is actually gone
	validation, err := uc.validateFix(ctx, in)
	result.ValidationResult = validation
	if err != nil {
		return uc.fail(ctx, in.RunID, d, result, err.Error(), true)
	}
	if validation != nil && !validation.Resolved {
		return uc.fail(ctx, in.RunID, d, result,
			fmt.Sprintf("fix validation failed: %s", validation.Reason), true)
	}
	result.FixValidated = true

	// 6. Commit with full decision metadata in the message
	sha, err := uc.workspace.CommitAll(ctx, uc.commitMessage(d))
	if err != nil {
		return uc.fail(ctx, in.RunID, d, result,
			fmt.Sprintf("commit failed: %v", err), false)
	}
	result.CommitSHA = sha
	result.Success = true

	uc.logger.Info("decision %s executed, commit %s", d.ID, sha)
	uc.log(ctx, in.RunID, d, result)
	return result, nil
}

// fail rolls the workspace back to the save point, classifies the
// failure, and reports. needsRetry marks failures the orchestrator may
// retry with a revised decision.
func (uc *ExecuteDecisionUseCase) fail(ctx context.Context, runID string, d *decision.Decision, result *decision.ExecutionResult, message string, needsRetry bool) (*decision.ExecutionResult, error) {
	result.Success = false
	result.ErrorMessage = message
	result.FailureClass = decision.ClassifyFailure(message)
	result.NeedsRetry = needsRetry

	if err := uc.workspace.RollbackTo(ctx, result.SavePoint); err != nil {
		// The workspace may now hold a partial fix; surface loudly.
		uc.logger.Error("rollback to %s failed after %q: %v", result.SavePoint, message, err)
		result.ErrorMessage = fmt.Sprintf("%s (rollback also failed: %v)", message, err)
		result.NeedsRetry = false
	} else {
		result.RollbackPerformed = true
		uc.logger.Warn("decision %s rolled back: %s", d.ID, message)
	}

	uc.log(ctx, runID, d, result)
	return result, nil
}

func (uc *ExecuteDecisionUseCase) checkDeliverables(ctx context.Context, d *decision.Decision) error {
	var missing []string
	for _, rel := range d.DeliverablesMet {
		exists, err := uc.workspace.Exists(ctx, rel)
		if err != nil {
			return fmt.Errorf("deliverable check for %s: %v", rel, err)
		}
		if !exists {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing deliverable path(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func (uc *ExecuteDecisionUseCase) runAcceptanceTests(ctx context.Context, tests []AcceptanceCommand) error {
	for _, t := range tests {
		out, err := uc.runner.Run(ctx, t.Name, t.Args...)
		if err != nil {
			return fmt.Errorf("acceptance test %s failed: %v: %s", t.Name, err, truncate(out, 500))
		}
	}
	return nil
}

// validateFix re-runs the originally failing command when a probe is
// configured. A returned error means the probe itself could not run;
// an unresolved result means the fix did not address the error.
func (uc *ExecuteDecisionUseCase) validateFix(ctx context.Context, in ExecuteDecisionInput) (*decision.ValidationResult, error) {
	if in.OriginalErrorProbe == nil {
		return nil, nil
	}

	out, err := uc.runner.Run(ctx, in.OriginalErrorProbe.Name, in.OriginalErrorProbe.Args...)
	v := &decision.ValidationResult{ProbeResults: []string{truncate(out, 500)}}

	if err != nil {
		v.Resolved = false
		if in.OriginalErrorSignature != "" && strings.Contains(out, in.OriginalErrorSignature) {
			v.OriginalErrorStillPresent = true
			v.Reason = "original error still present after patch"
		} else {
			v.Reason = fmt.Sprintf("probe failed: %v", err)
		}
		return v, nil
	}

	if in.OriginalErrorSignature != "" && strings.Contains(out, in.OriginalErrorSignature) {
		v.Resolved = false
		v.OriginalErrorStillPresent = true
		v.Reason = "original error signature present in probe output"
		return v, nil
	}

	v.Resolved = true
	v.Reason = "probe passed without original error"
	return v, nil
}

// commitMessage renders the audit trail that rides along with the fix
func (uc *ExecuteDecisionUseCase) commitMessage(d *decision.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fix(%s): %s\n\n", d.PhaseID, d.FixStrategy)
	fmt.Fprintf(&b, "Decision: %s\n", d.ID)
	fmt.Fprintf(&b, "Risk: %s, confidence %.2f\n", d.RiskLevel, d.Confidence)
	if d.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", d.Rationale)
	}
	if len(d.FilesModified) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(d.FilesModified, ", "))
	}
	if len(d.DeliverablesMet) > 0 {
		fmt.Fprintf(&b, "Deliverables: %s\n", strings.Join(d.DeliverablesMet, ", "))
	}
	return b.String()
}

// log writes the decision audit record; failures are logged, never fatal
func (uc *ExecuteDecisionUseCase) log(ctx context.Context, runID string, d *decision.Decision, result *decision.ExecutionResult) {
	if err := result.CheckInvariants(); err != nil {
		uc.logger.Error("execution result for %s violates invariants: %v", d.ID, err)
	}
	if uc.decisionLog == nil {
		return
	}
	record := &repository.DecisionLogRecord{
		RunID:     runID,
		Decision:  d,
		Result:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := uc.decisionLog.Save(ctx, record); err != nil && !errors.Is(err, context.Canceled) {
		uc.logger.Warn("decision log write failed for %s: %v", d.ID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
