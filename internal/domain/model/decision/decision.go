package decision

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type classifies a decision. Only CLEAR_FIX decisions are executable;
// other types require replanning outside the executor.
type Type string

const (
	TypeClearFix Type = "CLEAR_FIX"
)

// IsExecutable reports whether the decision executor may run this type
func (t Type) IsExecutable() bool {
	return t == TypeClearFix
}

// RiskLevel is the reasoning step's assessment of a fix
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Decision is a proposed fix for a failing phase. It is produced by an
// external reasoning step, consumed exactly once by the executor, and
// immutable after creation.
type Decision struct {
	ID              string
	Type            Type
	PhaseID         string
	FixStrategy     string
	Rationale       string
	RiskLevel       RiskLevel
	Patch           string
	FilesModified   []string
	NetDeletion     int
	Confidence      float64
	DeliverablesMet []string
	CreatedAt       time.Time
}

// NewDecisionID mints a sortable decision identifier
func NewDecisionID() string {
	return ulid.Make().String()
}

// Validate checks the decision is structurally executable
func (d *Decision) Validate() error {
	if d.ID == "" {
		return errors.New("decision ID is required")
	}
	if d.PhaseID == "" {
		return errors.New("decision must target a phase")
	}
	if !d.Type.IsExecutable() {
		return fmt.Errorf("decision type %s is not executable", d.Type)
	}
	if d.Patch == "" {
		return errors.New("decision carries no patch")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range [0,1]", d.Confidence)
	}
	return nil
}

// ValidationResult is the outcome of re-checking whether the original
// error is resolved after a fix. resolved == false obliges a rollback.
type ValidationResult struct {
	Resolved                  bool     `json:"resolved"`
	Reason                    string   `json:"reason"`
	OriginalErrorStillPresent bool     `json:"original_error_still_present"`
	ProbeResults              []string `json:"probe_results,omitempty"`
}

// ExecutionResult is the outcome of attempting to execute one decision.
//
// Invariants: RollbackPerformed implies !Success; Success implies
// !RollbackPerformed and a non-empty CommitSHA.
type ExecutionResult struct {
	Success               bool              `json:"success"`
	DecisionID            string            `json:"decision_id"`
	SavePoint             string            `json:"save_point,omitempty"`
	PatchApplied          bool              `json:"patch_applied"`
	DeliverablesValidated bool              `json:"deliverables_validated"`
	TestsPassed           bool              `json:"tests_passed"`
	FixValidated          bool              `json:"fix_validated"`
	NeedsRetry            bool              `json:"needs_retry"`
	RollbackPerformed     bool              `json:"rollback_performed"`
	CommitSHA             string            `json:"commit_sha,omitempty"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	FailureClass          FailureClass      `json:"failure_class,omitempty"`
	ValidationResult      *ValidationResult `json:"validation_result,omitempty"`
}

// CheckInvariants verifies the cross-field invariants of a result.
// Used by tests and the executor's own exit path.
func (r *ExecutionResult) CheckInvariants() error {
	if r.RollbackPerformed && r.Success {
		return errors.New("rollback_performed implies success=false")
	}
	if r.Success && r.CommitSHA == "" {
		return errors.New("success requires a commit SHA")
	}
	return nil
}
