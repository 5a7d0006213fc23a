package execution

import (
	"errors"
	"time"
)

// PhaseSpec is the scope the orchestrator executes a phase against
type PhaseSpec struct {
	RunID              string
	PhaseID            string
	Objective          string
	Deliverables       []string
	AcceptanceCriteria []AcceptanceCommand
	AllowedPaths       []string
	ProtectedPaths     []string
	ProjectRules       []string
	Hints              map[string]string

	// OriginalErrorProbe, when set, makes every decision execution
	// re-run the originally failing command to confirm the error is
	// actually gone (the diagnostic "doctor" pass).
	OriginalErrorProbe     *AcceptanceCommand
	OriginalErrorSignature string
}

// ExecutionContext bundles one phase execution. The deadline is
// mandatory: there is no unmetered execution path.
type ExecutionContext struct {
	Spec            PhaseSpec
	AttemptIndex    int
	MaxAttempts     int
	EscalationLevel int
	Deadline        time.Duration
}

// Validate rejects contexts that would permit unbounded execution
func (c *ExecutionContext) Validate() error {
	if c.Spec.PhaseID == "" {
		return errors.New("execution context requires a phase ID")
	}
	if c.Deadline <= 0 {
		return errors.New("execution context requires a positive deadline")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("execution context requires a positive attempt ceiling")
	}
	return nil
}

// AttemptCounters aggregates how an attempt sequence went. Counters
// only ratchet upward within a phase execution.
type AttemptCounters struct {
	TotalFailures     int `json:"total_failures"`
	HTTP500Count      int `json:"http_500_count"`
	PatchFailureCount int `json:"patch_failure_count"`
	DoctorCalls       int `json:"doctor_calls"`
	ReplanCount       int `json:"replan_count"`
}

// Terminal phase results reported by the orchestrator
const (
	PhaseResultComplete = "COMPLETE"
	PhaseResultFailed   = "FAILED"
)

// Outcome status tags
const (
	StatusApprovedAndPassed    = "APPROVED_AND_PASSED"
	StatusMaxAttemptsExhausted = "MAX_ATTEMPTS_EXHAUSTED"
	StatusDeadlineExceeded     = "DEADLINE_EXCEEDED"
	StatusBuilderError         = "BUILDER_ERROR"
	StatusAuditorRejected      = "AUDITOR_REJECTED"
)

// AttemptResult is the orchestrator's outcome for one phase. It is a
// different shape from the decision executor's result: this one reports
// the attempt loop, not a single patch pipeline.
type AttemptResult struct {
	Success         bool            `json:"success"`
	Status          string          `json:"status"`
	PhaseResult     string          `json:"phase_result"`
	UpdatedCounters AttemptCounters `json:"updated_counters"`
	ShouldContinue  bool            `json:"should_continue"`
	TokensUsed      int             `json:"tokens_used"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
}
