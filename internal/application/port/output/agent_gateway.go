package output

import (
	"context"
	"time"
)

// BuilderGateway is the boundary to the Builder LLM. Prompt construction
// and model selection happen behind it; the orchestrator only sees the
// resulting patch.
type BuilderGateway interface {
	// ExecuteBuilder produces a patch for the phase
	ExecuteBuilder(ctx context.Context, req BuilderRequest) (*PatchResult, error)
}

// AuditorGateway is the boundary to the Auditor LLM review step.
type AuditorGateway interface {
	// ExecuteAuditorReview reviews a patch against project rules
	ExecuteAuditorReview(ctx context.Context, req AuditorRequest) (*AuditorResult, error)
}

// BuilderRequest carries everything the Builder needs for one attempt
type BuilderRequest struct {
	RunID           string
	PhaseID         string
	Objective       string
	AttemptIndex    int
	EscalationLevel int
	AllowedPaths    []string
	Hints           map[string]string
	Timeout         time.Duration
}

// PatchResult is the Builder's output for one attempt
type PatchResult struct {
	Patch         string
	FilesModified []string
	TokensUsed    int
	Model         string
	Duration      time.Duration
}

// AuditorRequest carries the patch under review. AttemptIndex lets the
// gateway escalate to a stronger reviewer model at higher attempts.
type AuditorRequest struct {
	RunID        string
	PhaseID      string
	PatchContent string
	ProjectRules []string
	RunHints     map[string]string
	AttemptIndex int
	CIResults    string
	Timeout      time.Duration
}

// AuditorResult is the Auditor's verdict on a patch
type AuditorResult struct {
	Approved      bool
	Verdict       string
	Issues        []string
	CoverageDelta float64
	TokensUsed    int
	Duration      time.Duration
}
