package output

import "context"

// Approval statuses observed through the approval-flow boundary
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalAnswered = "answered"
)

// ApprovalTicket identifies an in-flight approval or clarification
type ApprovalTicket struct {
	ApprovalID string
	Status     string
}

// ApprovalStatus is one poll observation
type ApprovalStatus struct {
	Status   string
	Response string // set when a clarification is answered
}

// ApprovalGateway is the RPC boundary to the human/approval service.
// The core blocks on it only through bounded polling.
type ApprovalGateway interface {
	RequestApproval(ctx context.Context, payload map[string]interface{}) (*ApprovalTicket, error)
	PollApprovalStatus(ctx context.Context, approvalID string) (*ApprovalStatus, error)

	RequestClarification(ctx context.Context, payload map[string]interface{}) (*ApprovalTicket, error)
	PollClarificationStatus(ctx context.Context, approvalID string) (*ApprovalStatus, error)
}

// RunStatus is the backing store's view of a run
type RunStatus struct {
	RunID         string
	State         string
	PhasesTotal   int
	PhasesPending int
}

// RunStatusGateway is the RPC boundary to the run backing store. A
// missing run surfaces as model.RunNotFoundError; transient errors
// surface as ordinary errors so callers can distinguish fatal from
// non-fatal failures.
type RunStatusGateway interface {
	GetRunStatus(ctx context.Context, runID string) (*RunStatus, error)
}
