package agent

import (
	"context"
	"fmt"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// MockAgentGateway is a canned Builder/Auditor used in shadow mode and
// tests. It approves everything and produces a trivial patch.
type MockAgentGateway struct {
	BuilderCalls int
	AuditorCalls int
}

// NewMockAgentGateway creates a MockAgentGateway
func NewMockAgentGateway() *MockAgentGateway {
	return &MockAgentGateway{}
}

// ExecuteBuilder returns a placeholder patch touching a notes file
func (g *MockAgentGateway) ExecuteBuilder(ctx context.Context, req output.BuilderRequest) (*output.PatchResult, error) {
	g.BuilderCalls++
	patch := fmt.Sprintf(`diff --git a/NOTES.md b/NOTES.md
new file mode 100644
--- /dev/null
+++ b/NOTES.md
@@ -0,0 +1,2 @@
+# %s
+Mock patch for %s
`, req.PhaseID, req.Objective)

	return &output.PatchResult{
		Patch:         patch,
		FilesModified: []string{"NOTES.md"},
		Model:         "mock",
	}, nil
}

// ExecuteAuditorReview approves unconditionally
func (g *MockAgentGateway) ExecuteAuditorReview(ctx context.Context, req output.AuditorRequest) (*output.AuditorResult, error) {
	g.AuditorCalls++
	return &output.AuditorResult{
		Approved: true,
		Verdict:  "mock approval",
	}, nil
}
