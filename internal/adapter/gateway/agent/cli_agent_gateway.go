package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// CLIAgentGateway implements the Builder and Auditor boundaries by
// executing a coding-agent CLI with a constructed prompt. The same
// binary serves both roles; the prompt decides which one runs.
type CLIAgentGateway struct {
	bin        string
	extraArgs  []string
	workingDir string
	timeout    time.Duration
}

// NewCLIAgentGateway creates a gateway around an agent binary
func NewCLIAgentGateway(bin, workingDir string, timeout time.Duration, extraArgs ...string) *CLIAgentGateway {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CLIAgentGateway{
		bin:        bin,
		extraArgs:  extraArgs,
		workingDir: workingDir,
		timeout:    timeout,
	}
}

// ExecuteBuilder asks the agent for a unified diff implementing the
// phase objective. Everything outside the diff fences is discarded.
func (g *CLIAgentGateway) ExecuteBuilder(ctx context.Context, req output.BuilderRequest) (*output.PatchResult, error) {
	start := time.Now()

	prompt := g.builderPrompt(req)
	raw, err := g.run(ctx, prompt, req.Timeout)
	if err != nil {
		return nil, fmt.Errorf("builder agent failed: %w", err)
	}

	patch := extractDiff(raw)
	if patch == "" {
		return nil, fmt.Errorf("builder agent produced no patch for phase %s", req.PhaseID)
	}

	return &output.PatchResult{
		Patch:         patch,
		FilesModified: filesInDiff(patch),
		Duration:      time.Since(start),
	}, nil
}

// ExecuteAuditorReview asks the agent to review a patch. The agent is
// instructed to answer with a JSON verdict; a response that cannot be
// parsed is treated as a rejection, not an error.
func (g *CLIAgentGateway) ExecuteAuditorReview(ctx context.Context, req output.AuditorRequest) (*output.AuditorResult, error) {
	start := time.Now()

	raw, err := g.run(ctx, g.auditorPrompt(req), req.Timeout)
	if err != nil {
		return nil, fmt.Errorf("auditor agent failed: %w", err)
	}

	result := parseAuditorVerdict(raw)
	result.Duration = time.Since(start)
	return result, nil
}

func (g *CLIAgentGateway) run(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 || timeout > g.timeout {
		timeout = g.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, g.extraArgs...), "-p", prompt)
	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Dir = g.workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %v: %s", g.bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (g *CLIAgentGateway) builderPrompt(req output.BuilderRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing phase %s of run %s.\n\n", req.PhaseID, req.RunID)
	fmt.Fprintf(&b, "Objective:\n%s\n\n", req.Objective)
	if len(req.AllowedPaths) > 0 {
		fmt.Fprintf(&b, "Only modify files under: %s\n", strings.Join(req.AllowedPaths, ", "))
	}
	if req.AttemptIndex > 0 {
		fmt.Fprintf(&b, "This is attempt %d; the previous attempts failed.\n", req.AttemptIndex+1)
	}
	if req.EscalationLevel > 0 {
		fmt.Fprintf(&b, "Escalation level %d: reconsider the approach, not just the diff.\n", req.EscalationLevel)
	}
	for k, v := range req.Hints {
		fmt.Fprintf(&b, "Hint (%s): %s\n", k, v)
	}
	b.WriteString("\nRespond with a single unified diff inside a ```diff fence and nothing else.\n")
	return b.String()
}

func (g *CLIAgentGateway) auditorPrompt(req output.AuditorRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this patch for phase %s of run %s.\n\n", req.PhaseID, req.RunID)
	if len(req.ProjectRules) > 0 {
		fmt.Fprintf(&b, "Project rules:\n- %s\n\n", strings.Join(req.ProjectRules, "\n- "))
	}
	if req.CIResults != "" {
		fmt.Fprintf(&b, "CI results:\n%s\n\n", req.CIResults)
	}
	fmt.Fprintf(&b, "Patch:\n```diff\n%s\n```\n\n", req.PatchContent)
	b.WriteString(`Respond with JSON only: {"approved": bool, "verdict": string, "issues": [string]}` + "\n")
	return b.String()
}

// extractDiff pulls the first fenced diff block out of agent output,
// falling back to the whole output when it already looks like a diff.
func extractDiff(raw string) string {
	if idx := strings.Index(raw, "```diff"); idx >= 0 {
		rest := raw[idx+len("```diff"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "diff --git") || strings.HasPrefix(trimmed, "--- ") {
		return trimmed
	}
	return ""
}

// filesInDiff lists the b/ paths named in a unified diff
func filesInDiff(patch string) []string {
	var files []string
	seen := map[string]bool{}
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "+++ b/") {
			continue
		}
		path := strings.TrimPrefix(line, "+++ b/")
		if path != "" && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}

type auditorVerdictJSON struct {
	Approved bool     `json:"approved"`
	Verdict  string   `json:"verdict"`
	Issues   []string `json:"issues"`
}

// parseAuditorVerdict finds the verdict JSON in agent output. Anything
// unparseable is a rejection so a confused reviewer can never approve.
func parseAuditorVerdict(raw string) *output.AuditorResult {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return &output.AuditorResult{Approved: false, Verdict: "unparseable auditor response"}
	}

	var verdict auditorVerdictJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return &output.AuditorResult{Approved: false, Verdict: "unparseable auditor response"}
	}
	return &output.AuditorResult{
		Approved: verdict.Approved,
		Verdict:  verdict.Verdict,
		Issues:   verdict.Issues,
	}
}
