package decision

import "strings"

// FailureClass buckets a free-text error into a known failure mode.
// The classification is informational context attached to rollback
// records; it never changes executor control flow.
type FailureClass string

const (
	FailurePatchApply       FailureClass = "patch_apply_error"
	FailureCI               FailureClass = "ci_fail"
	FailureDepsMissing      FailureClass = "deps_missing"
	FailureMissingPath      FailureClass = "missing_path"
	FailureTimeout          FailureClass = "timeout"
	FailurePermissionDenied FailureClass = "permission_denied"
	FailureBaseline         FailureClass = "baseline"
)

// classifierRules maps substring signatures to failure classes.
// Order matters: more specific signatures first.
var classifierRules = []struct {
	class      FailureClass
	signatures []string
}{
	{FailurePatchApply, []string{"hunk #", "merge conflict", "patch does not apply", "corrupt patch", "3-way", "patch failed", "patch application failed"}},
	{FailureDepsMissing, []string{"importerror", "modulenotfounderror", "no module named", "cannot find package", "cannot find module", "undefined symbol"}},
	{FailureMissingPath, []string{"no such file or directory", "file not found", "path does not exist", "enoent"}},
	{FailureTimeout, []string{"timeout", "timed out", "deadline exceeded", "context canceled"}},
	{FailurePermissionDenied, []string{"permission denied", "operation not permitted", "eacces", "forbidden"}},
	{FailureCI, []string{"test failed", "tests failed", "assertion", "build failed", "exit status", "ci fail", "--- fail"}},
}

// ClassifyFailure infers a failure class from an error string using
// keyword heuristics. Unknown signatures fall through to baseline.
func ClassifyFailure(errText string) FailureClass {
	lowered := strings.ToLower(errText)
	if lowered == "" {
		return FailureBaseline
	}

	for _, rule := range classifierRules {
		for _, sig := range rule.signatures {
			if strings.Contains(lowered, sig) {
				return rule.class
			}
		}
	}
	return FailureBaseline
}
