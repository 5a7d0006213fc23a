package output

import "context"

// WorkspaceGateway abstracts the version-controlled workspace the
// decision executor mutates. During a fix attempt the executor owns the
// workspace exclusively; no other component may mutate it concurrently.
type WorkspaceGateway interface {
	// CreateSavePoint produces a restorable marker of the current
	// workspace state (a tag) before any mutation.
	CreateSavePoint(ctx context.Context, name string) (string, error)

	// ApplyPatch attempts strict application, falling back to a
	// three-way merge. Returns an error when both fail; the workspace
	// is unchanged in that case.
	ApplyPatch(ctx context.Context, patch string) error

	// RollbackTo restores the workspace bit-for-bit to a save point
	RollbackTo(ctx context.Context, savePoint string) error

	// CommitAll stages and commits all changes, returning the commit SHA
	CommitAll(ctx context.Context, message string) (string, error)

	// Exists reports whether a path exists relative to the workspace root
	Exists(ctx context.Context, relPath string) (bool, error)
}

// CommandRunner executes acceptance-test and probe commands inside the
// workspace. Output is combined stdout+stderr.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}
