package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// GitWorkspaceGateway implements output.WorkspaceGateway over a git
// working tree. Save points are lightweight tags; rollback is a hard
// reset to the tagged commit. Patch application shells out to git so
// the 3-way fallback matches what an operator would run by hand.
type GitWorkspaceGateway struct {
	root   string
	runner output.CommandRunner
	logger output.Logger
}

// NewGitWorkspaceGateway opens the repository at root to validate it
// before any caller depends on it.
func NewGitWorkspaceGateway(root string, runner output.CommandRunner, logger output.Logger) (*GitWorkspaceGateway, error) {
	if _, err := git.PlainOpen(root); err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", root, err)
	}
	if logger == nil {
		logger = output.NopLogger{}
	}
	if runner == nil {
		runner = &ExecCommandRunner{Dir: root}
	}
	return &GitWorkspaceGateway{root: root, runner: runner, logger: logger}, nil
}

// CreateSavePoint tags the current HEAD. The tag name doubles as the
// save point identifier handed back to the caller.
func (g *GitWorkspaceGateway) CreateSavePoint(ctx context.Context, name string) (string, error) {
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return "", fmt.Errorf("open workspace: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	tagName := sanitizeTagName(name)
	if _, err := repo.CreateTag(tagName, head.Hash(), nil); err != nil {
		return "", fmt.Errorf("tag %s: %w", tagName, err)
	}
	g.logger.Debug("save point %s at %s", tagName, head.Hash())
	return tagName, nil
}

// ApplyPatch applies a unified diff, strict first, then a 3-way merge.
// When both fail the working tree is left untouched and the combined
// error is returned.
func (g *GitWorkspaceGateway) ApplyPatch(ctx context.Context, patch string) error {
	patchFile, err := g.writePatchFile(patch)
	if err != nil {
		return err
	}
	defer os.Remove(patchFile)

	if out, err := g.runner.Run(ctx, "git", "apply", "--index", patchFile); err == nil {
		return nil
	} else {
		g.logger.Debug("strict apply failed, trying 3-way: %v (%s)", err, firstLine(out))
	}

	out, err := g.runner.Run(ctx, "git", "apply", "--3way", "--index", patchFile)
	if err != nil {
		return fmt.Errorf("git apply failed (strict and 3-way): %v: %s", err, firstLine(out))
	}
	return nil
}

// RollbackTo hard-resets the working tree to a save point tag
func (g *GitWorkspaceGateway) RollbackTo(ctx context.Context, savePoint string) error {
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(savePoint))
	if err != nil {
		return fmt.Errorf("resolve save point %s: %w", savePoint, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: *hash}); err != nil {
		return fmt.Errorf("reset to %s: %w", savePoint, err)
	}

	// Hard reset leaves files the patch created untracked; clean them
	// so the rollback is bit-for-bit.
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("clean after reset: %w", err)
	}
	g.logger.Info("rolled back workspace to %s", savePoint)
	return nil
}

// CommitAll stages every change and commits, returning the commit SHA
func (g *GitWorkspaceGateway) CommitAll(ctx context.Context, message string) (string, error) {
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return "", fmt.Errorf("open workspace: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "autopack",
			Email: "autopack@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// Exists reports whether a path exists relative to the workspace root
func (g *GitWorkspaceGateway) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := os.Stat(filepath.Join(g.root, relPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (g *GitWorkspaceGateway) writePatchFile(patch string) (string, error) {
	f, err := os.CreateTemp("", "autopack-*.patch")
	if err != nil {
		return "", fmt.Errorf("create patch file: %w", err)
	}
	if _, err := f.WriteString(patch); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write patch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// sanitizeTagName makes a string safe for use as a git ref component
func sanitizeTagName(name string) string {
	replacer := strings.NewReplacer(" ", "-", "~", "-", "^", "-", ":", "-", "?", "-", "*", "-", "[", "-", "\\", "-")
	return replacer.Replace(name)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ExecCommandRunner runs commands in the workspace directory with
// combined output.
type ExecCommandRunner struct {
	Dir string
}

// Run executes a command, returning combined stdout and stderr
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
