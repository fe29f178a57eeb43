package git

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// PortAdapter implements core.GitClient by constructing a scoped *Client
// per call. git operations here are path-scoped rather than bound to one
// repository, so no client instance is cached across calls.
type PortAdapter struct{}

// NewPortAdapter returns a core.GitClient backed by the CLI-shelling Client.
func NewPortAdapter() *PortAdapter {
	return &PortAdapter{}
}

var _ core.GitClient = (*PortAdapter)(nil)

func (a *PortAdapter) RepoRoot(ctx context.Context) (string, error) {
	c, err := NewClient(".")
	if err != nil {
		return "", err
	}
	return c.RepoRoot(ctx)
}

func (a *PortAdapter) DefaultBranch(ctx context.Context) (string, error) {
	c, err := NewClient(".")
	if err != nil {
		return "", err
	}
	return c.DefaultBranch(ctx)
}

// InRebaseOrMerge reports whether repoPath is currently mid-rebase or
// mid-merge, per the BusyRepo acquire() precondition (spec §4.B).
func (a *PortAdapter) InRebaseOrMerge(ctx context.Context, repoPath string) (bool, error) {
	c, err := NewClient(repoPath)
	if err != nil {
		return false, err
	}
	if rebasing, err := c.HasRebaseInProgress(ctx); err != nil {
		return false, err
	} else if rebasing {
		return true, nil
	}
	return c.HasMergeConflicts(ctx)
}

func (a *PortAdapter) AddWorktree(ctx context.Context, repoPath, worktreePath, branch, baseBranch string) error {
	c, err := NewClient(repoPath)
	if err != nil {
		return err
	}
	wm := NewWorktreeManager(c, "")
	_, err = wm.CreateFromBranch(ctx, branch, branch, baseBranch)
	_ = worktreePath // path is derived by the manager from its staging root
	return err
}

func (a *PortAdapter) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	c, err := NewClient(repoPath)
	if err != nil {
		return err
	}
	return c.RemoveWorktree(ctx, worktreePath)
}

func (a *PortAdapter) ListWorktrees(ctx context.Context, repoPath string) ([]core.Worktree, error) {
	c, err := NewClient(repoPath)
	if err != nil {
		return nil, err
	}
	wts, err := c.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]core.Worktree, 0, len(wts))
	for _, wt := range wts {
		result = append(result, core.Worktree{Path: wt.Path, Branch: wt.Branch, Commit: wt.Commit})
	}
	return result, nil
}

func (a *PortAdapter) MergeBranch(ctx context.Context, repoPath, branch, originBranch string) (*core.MergeResult, error) {
	c, err := NewClient(repoPath)
	if err != nil {
		return nil, err
	}
	if err := c.CheckoutBranch(ctx, originBranch); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", originBranch, err)
	}
	if err := c.Merge(ctx, branch, MergeOptions{NoFastForward: true, Message: "merge " + branch}); err != nil {
		files, fErr := c.GetConflictFiles(ctx)
		if fErr == nil && len(files) > 0 {
			_ = c.AbortMerge(ctx)
			return &core.MergeResult{ConflictFiles: files}, nil
		}
		return nil, err
	}
	commit, _ := c.CurrentCommit(ctx)
	return &core.MergeResult{MergeCommit: commit}, nil
}

func (a *PortAdapter) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	c, err := NewClient(repoPath)
	if err != nil {
		return err
	}
	return c.DeleteBranchForce(ctx, branch)
}
