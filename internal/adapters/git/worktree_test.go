package git_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

func TestWorktreeManager_Create(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create worktree with new branch
	wt, err := manager.Create(context.Background(), "test-task", "task-branch")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, wt.Branch, "task-branch")

	// Verify directory exists
	_, err = os.Stat(wt.Path)
	testutil.AssertNoError(t, err)

	// Verify it's a different path
	if wt.Path == repo.Path {
		t.Fatal("worktree path should be different from main repo")
	}
}

func TestWorktreeManager_Create_EmptyBranch(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	_, err = manager.Create(context.Background(), "test-task", "")
	testutil.AssertError(t, err)
}

func TestWorktreeManager_CreateExisting(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create first worktree
	_, err = manager.Create(context.Background(), "test", "branch1")
	testutil.AssertNoError(t, err)

	// Try to create with same name
	_, err = manager.Create(context.Background(), "test", "branch2")
	testutil.AssertError(t, err)
}

func TestWorktreeManager_List(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Initially just the main worktree
	worktrees, err := manager.List(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(worktrees), 1)

	// Add worktrees
	manager.Create(context.Background(), "wt1", "branch1")
	manager.Create(context.Background(), "wt2", "branch2")

	worktrees, err = manager.List(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(worktrees), 3)
}

func TestWorktreeManager_Remove(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create worktree
	wt, err := manager.Create(context.Background(), "test", "test-branch")
	testutil.AssertNoError(t, err)

	// Remove it
	err = manager.Remove(context.Background(), wt.Path, false)
	testutil.AssertNoError(t, err)

	// Verify removed
	_, err = os.Stat(wt.Path)
	if !os.IsNotExist(err) {
		t.Fatal("worktree directory should be removed")
	}
}

func TestWorktreeManager_Get(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create worktree
	created, err := manager.Create(context.Background(), "test", "test-branch")
	testutil.AssertNoError(t, err)

	// Get it
	wt, err := manager.Get(context.Background(), "test")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, wt.Path, created.Path)
	testutil.AssertEqual(t, wt.Branch, "test-branch")
}

func TestWorktreeManager_GetNotFound(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	_, err = manager.Get(context.Background(), "nonexistent")
	testutil.AssertError(t, err)
}

func TestWorktreeManager_ListManaged(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create managed worktree
	manager.Create(context.Background(), "managed", "managed-branch")

	// List managed (should only include ones in our base dir)
	managed, err := manager.ListManaged(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(managed), 1)
	testutil.AssertEqual(t, managed[0].Branch, "managed-branch")
}

func TestWorktreeManager_CreateFromCommit(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	commit := repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create detached worktree
	wt, err := manager.CreateFromCommit(context.Background(), "detached", commit[:10])
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, wt.Detached, "should be detached")
}

func TestWorktreeManager_BaseDir(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	testutil.AssertEqual(t, manager.BaseDir(), worktreeDir)
}

func TestWorktreeManager_RemoveInvalidPath(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Try to remove a path outside our base dir
	err = manager.Remove(context.Background(), "/tmp/random", false)
	testutil.AssertError(t, err)
}

func TestWorktreeManager_CreateClient(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	worktreeDir := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, worktreeDir)

	// Create worktree
	wt, err := manager.Create(context.Background(), "test", "test-branch")
	testutil.AssertNoError(t, err)

	// Create client for worktree
	wtClient, err := manager.CreateClient(wt.Path)
	testutil.AssertNoError(t, err)

	// Verify it works
	branch, err := wtClient.CurrentBranch(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "test-branch")
}

// =============================================================================
// ConductorWorktreeManager tests (spec §4.B: acquire/release/merge_into/sweep)
// =============================================================================

func TestConductorWorktreeManager_Acquire(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	stagingRoot := testutil.TempDir(t)
	manager := git.NewConductorWorktreeManager(client, stagingRoot)

	handle, err := manager.Acquire(context.Background(), repo.Path, "Feature Setup!!", "run-123")
	testutil.AssertNoError(t, err)
	if !strings.HasPrefix(handle.Branch, "conductor/feature-setup-") {
		t.Fatalf("expected conductor/feature-setup-<suffix> branch, got %s", handle.Branch)
	}
	testutil.AssertEqual(t, handle.Label, "feature-setup")
	testutil.AssertEqual(t, string(handle.OwnerRunID), "run-123")

	_, err = os.Stat(handle.Path)
	testutil.AssertNoError(t, err)
}

func TestConductorWorktreeManager_Acquire_EmptyLabelFallsBackToTask(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	stagingRoot := testutil.TempDir(t)
	manager := git.NewConductorWorktreeManager(client, stagingRoot)

	handle, err := manager.Acquire(context.Background(), repo.Path, "日本語のタスク", "run-901")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, handle.Label, "task")
}

func TestConductorWorktreeManager_Release(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	stagingRoot := testutil.TempDir(t)
	manager := git.NewConductorWorktreeManager(client, stagingRoot)

	handle, err := manager.Acquire(context.Background(), repo.Path, "cleanup staging", "run-789")
	testutil.AssertNoError(t, err)

	err = manager.Release(context.Background(), handle, core.ReleaseDiscard)
	testutil.AssertNoError(t, err)

	_, err = os.Stat(handle.Path)
	testutil.AssertError(t, err)
}

func TestConductorWorktreeManager_Sweep_RemovesUnownedWorktree(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := git.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	stagingRoot := testutil.TempDir(t)
	manager := git.NewWorktreeManager(client, stagingRoot)
	manager.WithPrefix("")
	_, err = manager.Create(context.Background(), "stray", "not-conductor-prefixed")
	testutil.AssertNoError(t, err)

	cwm := git.NewConductorWorktreeManager(client, stagingRoot)
	testutil.AssertNoError(t, cwm.Sweep(context.Background()))

	_, err = os.Stat(filepath.Join(stagingRoot, "stray"))
	testutil.AssertError(t, err)
}
