package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
)

// Compile-time interface conformance check.
var _ core.WorktreeManager = (*ConductorWorktreeManager)(nil)

// resolvePath resolves symlinks and returns an absolute path.
// This is needed for cross-platform path comparison (e.g., macOS /var -> /private/var).
func resolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// If we can't resolve, return absolute path
		abs, err := filepath.Abs(path)
		if err != nil {
			return path
		}
		return abs
	}
	return resolved
}

const (
	worktreeNameSeparator = "__"
	worktreeLabelMaxLen   = 48
)

// sanitizeLabel derives the sanitized label from a task title per §4.B:
// lowercase alphanumerics and hyphens, max 40 chars, empty -> "task".
func sanitizeLabel(title string) string {
	label := normalizeLabel(title, 40)
	if label == "" {
		return "task"
	}
	return label
}

func normalizeLabel(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastDash := false
	for _, r := range trimmed {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
		if maxLen > 0 && b.Len() >= maxLen {
			break
		}
	}

	return strings.Trim(b.String(), "-")
}

func validateWorktreeName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_NAME_REQUIRED", "worktree name required")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, "/\\") {
		return core.ErrValidation("WORKTREE_NAME_INVALID", "worktree name contains invalid path characters")
	}
	return nil
}

func validateWorktreeBranch(branch string) error {
	trimmed := strings.TrimSpace(branch)
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_BRANCH_REQUIRED", "worktree branch required")
	}
	if strings.Contains(trimmed, " ") || strings.Contains(trimmed, "..") {
		return core.ErrValidation("WORKTREE_BRANCH_INVALID", "worktree branch contains invalid characters")
	}
	return nil
}

func resolveWorktreeBranch(name, branch string) (string, error) {
	candidate := strings.TrimSpace(branch)
	if candidate == "" {
		candidate = "quorum/" + name
	}
	if err := validateWorktreeBranch(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// WorktreeManager manages git worktrees.
type WorktreeManager struct {
	git     *Client
	baseDir string
	prefix  string
}

// NewWorktreeManager creates a new worktree manager.
func NewWorktreeManager(git *Client, baseDir string) *WorktreeManager {
	if baseDir == "" {
		baseDir = filepath.Join(git.RepoPath(), ".worktrees")
	}

	return &WorktreeManager{
		git:     git,
		baseDir: baseDir,
		prefix:  "quorum-",
	}
}

// Worktree represents a git worktree.
type Worktree struct {
	Path      string
	Branch    string
	Commit    string
	Detached  bool
	Locked    bool
	IsLocked  bool
	IsMain    bool
	Prunable  bool
	CreatedAt time.Time
}

// Create creates a new worktree for a branch.
func (m *WorktreeManager) Create(ctx context.Context, name, branch string) (*Worktree, error) {
	return m.CreateFromBranch(ctx, name, branch, "")
}

// CreateFromBranch creates a new worktree for a branch, optionally from a base branch.
// If baseBranch is empty and the branch doesn't exist, it will be created from HEAD.
// If baseBranch is specified and the branch doesn't exist, it will be created from baseBranch.
func (m *WorktreeManager) CreateFromBranch(ctx context.Context, name, branch, baseBranch string) (*Worktree, error) {
	if err := validateWorktreeName(name); err != nil {
		return nil, err
	}
	if err := validateWorktreeBranch(branch); err != nil {
		return nil, err
	}

	// Ensure base directory exists
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	// Generate worktree path
	worktreePath := filepath.Join(m.baseDir, m.prefix+name)

	// Check if already exists
	if _, err := os.Stat(worktreePath); err == nil {
		return nil, core.ErrValidation("WORKTREE_EXISTS",
			fmt.Sprintf("worktree %s already exists", name))
	}

	// Determine if branch exists
	branches, err := m.git.ListBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	branchExists := false
	for _, b := range branches {
		if b == branch {
			branchExists = true
			break
		}
	}

	// Create worktree
	var args []string
	if branchExists {
		args = []string{"worktree", "add", worktreePath, branch}
	} else {
		// Create new branch
		if baseBranch != "" {
			// Create from specified base branch (for dependencies)
			args = []string{"worktree", "add", "-b", branch, worktreePath, baseBranch}
		} else {
			// Create from current HEAD
			args = []string{"worktree", "add", "-b", branch, worktreePath}
		}
	}

	_, err = m.git.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	// Get worktree info
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	resolvedPath := resolvePath(worktreePath)
	for _, wt := range worktrees {
		if resolvePath(wt.Path) == resolvedPath {
			wt.CreatedAt = time.Now()
			return &wt, nil
		}
	}

	return &Worktree{
		Path:      worktreePath,
		Branch:    branch,
		CreatedAt: time.Now(),
	}, nil
}

// CreateFromCommit creates a detached worktree from a commit.
func (m *WorktreeManager) CreateFromCommit(ctx context.Context, name, commit string) (*Worktree, error) {
	if err := validateWorktreeName(name); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	worktreePath := filepath.Join(m.baseDir, m.prefix+name)

	if _, err := os.Stat(worktreePath); err == nil {
		return nil, core.ErrValidation("WORKTREE_EXISTS",
			fmt.Sprintf("worktree %s already exists", name))
	}

	_, err := m.git.run(ctx, "worktree", "add", "--detach", worktreePath, commit)
	if err != nil {
		return nil, fmt.Errorf("creating detached worktree: %w", err)
	}

	return &Worktree{
		Path:      worktreePath,
		Commit:    commit,
		Detached:  true,
		CreatedAt: time.Now(),
	}, nil
}

// Remove removes a worktree.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	// Check if path is within our base directory (using resolved paths for cross-platform)
	resolvedPath := resolvePath(path)
	resolvedBase := resolvePath(m.baseDir)
	if !strings.HasPrefix(resolvedPath, resolvedBase) {
		return core.ErrValidation("INVALID_WORKTREE",
			"worktree is not managed by this manager")
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	_, err := m.git.run(ctx, args...)
	return err
}

// List returns all worktrees.
func (m *WorktreeManager) List(ctx context.Context) ([]Worktree, error) {
	output, err := m.git.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	return m.parseWorktreeList(output), nil
}

// parseWorktreeList parses git worktree list output.
func (m *WorktreeManager) parseWorktreeList(output string) []Worktree {
	worktrees := make([]Worktree, 0)
	var current *Worktree

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{
				Path: strings.TrimPrefix(line, "worktree "),
			}
		case current != nil:
			switch {
			case strings.HasPrefix(line, "HEAD "):
				current.Commit = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			case line == "detached":
				current.Detached = true
			case line == "locked":
				current.Locked = true
			case line == "prunable":
				current.Prunable = true
			}
		}
	}

	if current != nil {
		worktrees = append(worktrees, *current)
	}

	return worktrees
}

// ListManaged returns only worktrees created by this manager.
func (m *WorktreeManager) ListManaged(ctx context.Context) ([]Worktree, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	resolvedBase := resolvePath(m.baseDir)
	managed := make([]Worktree, 0)
	for _, wt := range all {
		if strings.HasPrefix(resolvePath(wt.Path), resolvedBase) {
			managed = append(managed, wt)
		}
	}
	return managed, nil
}

// Get returns a specific worktree.
func (m *WorktreeManager) Get(ctx context.Context, name string) (*Worktree, error) {
	path := filepath.Join(m.baseDir, m.prefix+name)

	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	resolvedPath := resolvePath(path)
	for _, wt := range worktrees {
		if resolvePath(wt.Path) == resolvedPath {
			return &wt, nil
		}
	}

	return nil, core.ErrNotFound("worktree", name)
}

// Lock locks a worktree to prevent accidental removal.
func (m *WorktreeManager) Lock(ctx context.Context, path, reason string) error {
	args := []string{"worktree", "lock", path}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	_, err := m.git.run(ctx, args...)
	return err
}

// Unlock unlocks a worktree.
func (m *WorktreeManager) Unlock(ctx context.Context, path string) error {
	_, err := m.git.run(ctx, "worktree", "unlock", path)
	return err
}

// Prune removes stale worktree entries.
func (m *WorktreeManager) Prune(ctx context.Context, dryRun bool) ([]string, error) {
	args := []string{"worktree", "prune"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--verbose")

	output, err := m.git.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	// Parse pruned paths
	pruned := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Removing") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				pruned = append(pruned, parts[1])
			}
		}
	}

	return pruned, nil
}

// CleanupStale removes all stale worktrees created by this manager.
func (m *WorktreeManager) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	managed, err := m.ListManaged(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	now := time.Now()

	for _, wt := range managed {
		// Check if directory still exists
		info, err := os.Stat(wt.Path)
		if os.IsNotExist(err) {
			continue
		}

		// Check age based on modification time
		if info != nil && maxAge > 0 {
			age := now.Sub(info.ModTime())
			if age < maxAge {
				continue
			}
		}

		// Remove if prunable or forced by age
		if wt.Prunable || (maxAge > 0 && info != nil) {
			if err := m.Remove(ctx, wt.Path, true); err == nil {
				cleaned++
			}
		}
	}

	// Also run git prune (errors are non-fatal for cleanup)
	_, _ = m.Prune(ctx, false)

	return cleaned, nil
}

// CreateClient creates a git client for a worktree.
func (m *WorktreeManager) CreateClient(worktreePath string) (*Client, error) {
	return NewClient(worktreePath)
}

// BaseDir returns the base directory for worktrees.
func (m *WorktreeManager) BaseDir() string {
	return m.baseDir
}

// WithPrefix sets a custom prefix for worktree names.
func (m *WorktreeManager) WithPrefix(prefix string) *WorktreeManager {
	m.prefix = prefix
	return m
}

// =============================================================================
// ConductorWorktreeManager - implements core.WorktreeManager (spec §4.B)
// =============================================================================

// conductorBranchPrefix is the deterministic branch/directory naming
// convention that lets sweep() recognize worktrees it owns.
const conductorBranchPrefix = "conductor/"

// markerFiles are git state markers whose presence indicates the repository
// is mid-rebase or mid-merge (acquire's BusyRepo check).
var markerFiles = []string{
	"MERGE_HEAD",
	"rebase-merge",
	"rebase-apply",
	"CHERRY_PICK_HEAD",
}

// ConductorWorktreeManager creates, labels, and destroys isolated git
// worktrees under a process-wide staging root, one per AgentRun.
type ConductorWorktreeManager struct {
	manager *WorktreeManager
	logger  *logging.Logger
	owners  map[string]core.AgentRunID // worktree path -> owning run, for sweep()
}

// NewConductorWorktreeManager creates a worktree manager rooted at
// stagingRoot (process-wide, created on first use per §5).
func NewConductorWorktreeManager(git *Client, stagingRoot string) *ConductorWorktreeManager {
	wm := NewWorktreeManager(git, stagingRoot)
	wm.prefix = ""
	return &ConductorWorktreeManager{
		manager: wm,
		logger:  logging.NewNop(),
	}
}

// WithLogger attaches a logger for acquire/sweep diagnostics.
func (m *ConductorWorktreeManager) WithLogger(logger *logging.Logger) *ConductorWorktreeManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func gitDirMarkerPresent(repoPath string) bool {
	gitDir := filepath.Join(repoPath, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		// Worktree checkout: .git is a file pointing elsewhere; markers live
		// in the main repo's git dir, which acquire() is not responsible
		// for inspecting here.
		return false
	}
	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Acquire implements core.WorktreeManager.Acquire: creates
// <staging-root>/<label>-<uuid>/ and a conductor/<label>-<uuid> branch
// checked out there, retrying once with a fresh suffix on label collision.
func (m *ConductorWorktreeManager) Acquire(ctx context.Context, repoPath, label string, owner core.AgentRunID) (*core.WorktreeHandle, error) {
	if gitDirMarkerPresent(repoPath) {
		return nil, core.ErrBusyRepo(repoPath)
	}

	sanitized := sanitizeLabel(label)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		name := sanitized + "-" + suffix
		branch := conductorBranchPrefix + name

		wt, err := m.manager.CreateFromBranch(ctx, name, branch, "")
		if err != nil {
			lastErr = core.ErrWorktreeExists(label).WithCause(err)
			continue
		}

		handle := &core.WorktreeHandle{
			Path:       wt.Path,
			Branch:     branch,
			RepoPath:   repoPath,
			Label:      sanitized,
			OwnerRunID: owner,
			CreatedAt:  wt.CreatedAt,
		}
		if m.owners == nil {
			m.owners = make(map[string]core.AgentRunID)
		}
		m.owners[handle.Path] = owner
		return handle, nil
	}
	return nil, lastErr
}

// Release implements core.WorktreeManager.Release: removes the worktree
// directory and, per policy, the branch.
func (m *ConductorWorktreeManager) Release(ctx context.Context, handle *core.WorktreeHandle, policy core.WorktreeReleasePolicy) error {
	if handle == nil {
		return nil
	}
	if err := m.manager.Remove(ctx, handle.Path, true); err != nil {
		return err
	}
	delete(m.owners, handle.Path)
	if policy == core.ReleaseDiscard {
		_ = m.manager.git.DeleteBranchForce(ctx, handle.Branch)
	}
	return nil
}

// MergeInto implements core.WorktreeManager.MergeInto: fast-forward if
// possible, otherwise a merge commit; conflicts leave the branch intact.
func (m *ConductorWorktreeManager) MergeInto(ctx context.Context, handle *core.WorktreeHandle, originBranch string) (*core.MergeResult, error) {
	repoClient, err := NewClient(handle.RepoPath)
	if err != nil {
		return nil, err
	}
	if err := repoClient.CheckoutBranch(ctx, originBranch); err != nil {
		return nil, fmt.Errorf("checking out origin branch: %w", err)
	}

	ahead, aheadErr := repoClient.IsAncestor(ctx, originBranch, handle.Branch)
	if aheadErr == nil && ahead {
		if err := repoClient.Merge(ctx, handle.Branch, MergeOptions{NoFastForward: false}); err != nil {
			return nil, fmt.Errorf("fast-forward merge: %w", err)
		}
		return &core.MergeResult{FastForward: true}, nil
	}

	err = repoClient.Merge(ctx, handle.Branch, MergeOptions{NoFastForward: true, Message: "merge " + handle.Branch})
	if err != nil {
		if errors.Is(err, ErrMergeConflict) {
			files, _ := repoClient.GetConflictFiles(ctx)
			_ = repoClient.AbortMerge(ctx)
			return &core.MergeResult{ConflictFiles: files}, nil
		}
		return nil, fmt.Errorf("merge commit: %w", err)
	}

	commit, _ := repoClient.CurrentCommit(ctx)
	return &core.MergeResult{MergeCommit: commit}, nil
}

// Sweep implements core.WorktreeManager.Sweep: idempotent GC of worktrees
// whose branch does not match the conductor/ convention, or whose recorded
// owner is absent.
func (m *ConductorWorktreeManager) Sweep(ctx context.Context) error {
	all, err := m.manager.List(ctx)
	if err != nil {
		return err
	}
	resolvedBase := resolvePath(m.manager.baseDir)
	for _, wt := range all {
		if !strings.HasPrefix(resolvePath(wt.Path), resolvedBase) {
			continue
		}
		hasConductorBranch := strings.HasPrefix(wt.Branch, conductorBranchPrefix)
		_, owned := m.owners[wt.Path]
		if !hasConductorBranch || !owned {
			if err := m.manager.Remove(ctx, wt.Path, true); err != nil {
				m.logger.Warn("sweep: failed to remove stale worktree", "path", wt.Path, "error", err)
				continue
			}
			delete(m.owners, wt.Path)
		}
	}
	return nil
}
