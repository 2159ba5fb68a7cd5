// Package workspace isolates each in-progress task in its own git worktree
// on its own branch, and lands or discards the work when the task finishes.
package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/shepherd/internal/git"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// BranchPrefix marks branches owned by shepherd.
const BranchPrefix = "task/"

// Workspace is an isolated checkout bound to one task.
type Workspace struct {
	TaskID    string    `json:"task_id"`
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref converts the workspace into the reference stored on the task.
func (w *Workspace) Ref() *models.WorkspaceRef {
	return &models.WorkspaceRef{Branch: w.Branch, Path: w.Path}
}

// Outcome tells Release whether to land the work.
type Outcome struct {
	Success       bool
	CommitMessage string
	// KeepBranch retains the branch of a discarded workspace regardless of
	// RetainFailedBranches.
	KeepBranch bool
}

// Options configures a Manager.
type Options struct {
	// RepoPath is the main repository checkout.
	RepoPath string
	// BaseDir is the parent of all worktrees.
	BaseDir string
	// IntegrationBranch receives squash merges.
	IntegrationBranch string
	// RetainFailedBranches keeps the branch of a failed task for inspection.
	RetainFailedBranches bool
	// Git overrides the runner for the main repository.
	Git git.Runner
	// GitAt returns a runner for a worktree path. Defaults to an ExecRunner.
	GitAt func(path string) git.Runner
}

// Manager creates and releases task workspaces.
type Manager struct {
	opts  Options
	git   git.Runner
	gitAt func(path string) git.Runner
	now   func() time.Time
	mu    sync.Mutex
}

// NewManager creates a Manager and its base directory.
func NewManager(opts Options) (*Manager, error) {
	if opts.RepoPath == "" {
		return nil, errors.New("workspace manager needs a repository path")
	}
	if opts.IntegrationBranch == "" {
		opts.IntegrationBranch = "main"
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Join(opts.RepoPath, ".shepherd", "worktrees")
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	m := &Manager{opts: opts, git: opts.Git, gitAt: opts.GitAt, now: time.Now}
	if m.git == nil {
		m.git = git.NewRunner(opts.RepoPath)
	}
	if m.gitAt == nil {
		m.gitAt = func(path string) git.Runner { return git.NewRunner(path) }
	}
	return m, nil
}

// BaseDir returns the directory worktrees are created under.
func (m *Manager) BaseDir() string {
	return m.opts.BaseDir
}

// Names returns the branch and directory a task's workspace uses. Both embed
// the escaped full task id, so distinct tasks never share either.
func (m *Manager) Names(task *models.Task) (branch, path string) {
	key := escapeID(task.ID)
	slug := Slug(task.Name)
	if slug == "" {
		slug = "work"
	}
	return BranchPrefix + key + "/" + slug, filepath.Join(m.opts.BaseDir, key)
}

// escapeID makes a task id safe as one ref component and one directory
// name. Letters, digits, '-' and '_' pass through; every other byte becomes
// %XX. The mapping is injective.
func escapeID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-' || c == '_' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// taskIDFromBranch recovers the task id from a branch built by Names.
func taskIDFromBranch(branch string) (string, bool) {
	rest, ok := strings.CutPrefix(branch, BranchPrefix)
	if !ok {
		return "", false
	}
	key, _, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", false
	}
	id, err := url.PathUnescape(key)
	if err != nil || escapeID(id) != key {
		return "", false
	}
	return id, true
}

// Acquire creates the task's worktree. A fresh branch is started from the
// integration branch; a branch kept from an earlier failed attempt is checked
// out again so its work carries over. It fails with ErrWorkspaceConflict when
// the path already exists or the branch is checked out in another worktree.
func (m *Manager) Acquire(task *models.Task) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branch, path := m.Names(task)
	if _, err := os.Stat(path); err == nil {
		return nil, models.WorkspaceConflictf("workspace path %s already exists", path)
	}
	worktrees, err := m.listLocked()
	if err != nil {
		return nil, err
	}
	short := task.ShortID()
	for _, wt := range worktrees {
		if wt.TaskID == task.ID {
			return nil, models.WorkspaceConflictf("task %s already has a workspace at %s", short, wt.Path)
		}
	}
	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, err
	}
	if exists {
		err = m.git.WorktreeAdd(path, branch)
	} else {
		err = m.git.WorktreeAddNewBranch(path, branch, m.opts.IntegrationBranch)
	}
	if err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}
	log.Printf("[workspace] task %s: created %s on %s (reused=%v)", short, path, branch, exists)
	return &Workspace{TaskID: task.ID, Branch: branch, Path: path, CreatedAt: m.now().UTC()}, nil
}

// Release finishes a task's workspace. On success pending changes are
// committed in the worktree, squash-merged into the integration branch as one
// commit, and the worktree and branch are deleted; the returned provenance
// describes the landed commit (nil when there was nothing to merge). On
// failure the worktree is removed and the branch kept unless
// RetainFailedBranches is off.
func (m *Manager) Release(taskID string, out Outcome) (*models.Provenance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.getLocked(taskID)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, m.discardLocked(ws, out.KeepBranch || m.opts.RetainFailedBranches)
	}

	message := out.CommitMessage
	if message == "" {
		message = "shepherd: task " + taskID
	}

	wt := m.gitAt(ws.Path)
	dirty, err := wt.HasChanges()
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := wt.AddAll(); err != nil {
			return nil, err
		}
		if err := wt.Commit(message); err != nil {
			return nil, fmt.Errorf("commit pending changes: %w", err)
		}
	}

	current, err := m.git.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if current != m.opts.IntegrationBranch {
		return nil, models.WorkspaceConflictf("main checkout is on %s, expected %s", current, m.opts.IntegrationBranch)
	}

	var prov *models.Provenance
	ahead, err := m.git.CommitsAhead(m.opts.IntegrationBranch, ws.Branch)
	if err != nil {
		return nil, err
	}
	if ahead > 0 {
		prov, err = m.squashLocked(ws, message)
		if err != nil {
			return nil, err
		}
	}

	if err := m.git.WorktreeRemove(ws.Path); err != nil {
		return prov, fmt.Errorf("remove worktree: %w", err)
	}
	if err := m.git.DeleteBranch(ws.Branch); err != nil {
		return prov, fmt.Errorf("delete branch: %w", err)
	}
	log.Printf("[workspace] task %s: released %s (merged=%v)", ws.TaskID, ws.Branch, prov != nil)
	return prov, nil
}

func (m *Manager) squashLocked(ws *Workspace, message string) (*models.Provenance, error) {
	if err := m.git.MergeSquash(ws.Branch); err != nil {
		conflicted, _ := m.git.ConflictedFiles()
		if rerr := m.git.ResetMerge(); rerr != nil {
			log.Printf("[workspace] reset after failed merge of %s: %v", ws.Branch, rerr)
		}
		if len(conflicted) > 0 {
			return nil, models.WorkspaceConflictf("merging %s conflicts in %s", ws.Branch, strings.Join(conflicted, ", "))
		}
		return nil, fmt.Errorf("squash merge %s: %w", ws.Branch, err)
	}

	staged, err := m.git.HasStagedChanges()
	if err != nil {
		return nil, err
	}
	if !staged {
		return nil, nil
	}
	if err := m.git.Commit(message); err != nil {
		return nil, fmt.Errorf("commit squash merge: %w", err)
	}
	sha, err := m.git.HeadSHA()
	if err != nil {
		return nil, err
	}
	files, err := m.git.FilesInCommit(sha)
	if err != nil {
		return nil, err
	}
	merged := m.now().UTC()
	return &models.Provenance{SHA: sha, Message: message, FilesChanged: files, MergedAt: &merged}, nil
}

func (m *Manager) discardLocked(ws *Workspace, keepBranch bool) error {
	if err := m.git.WorktreeRemove(ws.Path); err != nil {
		log.Printf("[workspace] git worktree remove %s: %v; removing directory", ws.Path, err)
		if err := os.RemoveAll(ws.Path); err != nil {
			return fmt.Errorf("remove workspace directory: %w", err)
		}
		_ = m.git.WorktreePrune()
	}
	if !keepBranch {
		if err := m.git.DeleteBranch(ws.Branch); err != nil {
			return fmt.Errorf("delete branch: %w", err)
		}
	}
	log.Printf("[workspace] discarded %s (branch %s kept=%v)", ws.Path, ws.Branch, keepBranch)
	return nil
}

// Get returns the workspace bound to taskID.
func (m *Manager) Get(taskID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(taskID)
}

func (m *Manager) getLocked(taskID string) (*Workspace, error) {
	worktrees, err := m.listLocked()
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if wt.TaskID == taskID {
			return wt, nil
		}
	}
	return nil, models.NotFoundf("workspace for task %s", taskID)
}

// List returns every shepherd workspace git knows about. TaskID is empty for
// task branches not named by this version.
func (m *Manager) List() ([]*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]*Workspace, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// CleanupOrphans removes workspaces whose task is not in liveTaskIDs, along
// with stray directories under the base directory that git does not know.
// Branches are handled as for a failed release.
func (m *Manager) CleanupOrphans(liveTaskIDs []string) ([]*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePrune(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}
	live := make(map[string]bool, len(liveTaskIDs))
	for _, id := range liveTaskIDs {
		live[id] = true
	}

	worktrees, err := m.listLocked()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(worktrees))
	var removed []*Workspace
	for _, wt := range worktrees {
		known[canonical(wt.Path)] = true
		if wt.TaskID != "" && live[wt.TaskID] {
			continue
		}
		if err := m.discardLocked(wt, m.opts.RetainFailedBranches); err != nil {
			return removed, err
		}
		removed = append(removed, wt)
	}

	entries, err := os.ReadDir(m.opts.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return removed, nil
		}
		return removed, fmt.Errorf("read worktree base directory: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(m.opts.BaseDir, e.Name())
		if !e.IsDir() || known[canonical(path)] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[workspace] remove stray directory %s: %v", path, err)
			continue
		}
		removed = append(removed, &Workspace{Path: path})
	}
	return removed, nil
}

// parseWorktreeList parses 'git worktree list --porcelain', keeping only
// worktrees on shepherd task branches.
func parseWorktreeList(output string) ([]*Workspace, error) {
	var out []*Workspace
	var current *Workspace

	flush := func() {
		if current != nil && strings.HasPrefix(current.Branch, BranchPrefix) {
			current.TaskID, _ = taskIDFromBranch(current.Branch)
			out = append(out, current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &Workspace{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return out, nil
}

// canonical resolves symlinks so paths reported by git compare equal to
// paths built from the base directory.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
