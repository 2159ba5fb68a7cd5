package workspace

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/shepherd/internal/git"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupRepo creates a repository on main with one commit and a Manager whose
// worktrees live outside the repository.
func setupRepo(t *testing.T, retain bool) (string, *Manager) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	repo := t.TempDir()
	gitCmd(t, repo, "init", "-b", "main")
	gitCmd(t, repo, "config", "user.email", "test@example.com")
	gitCmd(t, repo, "config", "user.name", "Test")
	gitCmd(t, repo, "config", "commit.gpgsign", "false")
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, repo, "add", "-A")
	gitCmd(t, repo, "commit", "-m", "initial")

	m, err := NewManager(Options{
		RepoPath:             repo,
		BaseDir:              filepath.Join(t.TempDir(), "worktrees"),
		IntegrationBranch:    "main",
		RetainFailedBranches: retain,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return repo, m
}

func newTask(id, name string) *models.Task {
	return &models.Task{ID: id, Name: name}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add login page", "add-login-page"},
		{"Crème brûlée  API!!", "creme-brulee-api"},
		{"  --weird__name-- ", "weird-name"},
		{"日本語", ""},
		{strings.Repeat("abc ", 20), "abc-abc-abc-abc-abc-abc-abc-abc-abc-abc"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNames(t *testing.T) {
	m := &Manager{opts: Options{BaseDir: "/base"}}
	tests := []struct {
		id, name    string
		branch, dir string
	}{
		{"0123456789abcdef", "Fix the Parser", "task/0123456789abcdef/fix-the-parser", "0123456789abcdef"},
		{"auth-login", "日本語", "task/auth-login/work", "auth-login"},
		{"v1.2 fix", "Bump", "task/v1%2E2%20fix/bump", "v1%2E2%20fix"},
		{"50%", "Half", "task/50%25/half", "50%25"},
	}
	for _, tt := range tests {
		branch, path := m.Names(newTask(tt.id, tt.name))
		if branch != tt.branch {
			t.Errorf("Names(%q) branch = %q, want %q", tt.id, branch, tt.branch)
		}
		if path != filepath.Join("/base", tt.dir) {
			t.Errorf("Names(%q) path = %q", tt.id, path)
		}
		id, ok := taskIDFromBranch(branch)
		if !ok || id != tt.id {
			t.Errorf("taskIDFromBranch(%q) = %q, %v; want %q", branch, id, ok, tt.id)
		}
	}

	for _, branch := range []string{"main", "task/", "task/x", "task/%zz/x", "task/a%2db/x"} {
		if id, ok := taskIDFromBranch(branch); ok {
			t.Errorf("taskIDFromBranch(%q) = %q, want no match", branch, id)
		}
	}
}

func TestAcquireSharedPrefix(t *testing.T) {
	repo, m := setupRepo(t, true)
	login := newTask("auth-login", "Login form")
	logout := newTask("auth-logout", "Logout button")

	loginWS, err := m.Acquire(login)
	if err != nil {
		t.Fatalf("Acquire(%s) failed: %v", login.ID, err)
	}
	logoutWS, err := m.Acquire(logout)
	if err != nil {
		t.Fatalf("Acquire(%s) failed: %v", logout.ID, err)
	}
	if loginWS.Branch == logoutWS.Branch || loginWS.Path == logoutWS.Path {
		t.Fatalf("workspaces overlap: %+v and %+v", loginWS, logoutWS)
	}
	if err := os.WriteFile(filepath.Join(loginWS.Path, "login.txt"), []byte("login\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logoutWS.Path, "logout.txt"), []byte("logout\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(logout.ID)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", logout.ID, err)
	}
	if got.Branch != logoutWS.Branch {
		t.Errorf("Get(%s) branch = %q, want %q", logout.ID, got.Branch, logoutWS.Branch)
	}

	if _, err := m.Release(logout.ID, Outcome{Success: true, CommitMessage: "logout"}); err != nil {
		t.Fatalf("Release(%s) failed: %v", logout.ID, err)
	}
	if _, err := os.Stat(filepath.Join(repo, "logout.txt")); err != nil {
		t.Errorf("logout work not merged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo, "login.txt")); !os.IsNotExist(err) {
		t.Errorf("login work merged by the other task's release")
	}
	if _, err := os.Stat(filepath.Join(loginWS.Path, "login.txt")); err != nil {
		t.Errorf("login worktree touched: %v", err)
	}
	still, err := m.Get(login.ID)
	if err != nil {
		t.Fatalf("Get(%s) after other release: %v", login.ID, err)
	}
	if still.Branch != loginWS.Branch {
		t.Errorf("login branch = %q, want %q", still.Branch, loginWS.Branch)
	}

	removed, err := m.CleanupOrphans([]string{login.ID})
	if err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("CleanupOrphans removed %d workspaces, want 0", len(removed))
	}
}

func TestAcquireAndReleaseSuccess(t *testing.T) {
	repo, m := setupRepo(t, true)
	task := newTask("aaaaaaaa-1111", "Add feature")

	ws, err := m.Acquire(task)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "README.md")); err != nil {
		t.Fatalf("worktree not checked out: %v", err)
	}

	got, err := m.Get(task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Branch != ws.Branch || got.TaskID != task.ID {
		t.Errorf("Get = %+v, want branch %s", got, ws.Branch)
	}

	// Uncommitted work in the worktree is committed and squashed.
	if err := os.WriteFile(filepath.Join(ws.Path, "feature.go"), []byte("package feature\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prov, err := m.Release(task.ID, Outcome{Success: true, CommitMessage: "Add feature"})
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if prov == nil || prov.SHA == "" {
		t.Fatalf("provenance = %+v", prov)
	}
	if len(prov.FilesChanged) != 1 || prov.FilesChanged[0] != "feature.go" {
		t.Errorf("FilesChanged = %v", prov.FilesChanged)
	}
	if head := gitCmd(t, repo, "rev-parse", "HEAD"); head != prov.SHA {
		t.Errorf("main HEAD = %s, want %s", head, prov.SHA)
	}
	if subject := gitCmd(t, repo, "log", "-1", "--format=%s"); subject != "Add feature" {
		t.Errorf("commit subject = %q", subject)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("worktree still exists: %v", err)
	}
	exists, _ := git.NewRunner(repo).BranchExists(ws.Branch)
	if exists {
		t.Error("branch should be deleted after success")
	}
}

func TestReleaseSuccessWithNothingToMerge(t *testing.T) {
	_, m := setupRepo(t, true)
	task := newTask("bbbbbbbb", "No-op")
	if _, err := m.Acquire(task); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	prov, err := m.Release(task.ID, Outcome{Success: true})
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if prov != nil {
		t.Errorf("provenance = %+v, want nil", prov)
	}
}

func TestReleaseFailureKeepsBranch(t *testing.T) {
	repo, m := setupRepo(t, true)
	task := newTask("cccccccc", "Broken")
	ws, err := m.Acquire(task)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "wip.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, ws.Path, "add", "-A")
	gitCmd(t, ws.Path, "commit", "-m", "wip")

	if _, err := m.Release(task.ID, Outcome{Success: false}); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("worktree still exists: %v", err)
	}
	exists, _ := git.NewRunner(repo).BranchExists(ws.Branch)
	if !exists {
		t.Error("branch should be retained after failure")
	}

	// Re-acquiring checks the retained branch out again.
	again, err := m.Acquire(task)
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if again.Branch != ws.Branch {
		t.Errorf("re-acquired branch = %s, want %s", again.Branch, ws.Branch)
	}
	if _, err := os.Stat(filepath.Join(again.Path, "wip.txt")); err != nil {
		t.Errorf("earlier work not carried over: %v", err)
	}
}

func TestReleaseFailureDeletesBranch(t *testing.T) {
	repo, m := setupRepo(t, false)
	task := newTask("dddddddd", "Broken")
	ws, _ := m.Acquire(task)
	if _, err := m.Release(task.ID, Outcome{}); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	exists, _ := git.NewRunner(repo).BranchExists(ws.Branch)
	if exists {
		t.Error("branch should be deleted when not retained")
	}
}

func TestReleaseKeepBranchOverridesPolicy(t *testing.T) {
	repo, m := setupRepo(t, false)
	task := newTask("d1d1d1d1", "Unmerged")
	ws, err := m.Acquire(task)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := m.Release(task.ID, Outcome{KeepBranch: true}); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("worktree still on disk")
	}
	exists, _ := git.NewRunner(repo).BranchExists(ws.Branch)
	if !exists {
		t.Error("branch deleted despite KeepBranch")
	}

	again, err := m.Acquire(task)
	if err != nil {
		t.Fatalf("Acquire after keep failed: %v", err)
	}
	if again.Branch != ws.Branch {
		t.Errorf("reacquired branch = %q, want %q", again.Branch, ws.Branch)
	}
}

func TestAcquireConflicts(t *testing.T) {
	_, m := setupRepo(t, true)
	task := newTask("eeeeeeee", "Twice")
	if _, err := m.Acquire(task); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := m.Acquire(task); !errors.Is(err, models.ErrWorkspaceConflict) {
		t.Errorf("second Acquire err = %v, want ErrWorkspaceConflict", err)
	}

	other := newTask("ffffffff", "Stray")
	_, path := m.Names(other)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(other); !errors.Is(err, models.ErrWorkspaceConflict) {
		t.Errorf("Acquire over existing path err = %v, want ErrWorkspaceConflict", err)
	}
}

func TestReleaseRequiresIntegrationBranch(t *testing.T) {
	repo, m := setupRepo(t, true)
	task := newTask("12121212", "Feature")
	ws, _ := m.Acquire(task)
	if err := os.WriteFile(filepath.Join(ws.Path, "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, repo, "checkout", "-b", "elsewhere")

	_, err := m.Release(task.ID, Outcome{Success: true})
	if !errors.Is(err, models.ErrWorkspaceConflict) {
		t.Errorf("err = %v, want ErrWorkspaceConflict", err)
	}
}

func TestReleaseMergeConflict(t *testing.T) {
	repo, m := setupRepo(t, true)
	task := newTask("34343434", "Edit readme")
	ws, _ := m.Acquire(task)
	if err := os.WriteFile(filepath.Join(ws.Path, "README.md"), []byte("from task\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("from main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitCmd(t, repo, "commit", "-am", "main edit")

	_, err := m.Release(task.ID, Outcome{Success: true})
	if !errors.Is(err, models.ErrWorkspaceConflict) {
		t.Errorf("err = %v, want ErrWorkspaceConflict", err)
	}
	if status := gitCmd(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("main checkout left dirty: %q", status)
	}
}

func TestGetUnknown(t *testing.T) {
	_, m := setupRepo(t, true)
	if _, err := m.Get("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	_, m := setupRepo(t, true)
	live := newTask("live0000", "Live")
	dead := newTask("dead0000", "Dead")
	if _, err := m.Acquire(live); err != nil {
		t.Fatal(err)
	}
	deadWS, err := m.Acquire(dead)
	if err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(m.BaseDir(), "stray")
	if err := os.MkdirAll(stray, 0o755); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupOrphans([]string{live.ID})
	if err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %d, want 2 (dead worktree and stray dir)", len(removed))
	}
	if _, err := os.Stat(deadWS.Path); !os.IsNotExist(err) {
		t.Error("orphan worktree still on disk")
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray directory still on disk")
	}
	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("remaining workspaces = %d, want 1", len(list))
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\nHEAD abc\nbranch refs/heads/main\n\n" +
		"worktree /wt/0123456789\nHEAD def\nbranch refs/heads/task/0123456789/x\n\n" +
		"worktree /wt/legacy\nHEAD 456\nbranch refs/heads/task/legacy-x\n\n" +
		"worktree /wt/detached\nHEAD 123\ndetached\n"
	list, err := parseWorktreeList(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Branch != "task/0123456789/x" || list[0].Path != "/wt/0123456789" || list[0].TaskID != "0123456789" {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].TaskID != "" {
		t.Errorf("legacy branch TaskID = %q, want empty", list[1].TaskID)
	}
}
