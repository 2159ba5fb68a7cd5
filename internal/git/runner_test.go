package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	iexec "github.com/ShayCichocki/shepherd/internal/exec"
)

// recordingRunner captures git invocations without running them.
type recordingRunner struct {
	calls  [][]string
	output string
	err    error
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return []byte(r.output), r.err
}

func (r *recordingRunner) RunShell(ctx context.Context, dir, command string) ([]byte, error) {
	return r.Run(ctx, dir, "sh", "-c", command)
}

func (r *recordingRunner) LookPath(name string) (string, error) { return name, nil }

var _ iexec.CommandRunner = (*recordingRunner)(nil)

func TestExecRunner_Arguments(t *testing.T) {
	rec := &recordingRunner{}
	r := NewRunnerWith("/repo", rec)

	_ = r.WorktreeAddNewBranch("/wt/abc", "task/abc-x", "main")
	_ = r.MergeSquash("task/abc-x")
	_ = r.WorktreeRemove("/wt/abc")

	want := [][]string{
		{"git", "worktree", "add", "/wt/abc", "-b", "task/abc-x", "main"},
		{"git", "merge", "--squash", "task/abc-x"},
		{"git", "worktree", "remove", "--force", "/wt/abc"},
	}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("calls = %q, want %q", rec.calls, want)
	}
}

func TestExecRunner_ErrorIncludesOutput(t *testing.T) {
	rec := &recordingRunner{output: "fatal: not a git repository\n", err: errors.New("exit status 128")}
	_, err := NewRunnerWith("/repo", rec).CurrentBranch()
	if err == nil || !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("err = %v, want git output included", err)
	}
}

func TestExecRunner_CommitsAhead(t *testing.T) {
	rec := &recordingRunner{output: "3\n"}
	n, err := NewRunnerWith("/repo", rec).CommitsAhead("main", "task/x")
	if err != nil || n != 3 {
		t.Errorf("CommitsAhead = %d, %v; want 3", n, err)
	}
}

// initRepo creates a repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRunner(dir)
	if err := r.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := r.Commit("initial"); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestExecRunner_RealRepo(t *testing.T) {
	dir := initRepo(t)
	r := NewRunner(dir)

	branch, err := r.CurrentBranch()
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v", branch, err)
	}
	exists, err := r.BranchExists("main")
	if err != nil || !exists {
		t.Errorf("BranchExists(main) = %v, %v", exists, err)
	}
	exists, err = r.BranchExists("nope")
	if err != nil || exists {
		t.Errorf("BranchExists(nope) = %v, %v", exists, err)
	}

	files, err := r.FilesInCommit("HEAD")
	if err != nil {
		t.Fatalf("FilesInCommit failed: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"README.md"}) {
		t.Errorf("FilesInCommit = %v", files)
	}

	staged, err := r.HasStagedChanges()
	if err != nil || staged {
		t.Errorf("HasStagedChanges = %v, %v; want false", staged, err)
	}
}
