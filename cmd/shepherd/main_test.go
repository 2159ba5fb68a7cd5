package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/shepherd/internal/config"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

func TestCommandTree(t *testing.T) {
	want := []string{
		"init", "status", "run", "serve", "task", "pause", "resume", "stop",
		"sweep", "ui", "cleanup", "config", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}

	for _, sub := range []string{"list", "show", "import", "answer", "approve-split"} {
		cmd, _, err := rootCmd.Find([]string{"task", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("command task %q not registered", sub)
		}
	}
	for _, sub := range []string{"show", "path"} {
		cmd, _, err := rootCmd.Find([]string{"config", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("command config %q not registered", sub)
		}
	}
	for _, name := range []string{"pause", "resume", "stop"} {
		cmd, _, _ := rootCmd.Find([]string{name})
		if cmd.Flags().Lookup("process") == nil {
			t.Errorf("%s has no --process flag", name)
		}
	}
}

func TestUpdateGitignore(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		changed  bool
		want     string
	}{
		{
			name:    "no gitignore",
			changed: true,
			want:    "\n# shepherd\n.shepherd/\n",
		},
		{
			name:     "appends after missing newline",
			existing: "node_modules",
			changed:  true,
			want:     "node_modules\n\n# shepherd\n.shepherd/\n",
		},
		{
			name:     "already ignored",
			existing: "bin/\n.shepherd/\n",
			want:     "bin/\n.shepherd/\n",
		},
		{
			name:     "already ignored without slash",
			existing: ".shepherd\n",
			want:     ".shepherd\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tt.existing != "" {
				if err := os.WriteFile(path, []byte(tt.existing), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			changed, err := updateGitignore(dir, ".shepherd")
			if err != nil {
				t.Fatalf("updateGitignore: %v", err)
			}
			if changed != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
			got, _ := os.ReadFile(path)
			if string(got) != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}

			// A second run never duplicates the entry.
			if changed, _ := updateGitignore(dir, ".shepherd"); changed {
				t.Error("second run changed the file")
			}
		})
	}
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := findGitRoot(nested)
	if err != nil {
		t.Fatalf("findGitRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if g, _ := filepath.EvalSymlinks(got); g != want {
		t.Errorf("findGitRoot = %q, want %q", got, root)
	}
}

func TestProjectRootPrecedence(t *testing.T) {
	env := t.TempDir()
	flag := t.TempDir()
	t.Setenv(config.ProjectEnv, env)

	projectFlag = ""
	got, err := projectRoot()
	if err != nil || got != env {
		t.Errorf("projectRoot = %q, %v; want $%s %q", got, err, config.ProjectEnv, env)
	}

	projectFlag = flag
	defer func() { projectFlag = "" }()
	got, err = projectRoot()
	if err != nil || got != flag {
		t.Errorf("projectRoot = %q, %v; want --project %q", got, err, flag)
	}
}

func TestOpenProjectCreatesLayout(t *testing.T) {
	root := t.TempDir()
	p, err := openProjectAt(root, config.Default())
	if err != nil {
		t.Fatalf("openProjectAt: %v", err)
	}
	defer p.Close()

	for _, dir := range []string{
		filepath.Join(root, ".shepherd", "tasks", "todo"),
		filepath.Join(root, ".shepherd", "signals"),
		filepath.Join(root, ".shepherd", "processes"),
		filepath.Join(root, ".shepherd", "logs"),
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s was not created", dir)
		}
	}
	if _, err := os.Stat(filepath.Join(root, ".shepherd", "shepherd.db")); err != nil {
		t.Errorf("registry database missing: %v", err)
	}
}

func TestResolveTask(t *testing.T) {
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks"))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"abc123", "abd456", "xyz789"} {
		if _, err := store.Create(&models.Task{ID: id, Name: "task " + id}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		ref     string
		want    string
		wantErr string
	}{
		{ref: "abc123", want: "abc123"},
		{ref: "xy", want: "xyz789"},
		{ref: "abd", want: "abd456"},
		{ref: "ab", wantErr: "ambiguous"},
		{ref: "nope", wantErr: "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := resolveTask(store, tt.ref)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("resolveTask(%q) error = %v, want %q", tt.ref, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveTask(%q): %v", tt.ref, err)
			}
			if got.ID != tt.want {
				t.Errorf("resolveTask(%q) = %q, want %q", tt.ref, got.ID, tt.want)
			}
		})
	}

	if _, err := resolveTask(store, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m30s"},
		{70 * time.Minute, "1h10m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
