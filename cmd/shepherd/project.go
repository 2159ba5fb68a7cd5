package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/ShayCichocki/shepherd/internal/config"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/state"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
)

// project bundles the stores every command works against.
type project struct {
	cfg        *config.Config
	paths      config.Paths
	store      *taskstore.Store
	db         *state.DB
	signals    *signals.Store
	supervisor *supervisor.Supervisor
}

// openProject loads configuration and opens the state of the project root:
// --project, then $SHEPHERD_PROJECT, then the repository containing the
// working directory, then the working directory itself.
func openProject() (*project, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	return openProjectAt(root, cfg)
}

func projectRoot() (string, error) {
	if projectFlag != "" {
		return filepath.Abs(projectFlag)
	}
	if env := os.Getenv(config.ProjectEnv); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	if root, err := findGitRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

func openProjectAt(root string, cfg *config.Config) (*project, error) {
	paths := config.NewPaths(root, cfg)

	store, err := taskstore.Open(paths.Tasks())
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	db, err := state.OpenProject(paths.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open process registry: %w", err)
	}
	sigs, err := signals.New(paths.Signals())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open signal store: %w", err)
	}
	for _, dir := range []string{paths.Processes(), paths.Logs()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return &project{
		cfg:     cfg,
		paths:   paths,
		store:   store,
		db:      db,
		signals: sigs,
		supervisor: supervisor.New(db, supervisor.Options{
			LogDir:  paths.Processes(),
			Signals: sigs,
		}),
	}, nil
}

// Close releases the registry database.
func (p *project) Close() error {
	return p.db.Close()
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		// .git is a directory in a main checkout and a file in a worktree.
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("not inside a git repository")
		}
		dir = parent
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
