package config

import "path/filepath"

// ProjectEnv names the project root for commands started outside it, such as
// a tool server launched by a worker inside its workspace.
const ProjectEnv = "SHEPHERD_PROJECT"

// Paths resolves the on-disk layout of a project's state directory.
type Paths struct {
	// RepoRoot is the repository the state belongs to.
	RepoRoot string
	// StateDir is the absolute state directory (<repo>/.shepherd by default).
	StateDir string
	// WorktreeBase is the absolute parent of isolated workspaces.
	WorktreeBase string
}

// NewPaths resolves relative settings in cfg against repoRoot.
func NewPaths(repoRoot string, cfg *Config) Paths {
	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = ".shepherd"
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(repoRoot, stateDir)
	}
	base := cfg.Workspace.BaseDir
	if base == "" {
		base = filepath.Join(stateDir, "worktrees")
	} else if !filepath.IsAbs(base) {
		base = filepath.Join(repoRoot, base)
	}
	return Paths{RepoRoot: repoRoot, StateDir: stateDir, WorktreeBase: base}
}

// Tasks is the Task Store root.
func (p Paths) Tasks() string { return filepath.Join(p.StateDir, "tasks") }

// Signals is the control signal marker directory.
func (p Paths) Signals() string { return filepath.Join(p.StateDir, "signals") }

// Processes is the activity log directory.
func (p Paths) Processes() string { return filepath.Join(p.StateDir, "processes") }

// Logs is the debug log directory.
func (p Paths) Logs() string { return filepath.Join(p.StateDir, "logs") }

// Database is the process registry database file.
func (p Paths) Database() string { return filepath.Join(p.StateDir, "shepherd.db") }
