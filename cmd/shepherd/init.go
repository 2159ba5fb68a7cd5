package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/config"
)

var (
	initForce           bool
	initSkipWorkerCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a shepherd project",
	Long: `Initialize a repository for use with shepherd.

This command sets up everything needed to run shepherd:
  - Verifies prerequisites (git, worker CLI)
  - Creates the .shepherd state directory (tasks, signals, processes, logs)
  - Adds .shepherd/ to .gitignore
  - Writes a .shepherd.yaml with the default settings

The directory argument is optional and defaults to the current directory.

Examples:
  shepherd init                      # Initialize current directory
  shepherd init ./myproject          # Initialize specific directory
  shepherd init --force              # Reinitialize even if already set up
  shepherd init --skip-worker-check  # Skip the worker CLI check`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initSkipWorkerCheck, "skip-worker-check", false, "Skip worker CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	paths := config.NewPaths(absPath, cfg)

	fmt.Printf("Initializing shepherd in %s...\n\n", absPath)

	if _, err := os.Stat(paths.StateDir); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	if _, err := exec.LookPath("git"); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return fmt.Errorf("git is required: install it from https://git-scm.com")
	}
	printStatus("✓", "Git found", color.FgGreen)

	if _, err := findGitRoot(absPath); err != nil {
		printStatus("⚠", "Not a git repository yet; run 'git init' before 'shepherd run --phase execution'", color.FgYellow)
	} else {
		printStatus("✓", "Git repository found", color.FgGreen)
	}

	if !initSkipWorkerCheck {
		if err := CheckWorkerCLI(cfg); err != nil {
			printStatus("✗", fmt.Sprintf("Worker CLI %q not found", cfg.Worker.Command), color.FgRed)
			return err
		}
		printStatus("✓", fmt.Sprintf("Worker CLI %q found", cfg.Worker.Command), color.FgGreen)
	}

	switch config.GetAPIKeySource(cfg) {
	case config.KeySourceNone:
		printStatus("⚠", config.APIKeyEnv+" not set; the worker will use its own login", color.FgYellow)
	default:
		printStatus("✓", config.APIKeyEnv+" is set", color.FgGreen)
	}

	p, err := openProjectAt(absPath, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	printStatus("✓", "Created "+relTo(absPath, paths.StateDir)+" directory structure", color.FgGreen)

	updated, err := updateGitignore(absPath, relTo(absPath, paths.StateDir))
	if err != nil {
		printStatus("⚠", fmt.Sprintf("Could not update .gitignore: %v", err), color.FgYellow)
	} else if updated {
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	path, written, err := config.WriteProjectConfig(absPath, config.Default())
	switch {
	case err != nil:
		printStatus("⚠", fmt.Sprintf("Could not write %s: %v", config.ProjectConfigName, err), color.FgYellow)
	case written:
		printStatus("✓", "Created "+filepath.Base(path), color.FgGreen)
	default:
		printStatus("✓", filepath.Base(path)+" already exists", color.FgGreen)
	}

	fmt.Printf("\n%s shepherd initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  shepherd task import plan.yaml              # load tasks")
	fmt.Println("  shepherd run --phase analysis --mode batch  # research them")
	fmt.Println("  shepherd run --phase execution              # implement them")
	fmt.Println("  shepherd ui                                 # watch")
	return nil
}

// relTo renders path relative to base when it lies inside it.
func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// updateGitignore adds the state directory to .gitignore if not present.
// It reports whether the file changed.
func updateGitignore(repoPath, stateDir string) (bool, error) {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	entry := filepath.ToSlash(strings.TrimSuffix(stateDir, string(filepath.Separator))) + "/"

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}
	for _, line := range strings.Split(existing, "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == strings.TrimSuffix(entry, "/") || line == "/"+entry {
			return false, nil
		}
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# shepherd\n")
	b.WriteString(entry + "\n")
	return true, os.WriteFile(gitignorePath, []byte(b.String()), 0o644)
}
