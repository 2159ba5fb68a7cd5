package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/workspace"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

var (
	cleanupProcesses bool
	cleanupOlderThan time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned workspaces and old process records",
	Long: `Clean up after crashed or interrupted loops.

This command:
  - Removes task worktrees whose task is no longer live
  - Removes stray directories under the worktree base directory
  - Runs git worktree prune

Branches of removed worktrees are kept or deleted as for a failed task,
following workspace.retain_failed_branches.

With --processes:
  - Deletes stopped process records (and their activity logs) that ended
    more than --older-than ago

Examples:
  shepherd cleanup
  shepherd cleanup --processes --older-than 168h`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupProcesses, "processes", false, "Also purge old stopped process records")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Age threshold for --processes")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := findGitRoot(p.paths.RepoRoot); err != nil {
		printStatus("⚠", "Not a git repository; skipping workspaces", color.FgYellow)
	} else if err := cleanupWorkspaces(p); err != nil {
		return err
	}

	if cleanupProcesses {
		n, err := p.supervisor.Prune(cmd.Context(), cleanupOlderThan)
		if err != nil {
			return fmt.Errorf("prune processes: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Purged %d process record(s) older than %s", n, cleanupOlderThan), color.FgGreen)
	}
	return nil
}

func cleanupWorkspaces(p *project) error {
	live, err := p.store.List(models.LiveTaskStatuses...)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(live))
	for _, t := range live {
		ids = append(ids, t.ID)
	}

	m, err := workspace.NewManager(workspace.Options{
		RepoPath:             p.paths.RepoRoot,
		BaseDir:              p.paths.WorktreeBase,
		IntegrationBranch:    p.cfg.Workspace.IntegrationBranch,
		RetainFailedBranches: p.cfg.Workspace.RetainFailedBranches,
	})
	if err != nil {
		return err
	}
	removed, err := m.CleanupOrphans(ids)
	for _, ws := range removed {
		label := ws.Path
		if ws.Branch != "" {
			label += " [" + ws.Branch + "]"
		}
		printStatus("✓", "Removed "+label, color.FgGreen)
	}
	if err != nil {
		return fmt.Errorf("cleanup workspaces: %w", err)
	}
	if len(removed) == 0 {
		printStatus("✓", "No orphaned workspaces", color.FgGreen)
	}
	return nil
}
