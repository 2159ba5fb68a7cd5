package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/agent"
	"github.com/ShayCichocki/shepherd/internal/config"
	"github.com/ShayCichocki/shepherd/internal/orchestrator"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/workspace"
)

var (
	runPhase         string
	runMode          string
	runFailurePolicy string
	runMaxAttempts   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an orchestration loop",
	Long: `Run one orchestration loop over the task store.

Phases:
  analysis   research todo tasks; workers end with task_mark_analysed,
             task_ask_question or task_propose_split
  execution  implement analysed (or todo) tasks, each in its own git worktree
             squash-merged into the integration branch on success

Modes:
  batch      stop when no eligible task is left (default)
  on-demand  keep polling for new work until stopped

Several loops may run side by side; each claims one task at a time. Use
'shepherd pause', 'shepherd resume' and 'shepherd stop' to steer them, and
Ctrl-C to stop this one.

Examples:
  shepherd run --phase analysis
  shepherd run --phase execution --mode on-demand
  shepherd run --phase execution --failure-policy skip --max-attempts 3`,
	Args: cobra.NoArgs,
	RunE: runLoop,
}

func init() {
	runCmd.Flags().StringVar(&runPhase, "phase", string(orchestrator.PhaseAnalysis), "Lifecycle phase: analysis or execution")
	runCmd.Flags().StringVar(&runMode, "mode", string(orchestrator.ModeBatch), "Loop mode: batch or on-demand")
	runCmd.Flags().StringVar(&runFailurePolicy, "failure-policy", "", "Override loop.failure_policy: leave or skip")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "Override loop.max_attempts")
}

func runLoop(cmd *cobra.Command, args []string) error {
	phase, err := orchestrator.ParsePhase(runPhase)
	if err != nil {
		return err
	}
	mode, err := orchestrator.ParseMode(runMode)
	if err != nil {
		return err
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	cfg := *p.cfg
	if runFailurePolicy != "" {
		cfg.Loop.FailurePolicy = runFailurePolicy
	}
	if runMaxAttempts > 0 {
		cfg.Loop.MaxAttempts = runMaxAttempts
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := CheckWorkerCLI(&cfg); err != nil {
		return err
	}

	ctx := cmd.Context()

	// Records left alive by a crashed loop must be stopped before their
	// tasks can be resumed.
	if dead, err := p.supervisor.SweepLiveness(ctx); err != nil {
		return fmt.Errorf("sweep processes: %w", err)
	} else if len(dead) > 0 {
		log.Printf("[run] reclassified %d dead process(es)", len(dead))
	}

	var workspaces orchestrator.Workspaces
	if phase == orchestrator.PhaseExecution {
		if _, err := findGitRoot(p.paths.RepoRoot); err != nil {
			return fmt.Errorf("execution phase needs a git repository at %s: %w", p.paths.RepoRoot, err)
		}
		m, err := workspace.NewManager(workspace.Options{
			RepoPath:             p.paths.RepoRoot,
			BaseDir:              p.paths.WorktreeBase,
			IntegrationBranch:    cfg.Workspace.IntegrationBranch,
			RetainFailedBranches: cfg.Workspace.RetainFailedBranches,
		})
		if err != nil {
			return err
		}
		workspaces = m
	}

	watcher := signals.Watch(p.signals)
	defer watcher.Close()

	logger := orchestrator.NewDebugLoggerIn(p.paths.Logs())
	defer logger.Close()

	loop, err := orchestrator.NewLoop(orchestrator.Options{
		Phase:      phase,
		Mode:       mode,
		Store:      p.store,
		Supervisor: p.supervisor,
		Worker:     newWorker(&cfg),
		Workspaces: workspaces,
		Signals:    signals.NewChecker(p.signals, cfg.Loop.SignalCheckInterval, watcher.C()),
		Config:     &cfg,
		RepoPath:   p.paths.RepoRoot,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Loop %s: %s phase, %s mode. Ctrl-C to stop.\n", loop.ID(), phase, mode)
	summary, err := loop.Run(ctx)
	if summary != nil {
		fmt.Println(summary.String())
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newWorker(cfg *config.Config) *agent.Runner {
	return agent.NewRunner(agent.RunnerOptions{
		Timeout: cfg.Worker.Timeout,
		Interpreter: agent.InterpreterOptions{
			UnrecognizedBurst:    cfg.Interpreter.UnrecognizedBurst,
			UnrecognizedInterval: cfg.Interpreter.UnrecognizedInterval,
		},
	})
}
