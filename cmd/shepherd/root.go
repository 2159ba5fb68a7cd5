package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/config"
)

// CheckWorkerCLI verifies that the configured worker command is available in PATH.
// Returns an error with installation instructions if not found.
func CheckWorkerCLI(cfg *config.Config) error {
	if _, err := exec.LookPath(cfg.Worker.Command); err != nil {
		return fmt.Errorf("worker command %q not found in PATH\n\n"+
			"shepherd runs every analysis and execution session through the Claude Code CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or point worker.command in .shepherd.yaml at another compatible binary.", cfg.Worker.Command)
	}
	return nil
}

var projectFlag string

var rootCmd = &cobra.Command{
	Use:   "shepherd",
	Short: "Orchestrator for autonomous AI coding sessions",
	Long: `shepherd drives autonomous coding sessions through a task lifecycle:
todo, analysing, analysed, in-progress, done.

Tasks live as JSON documents under .shepherd/tasks/<status>/. Loops pick them
up one at a time, spawn a worker for each, and track every worker in a process
registry so crashed sessions are detected and their tasks recovered.

Workers talk back through 'shepherd serve', an MCP stdio server exposing
task and process operations as tools. Humans steer with pause, resume
and stop signals, answer questions, approve splits, and watch it all in
'shepherd ui'.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so loops and servers shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project root (default: $"+config.ProjectEnv+" or the enclosing git repository)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(uiCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
