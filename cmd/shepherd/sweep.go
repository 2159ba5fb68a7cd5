package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark processes whose OS process is gone as stopped",
	Long: `Probe every tracked process that claims to be alive and mark the dead
ones stopped with "terminated unexpectedly". Loops sweep on startup; run this
after a crash to clean up the registry without starting a loop.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	dead, err := p.supervisor.SweepLiveness(cmd.Context())
	if err != nil {
		return err
	}
	if len(dead) == 0 {
		printStatus("✓", "No dead processes found", color.FgGreen)
		return nil
	}
	for _, proc := range dead {
		task := ""
		if proc.TaskID != "" {
			task = " (task " + proc.TaskID + ")"
		}
		printStatus("✗", fmt.Sprintf("%s %s%s: %s", proc.ShortID(), proc.Type, task, proc.Error), color.FgYellow)
	}
	fmt.Printf("Reclassified %d process(es).\n", len(dead))
	return nil
}
