package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/supervisor"
)

var signalProcess string

var pauseCmd = newSignalCmd("pause", "Pause loops after their current step",
	`Set a pause marker. Loops finish the worker they are running, then wait
before claiming more work. A running worker is not interrupted.`,
	(*supervisor.Supervisor).RequestPause)

var resumeCmd = newSignalCmd("resume", "Clear pause and stop markers",
	`Clear the pause and stop markers, letting paused loops continue.`,
	(*supervisor.Supervisor).RequestResume)

var stopCmd = newSignalCmd("stop", "Stop loops and their running workers",
	`Set a stop marker. Running workers are terminated within about a second
and their loops exit, leaving in-progress tasks and workspaces in place for
a later resume.`,
	(*supervisor.Supervisor).RequestStop)

func newSignalCmd(name, short, long string, send func(*supervisor.Supervisor, string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long: long + `

Without --process the marker is global and applies to every loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			if signalProcess != "" {
				if _, err := p.supervisor.Get(cmd.Context(), signalProcess); err != nil {
					return err
				}
			}
			if err := send(p.supervisor, signalProcess); err != nil {
				return err
			}
			target := "all loops"
			if signalProcess != "" {
				target = "process " + signalProcess
			}
			printStatus("✓", fmt.Sprintf("%s requested for %s", name, target), color.FgGreen)
			return nil
		},
	}
	cmd.Flags().StringVar(&signalProcess, "process", "", "Target one tracked process instead of every loop")
	return cmd
}
