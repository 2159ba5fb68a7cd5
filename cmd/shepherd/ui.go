package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/tui"
)

var uiReadOnly bool

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Open the live dashboard",
	Long: `Open a terminal dashboard of live tasks, tracked processes and their
activity. Besides navigation it can pause, resume and stop a selected
process or every loop (unless --read-only).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.Close()

		var controls tui.Controls = p.supervisor
		if uiReadOnly {
			controls = nil
		}
		src := tui.StoreSource{Store: p.store, Supervisor: p.supervisor}
		return tui.Run(cmd.Context(), src, controls, p.cfg.TUI.RefreshRate)
	},
}

func init() {
	uiCmd.Flags().BoolVar(&uiReadOnly, "read-only", false, "Disable the signal controls")
}
