package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `View shepherd configuration.

Settings are layered, highest precedence first:
  1. SHEPHERD_* environment variables (after loading .env)
  2. .shepherd.yaml in the current directory or a parent
  3. ~/.config/shepherd/config.yaml (or $XDG_CONFIG_HOME/shepherd/config.yaml)
  4. Built-in defaults

Nested keys map to variables with underscores: loop.max_attempts is
SHEPHERD_LOOP_MAX_ATTEMPTS.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, string(data))
		key, _ := config.GetAPIKey(cfg)
		fmt.Fprintf(out, "# api key: %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none; create " + config.ProjectConfigName + " or run 'shepherd init')"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
}
