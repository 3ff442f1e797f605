// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/internal/config"
)

func newConfigCommand(app *App, global *globalFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect stowage configuration",
		Long: `Inspect stowage configuration.

Configuration is read from config.cue in:
  - Linux: $XDG_CONFIG_HOME/stowage (default ~/.config/stowage)
  - macOS: ~/Library/Application Support/stowage
  - Windows: %APPDATA%\stowage

STOWAGE_* environment variables override the file, for example
STOWAGE_SERVER_URL or STOWAGE_HTTP_MAX_RETRIES.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Long: `Print the effective configuration as CUE, after defaults, the config
file, environment variables and command line flags are applied. The API
token is masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := app.prepare(cmd, global)
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}
			redacted := rc.cfg.Redacted()
			_, err = fmt.Fprint(app.stdout, config.GenerateCUE(&redacted))
			return err
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			if global.configPath != "" {
				_, err := fmt.Fprintln(app.stdout, global.configPath)
				return err
			}
			dir, err := config.ConfigDir()
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}
			_, err = fmt.Fprintln(app.stdout, filepath.Join(dir, config.ConfigFileName))
			return err
		},
	})

	return cfgCmd
}
