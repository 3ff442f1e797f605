// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the stowage CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the release version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "stowage",
		Short: "Install and build Ansible content collections",
		Long: TitleStyle.Render("stowage") + SubtitleStyle.Render(" - a package manager for content collections") + `

stowage installs collections and roles from a collection server, from
source control, from local artifacts and from plain URLs, resolving their
dependencies along the way. It also builds artifacts from a collection
source tree.

` + SubtitleStyle.Render("Examples:") + `
  stowage install community.general
  stowage install 'acme.tools,>=1.2.0 <2.0.0'
  stowage install -r requirements.yml
  stowage install git+https://github.com/acme/tools.git,v1.4.0
  stowage build ./tools
  stowage list --format lockfile > stowage.lock`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/stowage/config.cue)")
	pf.StringVarP(&flags.server, "server", "s", "", "collection server URL")
	pf.StringVar(&flags.token, "token", "", "collection server API token")
	pf.BoolVarP(&flags.ignoreCerts, "ignore-certs", "c", false, "skip TLS certificate validation")
	pf.StringVarP(&flags.collectionsPath, "collections-path", "p", "", "directory collections are installed into")

	root.AddCommand(
		newInstallCommand(app, flags),
		newBuildCommand(app, flags),
		newListCommand(app, flags),
		newRemoveCommand(app, flags),
		newInfoCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return root
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the status the command chose.
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}
