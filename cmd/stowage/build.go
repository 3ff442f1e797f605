// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/pkg/build"
)

func newBuildCommand(app *App, global *globalFlags) *cobra.Command {
	var (
		outputPath string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "build [collection-dir]",
		Short: "Build a collection artifact from source",
		Long: `Build a collection artifact from source.

The directory must contain galaxy.yml. The artifact is written as
v<version>.tar.gz into --output-path, which defaults to the source
directory. Version control directories, caches and the build.ignore_dirs
and build.exclude_patterns entries of the configuration are left out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := app.prepare(cmd, global)
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}
			src := "."
			if len(args) == 1 {
				src = args[0]
			}
			_, err = build.New(rc.sess).Build(cmd.Context(), build.Options{
				SourceDir:       src,
				OutputDir:       outputPath,
				IgnoreDirs:      slices.Clone(rc.cfg.Build.IgnoreDirs),
				ExcludePatterns: slices.Clone(rc.cfg.Build.ExcludePatterns),
				Force:           force,
			})
			if err != nil {
				return app.fail(cmd, rc, err, ExitFailure)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output-path", "o", "", "directory the artifact is written to")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing artifact")
	return cmd
}
