// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/internal/issue"
)

func newRemoveCommand(app *App, global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove namespace.name...",
		Short: "Remove installed collections",
		Long: `Remove installed collections.

Editable installs lose their link; the linked source directory is kept.
Dependencies are not removed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := app.prepare(cmd, global)
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}

			index := rc.sess.Index()
			for _, label := range args {
				ns, name, ok := strings.Cut(label, ".")
				if !ok || ns == "" || name == "" || strings.Contains(name, ".") {
					return app.fail(cmd, rc, fmt.Errorf("%q is not of the form namespace.name", label), ExitFailure)
				}
				if _, found := index.Get(ns, name); !found {
					rc.sess.Display.Warn(label + " is not installed")
					continue
				}
				if err := index.Remove(ns, name); err != nil {
					return app.fail(cmd, rc, issue.WrapWithContext(err, "remove collection", label), ExitFailure)
				}
				rc.sess.Logger.Debug("removed", "collection", label)
				rc.sess.Display.Info("Removed " + label)
			}
			return nil
		},
	}
}
