// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/installed"
)

const (
	formatText     = "text"
	formatJSON     = "json"
	formatLockfile = "lockfile"
)

// listEntry is the JSON shape of one installed repository.
type listEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Path     string `json:"path"`
	PURL     string `json:"purl"`
	Editable bool   `json:"editable,omitempty"`
}

func newListCommand(app *App, global *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list [namespace | namespace.name...]",
		Short: "List installed collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := app.prepare(cmd, global)
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}

			m := installed.MatchAll()
			if len(args) > 0 {
				m = installed.MatchNamespacesOrLabels(args...)
			}
			repos := rc.sess.Index().Repositories(m, m)
			if len(repos) == 0 && len(args) > 0 {
				rc.sess.Display.Warn(fmt.Sprintf("nothing installed matches %v under %s", args, rc.sess.CollectionsRoot))
			}

			switch format {
			case formatText:
				err = writeListText(app.stdout, repos)
			case formatJSON:
				err = writeListJSON(app.stdout, repos)
			case formatLockfile:
				err = collection.WriteLockfile(app.stdout, repos)
			default:
				err = fmt.Errorf("unknown format %q (valid: text, json, lockfile)", format)
			}
			if err != nil {
				return app.fail(cmd, rc, err, ExitFailure)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json or lockfile")
	return cmd
}

func writeListText(w io.Writer, repos []*collection.Repository) error {
	for _, r := range repos {
		version := r.Spec.Version
		if version == "" {
			version = "*"
		}
		line := columnStyle.Render(LabelStyle.Render(r.Label())) + " " + version
		if r.Editable {
			line += " " + SubtitleStyle.Render("(editable: "+r.Path+")")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeListJSON(w io.Writer, repos []*collection.Repository) error {
	entries := make([]listEntry, 0, len(repos))
	for _, r := range repos {
		entries = append(entries, listEntry{
			Name:     r.Label(),
			Version:  r.Spec.Version,
			Path:     r.Path,
			PURL:     r.Spec.PURL(),
			Editable: r.Editable,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
