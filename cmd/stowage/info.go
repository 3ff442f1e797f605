// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/internal/issue"
	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/versions"
)

func newInfoCommand(app *App, global *globalFlags) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "info namespace.name | artifact",
		Short: "Show what the collection server publishes for a collection",
		Long: `Show what the collection server publishes for a collection, and the
version installed locally, if any.

Given the path of a built artifact instead, show the metadata recorded in
its manifest without contacting the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := app.prepare(cmd, global)
			if err != nil {
				return app.fail(cmd, nil, err, ExitFailure)
			}
			if fi, statErr := os.Stat(args[0]); statErr == nil && fi.Mode().IsRegular() {
				if err := artifactInfo(app.stdout, args[0]); err != nil {
					return app.fail(cmd, rc, err, ExitFailure)
				}
				return nil
			}
			ns, name, ok := strings.Cut(args[0], ".")
			if !ok || ns == "" || name == "" {
				return app.fail(cmd, rc, fmt.Errorf("%q is not of the form namespace.name", args[0]), ExitFailure)
			}
			reg, err := app.Registry(rc.sess)
			if err != nil {
				return app.fail(cmd, rc, err, ExitFailure)
			}

			ctx := cmd.Context()
			coll, err := reg.GetCollection(ctx, ns, name)
			if err != nil {
				return app.fail(cmd, rc, issue.WrapWithContext(err, "look up collection", args[0]), ExitFailure)
			}
			published, err := reg.Versions(ctx, ns, name)
			if err != nil {
				return app.fail(cmd, rc, issue.WrapWithContext(err, "list versions", args[0]), ExitFailure)
			}
			published = slices.Clone(published)
			versions.SortDescending(published)

			w := app.stdout
			field(w, "collection", TitleStyle.Render(coll.Label()))
			if coll.LatestVersion != nil {
				field(w, "latest", coll.LatestVersion.Version)
			}
			if coll.Deprecated {
				field(w, "deprecated", WarningStyle.Render("yes"))
			}
			field(w, "versions", strings.Join(published, ", "))
			if repo, ok := rc.sess.Index().Get(ns, name); ok {
				field(w, "installed", installedSummary(repo))
			}

			if version == "" {
				return nil
			}
			detail, err := reg.GetVersion(ctx, ns, name, version)
			if err != nil {
				return app.fail(cmd, rc, issue.WrapWithContext(err, "look up version", args[0]+" "+version), ExitFailure)
			}
			fmt.Fprintln(w)
			field(w, "version", detail.Version)
			field(w, "download_url", detail.DownloadURL)
			field(w, "sha256", detail.SHA256)
			field(w, "dependencies", dependencyList(detail.Dependencies))
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "detail", "", "also show download URL, digest and dependencies of this version")
	return cmd
}

// artifactInfo prints the manifest of a built artifact.
func artifactInfo(w io.Writer, path string) error {
	m, err := archive.ReadArtifactManifest(path)
	if err != nil {
		return err
	}
	info := m.CollectionInfo
	files := 0
	for _, f := range m.Files {
		if f.FType == collection.FileTypeFile {
			files++
		}
	}
	field(w, "collection", TitleStyle.Render(info.Label()))
	field(w, "version", info.Version)
	if info.License != "" {
		field(w, "license", info.License)
	}
	if len(info.Authors) > 0 {
		field(w, "authors", strings.Join(info.Authors, ", "))
	}
	field(w, "files", strconv.Itoa(files))
	field(w, "dependencies", dependencyList(info.Dependencies))
	return nil
}

// installedSummary renders the installed version with its install date,
// or marks an editable link.
func installedSummary(repo *collection.Repository) string {
	version := repo.Spec.Version
	if version == "" {
		version = "unknown version"
	}
	switch {
	case repo.Editable:
		return version + " " + SubtitleStyle.Render("(editable)")
	case repo.InstallInfo != nil:
		if at, err := repo.InstallInfo.InstalledAt(); err == nil {
			return version + " " + SubtitleStyle.Render("(installed "+at.Format(time.DateTime)+")")
		}
	}
	return version
}

func dependencyList(deps map[string]string) string {
	out := make([]string, 0, len(deps))
	for label, r := range deps {
		out = append(out, label+" "+r)
	}
	slices.Sort(out)
	if len(out) == 0 {
		return SubtitleStyle.Render("(none)")
	}
	return strings.Join(out, ", ")
}

func field(w io.Writer, key, value string) {
	fmt.Fprintln(w, columnStyle.Width(14).Render(LabelStyle.Render(key+":"))+value)
}
