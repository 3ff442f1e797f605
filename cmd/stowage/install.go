// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/install"
	"github.com/stowage-dev/stowage/pkg/reqspec"
)

var errNothingRequested = errors.New("no collections requested; pass specs, --requirements-file or --lockfile")

type installFlags struct {
	requirementsFile string
	lockfile         string
	force            bool
	ignoreErrors     bool
	noDeps           bool
	editable         bool
	namespace        string
}

func newInstallCommand(app *App, global *globalFlags) *cobra.Command {
	flags := &installFlags{}
	cmd := &cobra.Command{
		Use:   "install [spec...]",
		Short: "Install collections and roles with their dependencies",
		Long: `Install collections and roles with their dependencies.

A spec is a collection name with an optional version range, a source
control URL, a local artifact or directory, or an artifact URL:

  acme.tools                          latest published version
  'acme.tools,>=1.2.0 <2.0.0'         newest version in the range
  git+https://host/acme/tools.git     latest tag, or the default branch
  git+https://host/acme/tools.git,v2  a tag or branch
  ./acme-tools-1.0.0.tar.gz           local artifact
  https://host/acme-tools.tar.gz      artifact download

Further keys may follow the source: name=, version=, namespace=, scm=.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, app, global, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.requirementsFile, "requirements-file", "r", "", "install the requirements listed in a YAML file")
	f.StringVar(&flags.lockfile, "lockfile", "", "install the exact versions pinned in a lockfile")
	f.BoolVarP(&flags.force, "force", "f", false, "reinstall requested content that is already installed")
	f.BoolVarP(&flags.ignoreErrors, "ignore-errors", "i", false, "report failed requirements and continue")
	f.BoolVarP(&flags.noDeps, "no-deps", "n", false, "do not install dependencies")
	f.BoolVarP(&flags.editable, "editable", "e", false, "link local source directories instead of copying them")
	f.StringVar(&flags.namespace, "namespace", "", "namespace for roles that do not declare one")
	return cmd
}

func runInstall(cmd *cobra.Command, app *App, global *globalFlags, flags *installFlags, args []string) error {
	rc, err := app.prepare(cmd, global)
	if err != nil {
		return app.fail(cmd, nil, err, ExitFailure)
	}

	reqs, err := installTargets(flags, args)
	if err != nil {
		return app.fail(cmd, rc, err, ExitFailure)
	}

	reg, err := app.Registry(rc.sess)
	if err != nil {
		return app.fail(cmd, rc, err, ExitFailure)
	}
	in, err := install.New(rc.sess, reg)
	if err != nil {
		return app.fail(cmd, rc, err, ExitFailure)
	}

	res, err := in.Run(cmd.Context(), reqs, install.Options{
		ForceOverwrite: flags.force,
		IgnoreErrors:   flags.ignoreErrors,
		NoDeps:         flags.noDeps,
	})
	if err != nil {
		return app.fail(cmd, rc, err, ExitSoftware)
	}

	summary := fmt.Sprintf("%d installed, %d already satisfied", len(res.Installed), len(res.Skipped))
	if len(res.Conflicts) > 0 {
		summary += fmt.Sprintf(", %d unsatisfied", len(res.Conflicts))
	}
	if len(res.Failed) > 0 {
		summary += fmt.Sprintf(", %d failed", len(res.Failed))
	}
	if len(res.Failed) > 0 || len(res.Conflicts) > 0 {
		rc.sess.Display.Warn(summary)
		return nil
	}
	rc.sess.Display.Info(SuccessStyle.Render(summary))
	return nil
}

// installTargets gathers requirements from the command line, the
// requirements file and the lockfile, in that order.
func installTargets(flags *installFlags, args []string) ([]collection.Requirement, error) {
	specs := args
	if flags.namespace != "" {
		specs = make([]string, len(args))
		for i, a := range args {
			specs[i] = withNamespace(a, flags.namespace, flags.editable)
		}
	}

	reqs, err := install.FromSpecs(specs, flags.editable)
	if err != nil {
		return nil, err
	}
	if flags.requirementsFile != "" {
		more, err := install.FromRequirementsFile(flags.requirementsFile)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, more...)
	}
	if flags.lockfile != "" {
		more, err := install.FromLockfile(flags.lockfile)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, more...)
	}
	if len(reqs) == 0 {
		return nil, errNothingRequested
	}
	return reqs, nil
}

// withNamespace adds a namespace= key to spec when the spec does not name a
// namespace itself, as roles fetched from source control or a URL do not.
// Specs that fail to parse are returned unchanged and fail later with the
// full error.
func withNamespace(spec, namespace string, editable bool) string {
	parsed, err := reqspec.ParseRequirement(spec, editable)
	if err != nil || parsed.Namespace != "" {
		return spec
	}
	return spec + ",namespace=" + namespace
}
