// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/internal/config"
	"github.com/stowage-dev/stowage/pkg/fetch"
	"github.com/stowage-dev/stowage/pkg/registry"
	"github.com/stowage-dev/stowage/pkg/session"
)

type (
	// ConfigProvider loads configuration.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// RegistryFactory builds the registry client for a session.
	RegistryFactory func(*session.Session) (fetch.Registry, error)

	// App is the composition root of the CLI. Command handlers reach every
	// service through it.
	App struct {
		Config   ConfigProvider
		Registry RegistryFactory
		stdout   io.Writer
		stderr   io.Writer
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config   ConfigProvider
		Registry RegistryFactory
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// globalFlags are the persistent flags shared by every command.
	globalFlags struct {
		verbose         bool
		configPath      string
		server          string
		token           string
		ignoreCerts     bool
		collectionsPath string
	}

	// runContext is what a command works with once flags and config are
	// merged.
	runContext struct {
		cfg     *config.Config
		sess    *session.Session
		verbose bool
	}
)

// NewApp fills defaults for the missing dependencies.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:   deps.Config,
		Registry: deps.Registry,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Registry == nil {
		app.Registry = defaultRegistry
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func defaultRegistry(sess *session.Session) (fetch.Registry, error) {
	c, err := sess.Registry(registry.WithUserAgent("stowage/" + Version))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// prepare loads configuration, applies flag overrides and builds the
// session for one command.
func (a *App) prepare(cmd *cobra.Command, flags *globalFlags) (*runContext, error) {
	cfg, err := a.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("server") {
		cfg.Server.URL = flags.server
	}
	if cmd.Flags().Changed("token") {
		cfg.Server.Token = flags.token
	}
	if cmd.Flags().Changed("ignore-certs") {
		cfg.Server.IgnoreCerts = flags.ignoreCerts
	}
	if cmd.Flags().Changed("collections-path") {
		cfg.CollectionsPath = flags.collectionsPath
	}
	verbose := flags.verbose || cfg.UI.Verbose

	sess := &session.Session{
		CollectionsRoot: cfg.CollectionsPath,
		ServerURL:       cfg.Server.URL,
		ValidateCerts:   !cfg.Server.IgnoreCerts,
		Token:           cfg.Server.Token,
		HTTPTimeout:     cfg.HTTP.Timeout,
		MaxRetries:      cfg.HTTP.MaxRetries,
		Display:         session.NewTerminalDisplay(a.stdout, a.stderr),
		Logger:          session.NewLogger(a.stderr, verbose),
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	sess.Logger.Debug("session ready", "collections", sess.CollectionsRoot, "server", sess.ServerURL)
	return &runContext{cfg: cfg, sess: sess, verbose: verbose}, nil
}

// fail reports err once on the display, adds the matching catalog guide in
// verbose mode and converts it to an ExitError with code. rc is nil when
// the failure happened before the session existed.
func (a *App) fail(cmd *cobra.Command, rc *runContext, err error, code int) error {
	silence(cmd)
	var (
		display session.Display = session.NewTerminalDisplay(a.stdout, a.stderr)
		style                   = "dark"
		verbose bool
	)
	if rc != nil {
		display, verbose = rc.sess.Display, rc.verbose
		if rc.cfg.UI.ColorScheme == config.ColorSchemeLight {
			style = "light"
		}
		rc.sess.Logger.Debug("command failed", "command", cmd.Name(), "err", err)
	} else {
		verbose, _ = cmd.Flags().GetBool("verbose")
	}
	display.Error(formatErrorForDisplay(err, verbose))

	svcErr := newServiceError(err)
	if verbose {
		if rerr := renderIssue(a.stderr, svcErr, style); rerr != nil {
			display.Warn(fmt.Sprintf("failed to render issue guide: %v", rerr))
		}
	}
	return &ExitError{Code: code, Err: svcErr}
}
