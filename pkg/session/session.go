// SPDX-License-Identifier: MPL-2.0

// Package session carries the explicit run context shared by the install,
// build and query operations: where content is installed, which registry
// to talk to and how, and where messages and logs go.
package session

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stowage-dev/stowage/pkg/installed"
	"github.com/stowage-dev/stowage/pkg/registry"
)

// ErrNoCollectionsRoot is returned by Validate when CollectionsRoot is empty.
var ErrNoCollectionsRoot = errors.New("collections root is not set")

// Session is the run context. The zero value is not usable; fill at least
// CollectionsRoot, or use Default.
type Session struct {
	// CollectionsRoot holds ansible_collections/<namespace>/<name>.
	CollectionsRoot string
	// ServerURL is the registry base URL; empty selects the public one.
	ServerURL string
	// ValidateCerts turns TLS certificate validation on.
	ValidateCerts bool
	// Token is the registry API token, sent only to ServerURL's host.
	Token string
	// TempDir is where downloads and clones are staged; empty uses the
	// system default.
	TempDir     string
	HTTPTimeout time.Duration
	MaxRetries  int

	Display Display
	Logger  *log.Logger
}

// Default returns a Session writing to the terminal with the collections
// root under the user's home directory.
func Default() *Session {
	root := ".stowage/collections"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, root)
	}
	return &Session{
		CollectionsRoot: root,
		ValidateCerts:   true,
		HTTPTimeout:     60 * time.Second,
		MaxRetries:      3,
		Display:         NewTerminalDisplay(os.Stdout, os.Stderr),
		Logger:          NewLogger(os.Stderr, false),
	}
}

// Validate checks the fields every operation depends on and fills nil
// sinks with discarding ones.
func (s *Session) Validate() error {
	if s.CollectionsRoot == "" {
		return ErrNoCollectionsRoot
	}
	if s.Display == nil {
		s.Display = NewTerminalDisplay(io.Discard, io.Discard)
	}
	if s.Logger == nil {
		s.Logger = log.New(io.Discard)
	}
	return nil
}

// Index returns the installed-content index over CollectionsRoot.
func (s *Session) Index() *installed.Index {
	return installed.New(s.CollectionsRoot, s.Logger)
}

// Registry returns a client for ServerURL configured from the session.
// Extra options are applied last.
func (s *Session) Registry(opts ...registry.Option) (*registry.Client, error) {
	base := []registry.Option{
		registry.WithToken(s.Token),
		registry.WithInsecureSkipVerify(!s.ValidateCerts),
		registry.WithLogger(s.Logger),
	}
	if s.HTTPTimeout > 0 {
		base = append(base, registry.WithTimeout(s.HTTPTimeout))
	}
	if s.MaxRetries >= 0 {
		base = append(base, registry.WithMaxRetries(s.MaxRetries))
	}
	return registry.New(s.ServerURL, append(base, opts...)...)
}

// NewLogger returns the logger used across a run. Verbose lowers the level
// to debug and adds timestamps.
func NewLogger(w io.Writer, verbose bool) *log.Logger {
	opts := log.Options{Prefix: "stowage", Level: log.InfoLevel}
	if verbose {
		opts.Level = log.DebugLevel
		opts.ReportTimestamp = true
	}
	return log.NewWithOptions(w, opts)
}
