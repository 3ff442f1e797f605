// SPDX-License-Identifier: MPL-2.0

// Package build turns a collection source tree into a distributable
// artifact.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/session"
)

// ErrArtifactExists is returned when the artifact is already built and
// Force is not set.
var ErrArtifactExists = errors.New("artifact already exists")

type (
	// Options control one Build.
	Options struct {
		// SourceDir holds galaxy.yml and the collection content.
		SourceDir string
		// OutputDir receives the artifact; empty means SourceDir.
		OutputDir string
		// IgnoreDirs and ExcludePatterns extend the default ignore rules.
		IgnoreDirs      []string
		ExcludePatterns []string
		// Force replaces an existing artifact.
		Force bool
	}

	// Result describes a built artifact.
	Result struct {
		ArtifactPath string
		Manifest     *collection.Manifest
		// Warnings are non-fatal metadata problems, such as an unknown
		// license.
		Warnings []string
	}

	// Builder builds artifacts, reporting through a session.
	Builder struct {
		sess *session.Session
	}
)

// New returns a Builder reporting through sess.
func New(sess *session.Session) *Builder {
	return &Builder{sess: sess}
}

// Build validates galaxy.yml, collects the source tree and writes
// v<version>.tar.gz into the output directory.
func (b *Builder) Build(ctx context.Context, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}
	out := src
	if opts.OutputDir != "" {
		if out, err = filepath.Abs(opts.OutputDir); err != nil {
			return nil, fmt.Errorf("resolve output directory: %w", err)
		}
	}

	galaxyPath := filepath.Join(src, collection.GalaxyFileName)
	info, warnings, err := collection.LoadCollectionInfo(galaxyPath)
	for _, w := range warnings {
		b.sess.Logger.Warn(w, "path", galaxyPath)
		b.sess.Display.Warn(w)
	}
	if err != nil {
		return nil, err
	}

	artifactPath := filepath.Join(out, archive.ArtifactFileName(info.Version))
	if _, err := os.Stat(artifactPath); err == nil {
		if !opts.Force {
			return nil, fmt.Errorf("%s: %w, use force to overwrite", artifactPath, ErrArtifactExists)
		}
		if err := os.Remove(artifactPath); err != nil {
			return nil, fmt.Errorf("remove previous artifact: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	walk := archive.WalkOptions{
		IgnoreDirs:      slices.Concat(archive.DefaultIgnoreDirs, opts.IgnoreDirs),
		ExcludePatterns: slices.Concat(archive.DefaultExcludePatterns, opts.ExcludePatterns),
		SkipPaths:       []string{artifactPath},
		Logger:          b.sess.Logger,
	}
	if out != src {
		walk.SkipPaths = append(walk.SkipPaths, out)
	}
	entries, err := archive.ScanTree(src, walk)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	m := collection.NewManifest(*info, entries)
	if err := archive.WriteArtifact(artifactPath, src, m); err != nil {
		return nil, fmt.Errorf("write %s: %w", artifactPath, err)
	}

	b.sess.Logger.Debug("built artifact", "collection", info.Label(), "files", len(entries), "path", artifactPath)
	b.sess.Display.Info(fmt.Sprintf("Created collection for %s at %s", info.Label(), artifactPath))
	return &Result{ArtifactPath: artifactPath, Manifest: m, Warnings: warnings}, nil
}
