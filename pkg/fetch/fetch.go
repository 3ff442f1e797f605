// SPDX-License-Identifier: MPL-2.0

// Package fetch obtains content for a resolved requirement. Each fetch
// method has a Strategy: Find settles on a concrete version and location,
// Fetch puts an artifact on local disk (or, for editable installs, links the
// source into the collections tree) and Cleanup removes whatever the
// strategy staged.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/registry"
)

type (
	// Strategy fetches content with one transport. It is used for a single
	// requirement and then discarded.
	Strategy interface {
		// Method reports the fetch method the strategy implements.
		Method() collection.FetchMethod
		// Find resolves the requirement to a concrete target.
		Find(ctx context.Context) (*FindResult, error)
		// Fetch obtains the target found by Find.
		Fetch(ctx context.Context, found *FindResult) (*FetchResult, error)
		// Cleanup removes staged files. Failures are logged, never returned.
		Cleanup()
	}

	// Registry is the part of the registry client the strategies use.
	Registry interface {
		GetCollection(ctx context.Context, namespace, name string) (*registry.Collection, error)
		Versions(ctx context.Context, namespace, name string) ([]string, error)
		GetVersion(ctx context.Context, namespace, name, version string) (*registry.VersionDetail, error)
		Download(ctx context.Context, rawURL string, w io.Writer) (int64, error)
	}

	// FindResult is a concrete target.
	FindResult struct {
		// Spec is the resolved identity. Namespace, name and version may be
		// incomplete when IdentityPending is set.
		Spec collection.RepositorySpec
		// Locator is where the content comes from: a download URL, a path or
		// a clone URL.
		Locator string
		// Ref is the SCM revision to check out.
		Ref string
		// ExpectedSHA256 is the artifact digest to verify after download.
		ExpectedSHA256 string
		// IdentityPending is set when the identity is only known once the
		// content has been fetched.
		IdentityPending bool
	}

	// FetchResult is the outcome of a fetch.
	FetchResult struct {
		Spec collection.RepositorySpec
		// ArtifactPath is the artifact to install; empty when Linked.
		ArtifactPath string
		// Linked is set for editable installs: the content is already in
		// place at Path and needs no extraction.
		Linked bool
		Path   string
	}

	// Options are shared by every strategy.
	Options struct {
		Registry        Registry
		CollectionsRoot string
		// TempDir is where artifacts and clones are staged; empty uses the
		// system default.
		TempDir string
		// Force lets an editable install replace existing content.
		Force  bool
		Logger *log.Logger
		// SCMTools maps an SCM name to the tool that clones it. Missing
		// entries fall back to DefaultSCMTools.
		SCMTools map[string]SCMTool
	}
)

// New returns the strategy for spec.FetchMethod.
func New(spec collection.RequirementSpec, opts Options) (Strategy, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	s := stager{tempDir: opts.TempDir, logger: opts.Logger}
	switch spec.FetchMethod {
	case collection.FetchMethodGalaxyURL:
		if opts.Registry == nil {
			return nil, &FetchError{Spec: spec.String(), Err: fmt.Errorf("no registry configured")}
		}
		return &galaxyStrategy{stager: s, spec: spec, registry: opts.Registry}, nil
	case collection.FetchMethodLocalFile:
		return &localFileStrategy{stager: s, spec: spec}, nil
	case collection.FetchMethodRemoteURL:
		if opts.Registry == nil {
			return nil, &FetchError{Spec: spec.String(), URL: spec.Src, Err: fmt.Errorf("no HTTP client configured")}
		}
		return &remoteURLStrategy{stager: s, spec: spec, client: opts.Registry}, nil
	case collection.FetchMethodSCMURL:
		tool, err := scmTool(spec.Scm, opts.SCMTools)
		if err != nil {
			return nil, &FetchError{Spec: spec.String(), URL: spec.Src, Err: err}
		}
		return &scmStrategy{stager: s, spec: spec, tool: tool}, nil
	case collection.FetchMethodEditable:
		return &editableStrategy{stager: s, spec: spec, root: opts.CollectionsRoot, force: opts.Force}, nil
	default:
		return nil, &FetchError{Spec: spec.String(), Err: fmt.Errorf("unknown fetch method %q", spec.FetchMethod)}
	}
}

// stager owns the temporary directories of one strategy.
type stager struct {
	tempDir string
	logger  *log.Logger
	dirs    []string
}

func (s *stager) mkTemp() (string, error) {
	dir, err := os.MkdirTemp(s.tempDir, "stowage-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	s.dirs = append(s.dirs, dir)
	return dir, nil
}

// Cleanup implements Strategy.
func (s *stager) Cleanup() {
	for _, dir := range s.dirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("cannot remove staging directory", "path", dir, "err", err)
		}
	}
	s.dirs = nil
}

// identityFromManifest fills the empty fields of spec from an artifact's
// manifest, when it has one.
func identityFromManifest(spec collection.RepositorySpec, m *collection.Manifest) collection.RepositorySpec {
	if m == nil {
		return spec
	}
	if m.CollectionInfo.Namespace != "" {
		spec.Namespace = m.CollectionInfo.Namespace
	}
	if m.CollectionInfo.Name != "" {
		spec.Name = m.CollectionInfo.Name
	}
	if m.CollectionInfo.Version != "" {
		spec.Version = m.CollectionInfo.Version
	}
	return spec
}

// specFor returns the identity a requirement names before anything is
// fetched: the exact version, if it names one.
func specFor(req collection.RequirementSpec) collection.RepositorySpec {
	spec := collection.RepositorySpec{
		Namespace:   req.Namespace,
		Name:        req.Name,
		Src:         req.Src,
		Scm:         req.Scm,
		FetchMethod: req.FetchMethod,
	}
	if v, ok := exactVersion(req); ok {
		spec.Version = v
	}
	return spec
}
