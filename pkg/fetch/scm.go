// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/versions"
)

type (
	// SCMTool clones one kind of source control repository.
	SCMTool interface {
		// ListRefs lists the tags of the remote repository and the branch its
		// HEAD points at. Tools that cannot list remotely return no tags.
		ListRefs(ctx context.Context, src string) (*RemoteRefs, error)
		// Checkout clones src into dest and checks out ref; an empty ref
		// keeps the remote's default branch.
		Checkout(ctx context.Context, src, ref, dest string) error
	}

	// RemoteRefs is what SCMTool.ListRefs reports.
	RemoteRefs struct {
		Tags []string
		// Head is the default branch, empty when unknown.
		Head string
	}
)

// DefaultSCMTools returns the tools used when Options.SCMTools has no entry
// for an SCM: git in-process, Mercurial through the hg binary.
func DefaultSCMTools() map[string]SCMTool {
	return map[string]SCMTool{
		"git": NewGitTool(),
		"hg":  &MercurialTool{Binary: "hg"},
	}
}

func scmTool(name string, tools map[string]SCMTool) (SCMTool, error) {
	if name == "" {
		name = "git"
	}
	if t, ok := tools[name]; ok && t != nil {
		return t, nil
	}
	if t, ok := DefaultSCMTools()[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unsupported scm %q", name)
}

// scmStrategy clones a repository and archives its worktree. A worktree
// with galaxy.yml becomes a collection artifact; anything else is archived
// as a role.
type scmStrategy struct {
	stager
	spec collection.RequirementSpec
	tool SCMTool
}

func (s *scmStrategy) Method() collection.FetchMethod { return collection.FetchMethodSCMURL }

func (s *scmStrategy) Find(ctx context.Context) (*FindResult, error) {
	spec := specFor(s.spec)
	found := &FindResult{Spec: spec, Locator: s.spec.Src, IdentityPending: true}

	if s.spec.Hints.Ref != "" {
		found.Ref = s.spec.Hints.Ref
		return found, nil
	}

	refs, err := s.tool.ListRefs(ctx, s.spec.Src)
	if err != nil {
		return nil, &FetchError{Spec: s.spec.String(), URL: s.spec.Src, Err: err}
	}
	var sel *versions.Selection
	if s.spec.IsAnyVersion() {
		sel, err = versions.Latest(s.spec.Label(), refs.Tags, refs.Head)
	} else {
		sel, err = versions.Select(s.spec.Label(), refs.Tags, s.spec.Range())
	}
	if err != nil {
		return nil, err
	}
	found.Ref = sel.Version
	if !sel.Branch {
		found.Spec.Version = sel.Normalized
	}
	s.logger.Debug("resolved scm ref", "src", s.spec.Src, "ref", found.Ref, "branch", sel.Branch)
	return found, nil
}

func (s *scmStrategy) Fetch(ctx context.Context, found *FindResult) (*FetchResult, error) {
	dir, err := s.mkTemp()
	if err != nil {
		return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
	}
	worktree := filepath.Join(dir, "checkout")
	if err := s.tool.Checkout(ctx, found.Locator, found.Ref, worktree); err != nil {
		return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
	}

	spec := found.Spec
	if spec.Version == "" {
		spec.Version = refVersion(found.Ref)
	}

	entries, err := archive.ScanTree(worktree, archive.WalkOptions{Logger: s.logger})
	if err != nil {
		return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
	}

	galaxyPath := filepath.Join(worktree, collection.GalaxyFileName)
	info, warnings, err := collection.LoadCollectionInfo(galaxyPath)
	var artifactPath string
	switch {
	case err == nil:
		for _, w := range warnings {
			s.logger.Warn(w, "path", galaxyPath)
		}
		spec.Namespace, spec.Name, spec.Version = info.Namespace, info.Name, info.Version
		artifactPath = filepath.Join(dir, archive.ArtifactFileName(spec.Version))
		if err := archive.WriteArtifact(artifactPath, worktree, collection.NewManifest(*info, entries)); err != nil {
			return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
		}
	case errors.Is(err, fs.ErrNotExist):
		artifactPath = filepath.Join(dir, spec.Name+".tar.gz")
		if err := archive.WriteTree(artifactPath, worktree, spec.Name+"/", entries); err != nil {
			return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
		}
	default:
		return nil, &FetchError{Spec: s.spec.String(), URL: found.Locator, Err: err}
	}

	if err := checkVersion(s.spec, spec.Version); err != nil {
		return nil, err
	}
	return &FetchResult{Spec: spec, ArtifactPath: artifactPath}, nil
}

// refVersion turns a checkout ref into a version. A ref that is itself a
// version is normalized; anything else becomes 0.0.0 with the ref as build
// metadata.
func refVersion(ref string) string {
	if v, ok := versions.IsExact(ref); ok {
		return v
	}
	meta := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, ref)
	if meta == "" {
		return "0.0.0"
	}
	return "0.0.0+" + meta
}
