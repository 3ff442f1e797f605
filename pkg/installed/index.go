// SPDX-License-Identifier: MPL-2.0

// Package installed reads the collections tree,
// <root>/ansible_collections/<namespace>/<name>/, and answers queries about
// the content installed there. There is no cache: every query walks the
// filesystem, and every query is total, so unreadable entries are logged
// and left out rather than reported as errors.
package installed

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/reqspec"
	"github.com/stowage-dev/stowage/pkg/versions"
)

// Index queries the collections tree under one root.
type Index struct {
	root   string
	logger *log.Logger
}

// New returns an Index over root. A nil logger discards messages.
func New(root string, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Index{root: root, logger: logger}
}

// Root returns the collections root.
func (x *Index) Root() string { return x.root }

// Namespaces lists the namespace directories accepted by m, sorted. A nil
// matcher accepts everything.
func (x *Index) Namespaces(m Matcher) []string {
	if m == nil {
		m = MatchAll()
	}
	dir := filepath.Join(x.root, collection.NamespaceContainerDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			x.logger.Warn("cannot read collections tree", "path", dir, "err", err)
		}
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if m.Match(Candidate{Namespace: e.Name()}) {
			out = append(out, e.Name())
		}
	}
	return out
}

// Repositories lists installed repositories whose namespace is accepted by
// nsMatcher and which are accepted by repoMatcher, sorted by label. Nil
// matchers accept everything.
func (x *Index) Repositories(nsMatcher, repoMatcher Matcher) []*collection.Repository {
	if repoMatcher == nil {
		repoMatcher = MatchAll()
	}
	var out []*collection.Repository
	for _, ns := range x.Namespaces(nsMatcher) {
		nsDir := collection.NamespacePath(x.root, ns)
		entries, err := os.ReadDir(nsDir)
		if err != nil {
			x.logger.Warn("cannot read namespace", "path", nsDir, "err", err)
			continue
		}
		for _, e := range entries {
			dir := filepath.Join(nsDir, e.Name())
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				continue
			}
			repo := x.load(dir, ns, e.Name())
			if repoMatcher.Match(Candidate{Namespace: ns, Name: e.Name(), Version: repo.Spec.Version}) {
				out = append(out, repo)
			}
		}
	}
	return out
}

// Get returns the repository installed as namespace.name.
func (x *Index) Get(namespace, name string) (*collection.Repository, bool) {
	dir := collection.CollectionPath(x.root, namespace, name)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, false
	}
	return x.load(dir, namespace, name), true
}

// Find returns the installed repository satisfying spec: namespace and
// name must match, and the installed version must fall inside the spec's
// range unless that range is "*".
func (x *Index) Find(spec collection.RequirementSpec) (*collection.Repository, bool) {
	if spec.Namespace == "" || spec.Name == "" {
		return nil, false
	}
	matcher := MatchNamespacesAndNames(collection.RepositorySpec{Namespace: spec.Namespace, Name: spec.Name})
	if exact, ok := versions.IsExact(spec.VersionSpec); ok {
		matcher = MatchSpecs(collection.RepositorySpec{Namespace: spec.Namespace, Name: spec.Name, Version: exact})
	}
	for _, repo := range x.Repositories(MatchNamespaces(spec.Namespace), matcher) {
		if spec.IsAnyVersion() || spec.Allows(repo.Spec.Version) {
			return repo, true
		}
	}
	return nil, false
}

// Remove deletes the repository installed as namespace.name. Editable
// installs lose their link only; the linked source stays untouched.
func (x *Index) Remove(namespace, name string) error {
	dir := collection.CollectionPath(x.root, namespace, name)
	fi, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("%s.%s is not installed: %w", namespace, name, err)
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return os.Remove(dir)
	}
	return os.RemoveAll(dir)
}

// load builds a Repository from whatever metadata dir carries. A bare
// directory yields a Repository with identity and path only.
func (x *Index) load(dir, namespace, name string) *collection.Repository {
	repo := &collection.Repository{
		Spec: collection.RepositorySpec{Namespace: namespace, Name: name},
		Path: dir,
	}
	if fi, err := os.Lstat(dir); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		repo.Editable = true
		repo.Spec.FetchMethod = collection.FetchMethodEditable
		if target, err := filepath.EvalSymlinks(dir); err == nil {
			repo.Spec.Src = target
		}
	}

	repo.Info = x.readInfo(dir)
	if ii, err := collection.ReadInstallInfo(dir); err != nil {
		x.logger.Debug("ignoring unreadable install record", "path", dir, "err", err)
	} else {
		repo.InstallInfo = ii
	}

	switch {
	case repo.InstallInfo != nil && repo.InstallInfo.Version != "":
		repo.Spec.Version = repo.InstallInfo.Version
	case repo.Info != nil:
		repo.Spec.Version = repo.Info.Version
	}

	if repo.Info != nil {
		repo.Dependencies = repo.Info.Dependencies
	}
	repo.Requirements = x.requirements(repo)
	return repo
}

func (x *Index) readInfo(dir string) *collection.CollectionInfo {
	m, err := collection.ReadManifestFile(filepath.Join(dir, collection.ManifestFileName))
	if err == nil {
		return &m.CollectionInfo
	}
	if !errors.Is(err, fs.ErrNotExist) {
		x.logger.Debug("ignoring unreadable manifest", "path", dir, "err", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, collection.GalaxyFileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			x.logger.Debug("ignoring unreadable galaxy.yml", "path", dir, "err", err)
		}
		return nil
	}
	info, err := collection.ParseCollectionInfo(data)
	if err != nil {
		x.logger.Debug("ignoring unparsable galaxy.yml", "path", dir, "err", err)
		return nil
	}
	return info
}

// requirements gathers the declared dependencies (install scope), the
// entries of requirements.yml (install scope) and the dependencies of every
// role's meta/main.yml (runtime scope).
func (x *Index) requirements(repo *collection.Repository) []collection.Requirement {
	var reqs []collection.Requirement
	add := func(spec collection.RequirementSpec, scope collection.Scope) {
		reqs = append(reqs, collection.Requirement{
			RepositorySpec:  &repo.Spec,
			RequirementSpec: spec,
			Op:              collection.OpEqual,
			Scope:           scope,
		})
	}

	labels := make([]string, 0, len(repo.Dependencies))
	for l := range repo.Dependencies {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for _, l := range labels {
		spec, err := reqspec.FromDependency(l, repo.Dependencies[l])
		if err != nil {
			x.logger.Warn("skipping invalid dependency", "repository", repo.Label(), "dependency", l, "err", err)
			continue
		}
		add(spec, collection.ScopeInstall)
	}

	entries, err := collection.ReadRequirementsFile(filepath.Join(repo.Path, collection.RequirementsFileName))
	if err != nil {
		x.logger.Debug("ignoring unreadable requirements file", "repository", repo.Label(), "err", err)
	}
	for _, e := range entries {
		spec, err := reqspec.FromEntry(e)
		if err != nil {
			x.logger.Warn("skipping invalid requirement", "repository", repo.Label(), "err", err)
			continue
		}
		add(spec, collection.ScopeInstall)
	}

	for _, roleDir := range x.roleDirs(repo.Path) {
		meta, err := collection.ReadRoleMeta(roleDir)
		if err != nil {
			x.logger.Debug("ignoring unreadable role metadata", "path", roleDir, "err", err)
			continue
		}
		if meta == nil {
			continue
		}
		for _, e := range meta.Dependencies {
			spec, err := reqspec.FromEntry(e)
			if err != nil {
				x.logger.Debug("skipping role dependency", "path", roleDir, "err", err)
				continue
			}
			add(spec, collection.ScopeRuntime)
		}
	}
	return reqs
}

// roleDirs returns the repository directory itself followed by every
// directory under roles/.
func (x *Index) roleDirs(repoPath string) []string {
	dirs := []string{repoPath}
	entries, err := os.ReadDir(filepath.Join(repoPath, "roles"))
	if err != nil {
		return dirs
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(repoPath, "roles", e.Name()))
		}
	}
	return dirs
}
