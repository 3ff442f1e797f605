// SPDX-License-Identifier: MPL-2.0

package collection

import (
	"fmt"
	"path/filepath"

	"github.com/package-url/packageurl-go"

	"github.com/stowage-dev/stowage/pkg/versions"
)

const (
	// FetchMethodSCMURL fetches by cloning a source control repository.
	FetchMethodSCMURL FetchMethod = "SCM_URL"
	// FetchMethodEditable links a local source directory into the tree.
	FetchMethodEditable FetchMethod = "EDITABLE"
	// FetchMethodLocalFile installs an artifact that is already on disk.
	FetchMethodLocalFile FetchMethod = "LOCAL_FILE"
	// FetchMethodRemoteURL downloads an artifact from a plain URL.
	FetchMethodRemoteURL FetchMethod = "REMOTE_URL"
	// FetchMethodGalaxyURL resolves the artifact through the registry.
	FetchMethodGalaxyURL FetchMethod = "GALAXY_URL"

	// OpEqual is the only requirement operator in use.
	OpEqual Op = "="

	// ScopeInstall marks a dependency needed to install the content.
	ScopeInstall Scope = "install"
	// ScopeRuntime marks a dependency needed only when the content runs
	// (role-as-collection dependencies).
	ScopeRuntime Scope = "runtime"

	// purlType is the package-url type used for rendered identities.
	purlType = "galaxy"
)

type (
	// FetchMethod selects the transport used to obtain content.
	FetchMethod string

	// Op is a requirement operator.
	Op string

	// Scope is the phase in which a requirement is needed.
	Scope string

	// FetchHints carries transport-specific details parsed from a spec
	// string or a requirements file.
	FetchHints struct {
		// Ref is the SCM ref to check out when the version token was not a
		// version range (a branch, tag or commit).
		Ref string
		// ExpectedSHA256 is the artifact digest to verify, when known.
		ExpectedSHA256 string
	}

	// RequirementSpec is a parsed, not yet resolved request for content.
	// It is never mutated once built.
	RequirementSpec struct {
		Namespace string
		Name      string
		// VersionSpec is always a parsable range; "*" accepts every version.
		VersionSpec string
		// VersionAka is the version token as the user wrote it, before
		// normalization.
		VersionAka  string
		Src         string
		Scm         string
		FetchMethod FetchMethod
		Hints       FetchHints
	}

	// RepositorySpec is a resolved identity. Two RepositorySpecs are the same
	// repository when namespace, name and version match; Src, Scm and
	// FetchMethod are provenance only.
	RepositorySpec struct {
		Namespace   string
		Name        string
		Version     string
		Src         string
		Scm         string
		FetchMethod FetchMethod
	}

	// Requirement ties a RequirementSpec to the repository that declared it.
	// RepositorySpec is nil for requests made directly by the user.
	Requirement struct {
		RepositorySpec  *RepositorySpec
		RequirementSpec RequirementSpec
		Op              Op
		Scope           Scope
	}
)

// Label returns "namespace.name", or just the name when the namespace is not
// known yet.
func (s RequirementSpec) Label() string {
	return label(s.Namespace, s.Name)
}

// Range returns VersionSpec, defaulting to "*".
func (s RequirementSpec) Range() string {
	if s.VersionSpec == "" {
		return versions.AnyVersion
	}
	return s.VersionSpec
}

// IsAnyVersion reports whether every version satisfies the spec.
func (s RequirementSpec) IsAnyVersion() bool {
	return versions.IsAny(s.VersionSpec)
}

// Allows reports whether version satisfies the spec's range.
func (s RequirementSpec) Allows(version string) bool {
	return versions.Satisfies(version, s.Range())
}

// String renders the spec for messages.
func (s RequirementSpec) String() string {
	l := s.Label()
	if l == "" {
		l = s.Src
	}
	if s.IsAnyVersion() {
		return l
	}
	return l + "," + s.VersionSpec
}

// Label returns "namespace.name".
func (s RepositorySpec) Label() string {
	return label(s.Namespace, s.Name)
}

// Key identifies the repository by namespace, name and version.
func (s RepositorySpec) Key() string {
	return s.Label() + "," + s.Version
}

// Equal reports whether both specs name the same repository.
func (s RepositorySpec) Equal(o RepositorySpec) bool {
	return s.Namespace == o.Namespace && s.Name == o.Name && s.Version == o.Version
}

// String renders the spec for messages.
func (s RepositorySpec) String() string {
	if s.Version == "" {
		return s.Label()
	}
	return s.Key()
}

// PURL renders the spec as a package URL, e.g. "pkg:galaxy/ns/name@1.0.0".
func (s RepositorySpec) PURL() string {
	return packageurl.NewPackageURL(purlType, s.Namespace, s.Name, s.Version, nil, "").ToString()
}

// IsTopLevel reports whether the requirement came directly from the user.
func (r Requirement) IsTopLevel() bool {
	return r.RepositorySpec == nil
}

// String renders the requirement for messages.
func (r Requirement) String() string {
	if r.RepositorySpec == nil {
		return r.RequirementSpec.String()
	}
	return fmt.Sprintf("%s (required by %s)", r.RequirementSpec, r.RepositorySpec.Label())
}

// CollectionPath returns the directory a collection occupies under the
// collections root.
func CollectionPath(root, namespace, name string) string {
	return filepath.Join(root, NamespaceContainerDir, namespace, name)
}

// NamespacePath returns the directory holding every collection of a namespace.
func NamespacePath(root, namespace string) string {
	return filepath.Join(root, NamespaceContainerDir, namespace)
}

func label(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
