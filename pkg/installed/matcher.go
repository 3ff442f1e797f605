// SPDX-License-Identifier: MPL-2.0

package installed

import (
	"slices"
	"strings"

	"github.com/stowage-dev/stowage/pkg/collection"
)

type (
	// Candidate is what a Matcher inspects. While walking namespaces only
	// Namespace is set.
	Candidate struct {
		Namespace string
		Name      string
		Version   string
	}

	// Matcher selects namespaces and repositories. The set of matchers is
	// closed; use the constructors in this package.
	Matcher interface {
		Match(c Candidate) bool
		sealed()
	}

	allMatcher  struct{}
	noneMatcher struct{}

	namesMatcher struct{ names []string }

	labelsMatcher struct{ labels []string }

	specsMatcher struct{ specs []collection.RepositorySpec }

	namespacesAndNamesMatcher struct{ specs []collection.RepositorySpec }

	namespacesMatcher struct{ namespaces []string }

	namespacesOrLabelsMatcher struct{ values []string }
)

// MatchAll matches every candidate.
func MatchAll() Matcher { return allMatcher{} }

// MatchNone matches nothing.
func MatchNone() Matcher { return noneMatcher{} }

// MatchNames matches repositories by name regardless of namespace.
func MatchNames(names ...string) Matcher { return namesMatcher{names: names} }

// MatchLabels matches repositories by "namespace.name".
func MatchLabels(labels ...string) Matcher { return labelsMatcher{labels: labels} }

// MatchSpecs matches repositories by namespace, name and version.
func MatchSpecs(specs ...collection.RepositorySpec) Matcher { return specsMatcher{specs: specs} }

// MatchNamespacesAndNames matches repositories by namespace and name,
// ignoring the version of the given specs.
func MatchNamespacesAndNames(specs ...collection.RepositorySpec) Matcher {
	return namespacesAndNamesMatcher{specs: specs}
}

// MatchNamespaces matches namespaces, and every repository inside them.
func MatchNamespaces(namespaces ...string) Matcher {
	return namespacesMatcher{namespaces: namespaces}
}

// MatchNamespacesOrLabels matches a candidate whose namespace or
// "namespace.name" label is among values. At namespace level a label value
// also matches its namespace so the walk can descend into it.
func MatchNamespacesOrLabels(values ...string) Matcher {
	return namespacesOrLabelsMatcher{values: values}
}

func (allMatcher) Match(Candidate) bool  { return true }
func (noneMatcher) Match(Candidate) bool { return false }

func (m namesMatcher) Match(c Candidate) bool {
	return c.Name != "" && slices.Contains(m.names, c.Name)
}

func (m labelsMatcher) Match(c Candidate) bool {
	return c.Name != "" && slices.Contains(m.labels, c.Namespace+"."+c.Name)
}

func (m specsMatcher) Match(c Candidate) bool {
	return slices.ContainsFunc(m.specs, func(s collection.RepositorySpec) bool {
		return s.Namespace == c.Namespace && s.Name == c.Name && s.Version == c.Version
	})
}

func (m namespacesAndNamesMatcher) Match(c Candidate) bool {
	return slices.ContainsFunc(m.specs, func(s collection.RepositorySpec) bool {
		return s.Namespace == c.Namespace && s.Name == c.Name
	})
}

func (m namespacesMatcher) Match(c Candidate) bool {
	return slices.Contains(m.namespaces, c.Namespace)
}

func (m namespacesOrLabelsMatcher) Match(c Candidate) bool {
	for _, v := range m.values {
		if v == c.Namespace {
			return true
		}
		ns, name, isLabel := strings.Cut(v, ".")
		if !isLabel || ns != c.Namespace {
			continue
		}
		if c.Name == "" || name == c.Name {
			return true
		}
	}
	return false
}

func (allMatcher) sealed()                {}
func (noneMatcher) sealed()               {}
func (namesMatcher) sealed()              {}
func (labelsMatcher) sealed()             {}
func (specsMatcher) sealed()              {}
func (namespacesAndNamesMatcher) sealed() {}
func (namespacesMatcher) sealed()         {}
func (namespacesOrLabelsMatcher) sealed() {}
