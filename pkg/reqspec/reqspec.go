// SPDX-License-Identifier: MPL-2.0

// Package reqspec turns requirement spec strings such as
// "geerlingguy.apache,2.1.1" or "git+https://host/x/y.git,main" into
// collection.RequirementSpec values.
//
// A spec string is a comma separated list of tokens:
//
//	<src>[,<version>][,<name>][,name=..][,version=..][,namespace=..][,scm=..][,src=..]
package reqspec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/versions"
)

const acceptedForms = "expected an SCM URL (git+https://host/repo.git, git@host:repo.git), " +
	"a local artifact path, a directory together with --editable, " +
	"an http(s) or ftp URL, or a registry label of the form namespace.name"

var (
	scmPrefix  = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9]*)\+(.+)$`)
	scpLike    = regexp.MustCompile(`^[\w.-]+@[\w.-]+:[^/\s].*$`)
	keyToken   = regexp.MustCompile(`^[a-z_]+$`)
	scmSchemes = []string{"git://", "ssh://", "git+", "hg+"}
	urlSchemes = []string{"http://", "https://", "ftp://"}
	knownKeys  = map[string]bool{"src": true, "version": true, "name": true, "namespace": true, "scm": true}
)

// Parsed is the token-level view of a spec string before classification.
type Parsed struct {
	Raw       string
	Src       string
	Version   string
	Name      string
	Namespace string
	Scm       string
}

// Parse splits a spec string into its tokens. The first token is the source;
// later tokens are either key=value pairs or positional (version, then name).
func Parse(spec string) (*Parsed, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return nil, &SpecParseError{Spec: spec, Reason: "spec is empty"}
	}

	p := &Parsed{Raw: raw}
	positional := []*string{&p.Version, &p.Name}
	next := 0

	for i, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if i == 0 {
			if tok == "" {
				return nil, &SpecParseError{Spec: raw, Reason: "missing source"}
			}
			p.Src = tok
			continue
		}
		if tok == "" {
			continue
		}
		if key, value, ok := strings.Cut(tok, "="); ok && keyToken.MatchString(key) {
			if !knownKeys[key] {
				return nil, &SpecParseError{Spec: raw, Reason: "unknown key " + key}
			}
			switch key {
			case "src":
				p.Src = value
			case "version":
				p.Version = value
			case "name":
				p.Name = value
			case "namespace":
				p.Namespace = value
			case "scm":
				p.Scm = value
			}
			continue
		}
		if next >= len(positional) {
			return nil, &SpecParseError{Spec: raw, Reason: "too many positional values"}
		}
		*positional[next] = tok
		next++
	}

	p.splitSCMPrefix()
	if err := p.checkIdentifiers(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkIdentifiers rejects explicit name and namespace values that are not
// identifiers. A stray comparator here usually means a range was split on
// a comma instead of a space.
func (p *Parsed) checkIdentifiers() error {
	for _, f := range [...]struct{ field, value string }{{"name", p.Name}, {"namespace", p.Namespace}} {
		if f.value == "" || collection.IsIdentifier(f.value) {
			continue
		}
		reason := fmt.Sprintf("%s %q must contain only lowercase letters, digits and single underscores", f.field, f.value)
		if versions.ValidateRange(f.value) == nil {
			reason += "; separate version range clauses with a space, not a comma"
		}
		return &SpecParseError{Spec: p.Raw, Reason: reason}
	}
	return nil
}

// splitSCMPrefix moves the "git" of "git+https://..." into Scm.
func (p *Parsed) splitSCMPrefix() {
	m := scmPrefix.FindStringSubmatch(p.Src)
	if m == nil || (!strings.Contains(m[2], "://") && !scpLike.MatchString(m[2])) {
		return
	}
	if p.Scm == "" {
		p.Scm = strings.ToLower(m[1])
	}
	p.Src = m[2]
}

// IsSCM reports whether the parsed source points at a source control
// repository.
func IsSCM(p *Parsed) bool {
	if p.Scm != "" {
		return true
	}
	return isSCMURL(p.Src)
}

func isSCMURL(src string) bool {
	for _, s := range scmSchemes {
		if strings.HasPrefix(src, s) {
			return true
		}
	}
	if !strings.Contains(src, "://") && scpLike.MatchString(src) {
		return true
	}
	return strings.Contains(src, "://") && strings.HasSuffix(strings.TrimRight(src, "/"), ".git")
}

// Classify picks the fetch method for a parsed spec. The first matching rule
// wins: SCM, editable directory, local file, remote URL, registry label.
func Classify(p *Parsed, editable bool) (collection.FetchMethod, error) {
	if IsSCM(p) {
		return collection.FetchMethodSCMURL, nil
	}
	info, statErr := os.Stat(p.Src)
	if editable && statErr == nil && info.IsDir() {
		return collection.FetchMethodEditable, nil
	}
	if statErr == nil && info.Mode().IsRegular() {
		return collection.FetchMethodLocalFile, nil
	}
	if isRemoteURL(p.Src) {
		return collection.FetchMethodRemoteURL, nil
	}
	if _, _, ok := splitLabel(p.Src); ok {
		return collection.FetchMethodGalaxyURL, nil
	}
	return "", &SpecParseError{Spec: p.Raw, Reason: acceptedForms}
}

// Resolve builds the RequirementSpec for a classified spec.
func Resolve(p *Parsed, method collection.FetchMethod) (collection.RequirementSpec, error) {
	spec := collection.RequirementSpec{
		Namespace:   p.Namespace,
		Name:        p.Name,
		VersionSpec: versions.AnyVersion,
		Src:         p.Src,
		Scm:         p.Scm,
		FetchMethod: method,
	}

	switch method {
	case collection.FetchMethodSCMURL:
		if spec.Scm == "" {
			spec.Scm = "git"
		}
		if spec.Name == "" {
			spec.Name = nameFromURL(p.Src)
		}
	case collection.FetchMethodRemoteURL:
		if spec.Name == "" {
			spec.Name = nameFromURL(p.Src)
		}
	case collection.FetchMethodLocalFile, collection.FetchMethodEditable:
		abs, err := filepath.Abs(p.Src)
		if err != nil {
			return spec, &SpecParseError{Spec: p.Raw, Reason: err.Error()}
		}
		spec.Src = abs
		base := filepath.Base(abs)
		if method == collection.FetchMethodLocalFile {
			base = nameFromURL(base)
		}
		if ns, name, ok := splitLabel(base); ok && method == collection.FetchMethodEditable {
			if spec.Namespace == "" {
				spec.Namespace = ns
			}
			base = name
		}
		if spec.Name == "" {
			spec.Name = base
		}
	case collection.FetchMethodGalaxyURL:
		ns, name, ok := splitLabel(p.Src)
		if !ok {
			return spec, &SpecParseError{Spec: p.Raw, Reason: "registry labels take the form namespace.name"}
		}
		if spec.Namespace != "" && spec.Namespace != ns {
			return spec, &SpecParseError{Spec: p.Raw,
				Reason: fmt.Sprintf("namespace=%s conflicts with namespace %q of %s", spec.Namespace, ns, p.Src)}
		}
		spec.Namespace = ns
		if spec.Name == "" {
			spec.Name = name
		}
	default:
		return spec, &SpecParseError{Spec: p.Raw, Reason: "unknown fetch method " + string(method)}
	}

	if p.Version != "" {
		if err := applyVersion(&spec, p.Version); err != nil {
			return spec, &SpecParseError{Spec: p.Raw, Reason: err.Error()}
		}
	}
	return spec, nil
}

// ParseRequirement parses, classifies and resolves a spec string.
func ParseRequirement(spec string, editable bool) (collection.RequirementSpec, error) {
	p, err := Parse(spec)
	if err != nil {
		return collection.RequirementSpec{}, err
	}
	method, err := Classify(p, editable)
	if err != nil {
		return collection.RequirementSpec{}, err
	}
	return Resolve(p, method)
}

// FromEntry converts a requirements file entry.
func FromEntry(e collection.RequirementEntry) (collection.RequirementSpec, error) {
	if e.Spec != "" {
		return ParseRequirement(e.Spec, false)
	}

	p := &Parsed{Version: e.Version, Namespace: e.Namespace, Scm: e.Scm}
	switch {
	case e.Src == "":
		p.Src = e.Name
	default:
		p.Src = e.Src
		p.Name = e.Name
		if ns, name, ok := splitLabel(e.Name); ok {
			if p.Namespace == "" {
				p.Namespace = ns
			}
			p.Name = name
		}
	}
	p.Raw = entryString(e)
	p.splitSCMPrefix()
	if p.Src == "" {
		return collection.RequirementSpec{}, &SpecParseError{Spec: p.Raw, Reason: "entry has neither name nor src"}
	}

	method, err := Classify(p, false)
	if err != nil {
		return collection.RequirementSpec{}, err
	}
	spec, err := Resolve(p, method)
	if err != nil {
		return spec, err
	}
	spec.Hints.ExpectedSHA256 = e.SHA256
	return spec, nil
}

// FromDependency converts a "namespace.name: range" dependency declaration.
func FromDependency(label, rangeSpec string) (collection.RequirementSpec, error) {
	ns, name, ok := splitLabel(label)
	if !ok {
		return collection.RequirementSpec{}, &SpecParseError{Spec: label, Reason: "dependency labels take the form namespace.name"}
	}
	spec := collection.RequirementSpec{
		Namespace:   ns,
		Name:        name,
		VersionSpec: versions.AnyVersion,
		Src:         label,
		FetchMethod: collection.FetchMethodGalaxyURL,
	}
	if strings.TrimSpace(rangeSpec) != "" {
		if err := applyVersion(&spec, strings.TrimSpace(rangeSpec)); err != nil {
			return spec, &SpecParseError{Spec: label + "," + rangeSpec, Reason: err.Error()}
		}
	}
	return spec, nil
}

// RequireNamespace returns a NamespaceRequiredError when spec has no
// namespace. raw names the spec in the error; it defaults to spec.String().
func RequireNamespace(spec collection.RequirementSpec, raw string) error {
	if spec.Namespace != "" {
		return nil
	}
	if raw == "" {
		raw = spec.String()
	}
	return &NamespaceRequiredError{Spec: raw}
}

// applyVersion stores a version token on spec. Exact versions are
// normalized, ranges are kept as written and, for SCM specs only, any other
// token is taken to be a checkout ref.
func applyVersion(spec *collection.RequirementSpec, token string) error {
	spec.VersionAka = token
	if exact, ok := versions.IsExact(token); ok {
		spec.VersionSpec = exact
		if spec.FetchMethod == collection.FetchMethodSCMURL {
			spec.Hints.Ref = token
		}
		return nil
	}
	if err := versions.ValidateRange(token); err == nil {
		spec.VersionSpec = token
		return nil
	}
	if spec.FetchMethod == collection.FetchMethodSCMURL {
		spec.Hints.Ref = token
		spec.VersionSpec = versions.AnyVersion
		return nil
	}
	return fmt.Errorf("version %q is neither a version nor a version range", token)
}

// splitLabel splits "namespace.name". It requires exactly one dot with
// non-empty text on both sides and no path or URL characters.
func splitLabel(s string) (namespace, name string, ok bool) {
	if strings.Count(s, ".") != 1 || strings.ContainsAny(s, `/\:@`) {
		return "", "", false
	}
	namespace, name, _ = strings.Cut(s, ".")
	if namespace == "" || name == "" {
		return "", "", false
	}
	return namespace, name, true
}

func isRemoteURL(src string) bool {
	lower := strings.ToLower(src)
	for _, s := range urlSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// nameFromURL derives a content name from the last path segment of a URL or
// path, dropping query strings and archive or repository suffixes.
func nameFromURL(src string) string {
	s := src
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, `/\:`); i >= 0 {
		s = s[i+1:]
	}
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar", ".git"} {
		if trimmed, ok := strings.CutSuffix(s, suffix); ok {
			s = trimmed
			break
		}
	}
	return s
}

func entryString(e collection.RequirementEntry) string {
	parts := []string{e.Src}
	if e.Src == "" {
		parts[0] = e.Name
	} else if e.Name != "" {
		parts = append(parts, "name="+e.Name)
	}
	if e.Version != "" {
		parts = append(parts, "version="+e.Version)
	}
	if e.Namespace != "" {
		parts = append(parts, "namespace="+e.Namespace)
	}
	if e.Scm != "" {
		parts = append(parts, "scm="+e.Scm)
	}
	return strings.Join(parts, ",")
}
