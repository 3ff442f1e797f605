// SPDX-License-Identifier: MPL-2.0

package collection

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

type (
	// RequirementEntry is one requirement as written in a requirements
	// file, a role's meta/main.yml or a lockfile. Entries are either a plain
	// spec string (stored in Spec) or a mapping of the individual fields.
	RequirementEntry struct {
		Spec      string
		Name      string
		Namespace string
		Version   string
		Src       string
		Scm       string
		SHA256    string
	}

	// requirementEntryFields mirrors the mapping form of RequirementEntry.
	requirementEntryFields struct {
		Name      string `yaml:"name"`
		Role      string `yaml:"role"`
		Namespace string `yaml:"namespace"`
		Version   string `yaml:"version"`
		Src       string `yaml:"src"`
		Scm       string `yaml:"scm"`
		SHA256    string `yaml:"sha256"`
	}

	// RoleMeta is the part of a role's meta/main.yml stowage reads.
	RoleMeta struct {
		Dependencies []RequirementEntry `yaml:"dependencies"`
	}
)

// UnmarshalYAML accepts either a scalar spec string or a mapping.
func (e *RequirementEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Spec = node.Value
		return nil
	}
	var f requirementEntryFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	name := f.Name
	if name == "" {
		name = f.Role
	}
	*e = RequirementEntry{
		Name:      name,
		Namespace: f.Namespace,
		Version:   f.Version,
		Src:       f.Src,
		Scm:       f.Scm,
		SHA256:    f.SHA256,
	}
	return nil
}

// MarshalYAML writes spec-string entries as scalars and the rest as
// mappings.
func (e RequirementEntry) MarshalYAML() (any, error) {
	if e.Spec != "" {
		return e.Spec, nil
	}
	return requirementEntryFields{
		Name:      e.Name,
		Namespace: e.Namespace,
		Version:   e.Version,
		Src:       e.Src,
		Scm:       e.Scm,
		SHA256:    e.SHA256,
	}, nil
}

// ParseRequirements decodes a requirements document. Both a bare list and a
// mapping with a "collections" list are accepted.
func ParseRequirements(data []byte) ([]RequirementEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped struct {
			Collections []RequirementEntry `yaml:"collections"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Collections, nil
	}
	var entries []RequirementEntry
	if err := root.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadRequirementsFile reads a requirements file. A missing file yields no
// entries and no error.
func ReadRequirementsFile(path string) ([]RequirementEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	entries, err := ParseRequirements(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// ReadRoleMeta reads meta/main.yml below dir. A missing file yields
// (nil, nil).
func ReadRoleMeta(dir string) (*RoleMeta, error) {
	path := filepath.Join(dir, RoleMetaPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var meta RoleMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &meta, nil
}

// ReadLockfile reads a "label: version" mapping and returns one entry per
// label, sorted by label.
func ReadLockfile(path string) ([]RequirementEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	var pins map[string]string
	if err := yaml.Unmarshal(data, &pins); err != nil {
		return nil, fmt.Errorf("parse lockfile %s: %w", path, err)
	}
	labels := make([]string, 0, len(pins))
	for l := range pins {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	entries := make([]RequirementEntry, 0, len(labels))
	for _, l := range labels {
		entries = append(entries, RequirementEntry{Name: l, Version: pins[l]})
	}
	return entries, nil
}

// WriteLockfile writes a "label: version" mapping for repos.
func WriteLockfile(w io.Writer, repos []*Repository) error {
	pins := make(map[string]string, len(repos))
	for _, r := range repos {
		pins[r.Label()] = r.Spec.Version
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(pins); err != nil {
		return fmt.Errorf("encode lockfile: %w", err)
	}
	return enc.Close()
}
