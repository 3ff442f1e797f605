// SPDX-License-Identifier: MPL-2.0

package install

import (
	"fmt"
	"os"

	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/reqspec"
)

// FromSpecs parses spec strings given on the command line into top-level
// requirements. editable turns existing directories into editable installs.
func FromSpecs(specs []string, editable bool) ([]collection.Requirement, error) {
	reqs := make([]collection.Requirement, 0, len(specs))
	for _, s := range specs {
		spec, err := reqspec.ParseRequirement(s, editable)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, topLevel(spec))
	}
	return reqs, nil
}

// FromRequirementsFile reads a requirements file into top-level
// requirements. Unlike the requirements.yml inside installed content, the
// file must exist.
func FromRequirementsFile(path string) ([]collection.Requirement, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("requirements file: %w", err)
	}
	entries, err := collection.ReadRequirementsFile(path)
	if err != nil {
		return nil, err
	}
	return fromEntries(entries)
}

// FromLockfile reads a "label: version" lockfile into top-level
// requirements pinned to exact versions.
func FromLockfile(path string) ([]collection.Requirement, error) {
	entries, err := collection.ReadLockfile(path)
	if err != nil {
		return nil, err
	}
	return fromEntries(entries)
}

func fromEntries(entries []collection.RequirementEntry) ([]collection.Requirement, error) {
	reqs := make([]collection.Requirement, 0, len(entries))
	for _, e := range entries {
		spec, err := reqspec.FromEntry(e)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, topLevel(spec))
	}
	return reqs, nil
}

func topLevel(spec collection.RequirementSpec) collection.Requirement {
	return collection.Requirement{RequirementSpec: spec, Op: collection.OpEqual, Scope: collection.ScopeInstall}
}
