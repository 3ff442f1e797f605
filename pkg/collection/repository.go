// SPDX-License-Identifier: MPL-2.0

package collection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// NamespaceContainerDir is the directory under the collections root that
	// holds one directory per namespace.
	NamespaceContainerDir = "ansible_collections"

	// ManifestFileName is the artifact manifest written at the archive root.
	ManifestFileName = "MANIFEST.json"
	// GalaxyFileName is the collection metadata file in a source tree.
	GalaxyFileName = "galaxy.yml"
	// RequirementsFileName lists additional requirements of a collection.
	RequirementsFileName = "requirements.yml"
	// RoleMetaPath is the role metadata file, relative to a role directory.
	RoleMetaPath = "meta/main.yml"
	// InstallInfoPath is the install record, relative to an installed
	// collection.
	InstallInfoPath = "meta/.galaxy_install_info"
)

type (
	// Repository is installed content as found on disk.
	Repository struct {
		Spec RepositorySpec
		// Path is always CollectionPath(root, Spec.Namespace, Spec.Name).
		Path     string
		Editable bool
		// Info is nil when the directory carries no metadata file.
		Info *CollectionInfo
		// InstallInfo is nil for content that was not installed by stowage
		// (for example editable links).
		InstallInfo *InstallInfo
		// Dependencies maps labels to ranges as declared in the metadata.
		Dependencies map[string]string
		Requirements []Requirement
	}

	// InstallInfo is the install record written after extraction.
	InstallInfo struct {
		Version string `yaml:"version"`
		// InstallDate uses the C locale date format, e.g.
		// "Mon Jan  2 15:04:05 2006".
		InstallDate    string `yaml:"install_date"`
		InstallDateISO string `yaml:"install_date_iso"`
	}
)

// Label returns "namespace.name".
func (r *Repository) Label() string {
	return r.Spec.Label()
}

// NewInstallInfo builds an install record for version at now.
func NewInstallInfo(version string, now time.Time) InstallInfo {
	return InstallInfo{
		Version:        version,
		InstallDate:    now.Format(time.ANSIC),
		InstallDateISO: now.Format(time.RFC3339),
	}
}

// InstalledAt parses InstallDateISO.
func (i InstallInfo) InstalledAt() (time.Time, error) {
	return time.Parse(time.RFC3339, i.InstallDateISO)
}

// ReadInstallInfo reads the install record of the collection at dir.
// A missing record yields (nil, nil).
func ReadInstallInfo(dir string) (*InstallInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, InstallInfoPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read install record: %w", err)
	}
	var info InstallInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse install record %s: %w", filepath.Join(dir, InstallInfoPath), err)
	}
	return &info, nil
}

// WriteInstallInfo writes the install record of the collection at dir,
// creating the meta directory as needed.
func WriteInstallInfo(dir string, info InstallInfo) error {
	path := filepath.Join(dir, InstallInfoPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create meta directory: %w", err)
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode install record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write install record: %w", err)
	}
	return nil
}
