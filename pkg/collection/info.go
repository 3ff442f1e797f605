// SPDX-License-Identifier: MPL-2.0

package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFormat is the only manifest format version written and read.
	ManifestFormat = 1

	// ChecksumTypeSHA256 is the checksum algorithm recorded for file entries.
	ChecksumTypeSHA256 = "sha256"

	// FileTypeFile marks a regular file entry.
	FileTypeFile FileType = "file"
	// FileTypeDir marks a directory entry.
	FileTypeDir FileType = "dir"
)

// ErrInvalidCollectionInfo is the sentinel for InvalidCollectionInfoError.
var ErrInvalidCollectionInfo = errors.New("invalid collection metadata")

var (
	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)
	tagPattern        = regexp.MustCompile(`^[a-z0-9]+$`)
)

type (
	// FileType is the kind of a manifest entry.
	FileType string

	// CollectionInfo is the collection metadata carried by galaxy.yml and
	// by the collection_info object of MANIFEST.json.
	CollectionInfo struct {
		Namespace     string            `json:"namespace" yaml:"namespace"`
		Name          string            `json:"name" yaml:"name"`
		Version       string            `json:"version" yaml:"version"`
		License       string            `json:"license" yaml:"license"`
		Description   string            `json:"description" yaml:"description"`
		Authors       []string          `json:"authors" yaml:"authors"`
		Tags          []string          `json:"tags" yaml:"tags"`
		Dependencies  map[string]string `json:"dependencies" yaml:"dependencies"`
		Readme        string            `json:"readme" yaml:"readme"`
		Repository    string            `json:"repository" yaml:"repository"`
		Documentation string            `json:"documentation" yaml:"documentation"`
		Homepage      string            `json:"homepage" yaml:"homepage"`
		Issues        string            `json:"issues" yaml:"issues"`
	}

	// FileEntry is one member listed in a manifest.
	FileEntry struct {
		Name           string   `json:"name"`
		FType          FileType `json:"ftype"`
		ChecksumType   *string  `json:"chksum_type"`
		ChecksumSHA256 *string  `json:"chksum_sha256"`
	}

	// Manifest is the MANIFEST.json document at the root of an artifact.
	Manifest struct {
		CollectionInfo CollectionInfo `json:"collection_info"`
		Files          []FileEntry    `json:"files"`
		Format         int            `json:"format"`
	}

	// InvalidCollectionInfoError lists every problem found in a metadata
	// file.
	InvalidCollectionInfoError struct {
		Path     string
		Problems []string
	}
)

// Error implements error.
func (e *InvalidCollectionInfoError) Error() string {
	where := e.Path
	if where == "" {
		where = "collection metadata"
	}
	return fmt.Sprintf("%s is invalid: %s", where, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidCollectionInfo so callers can use errors.Is.
func (e *InvalidCollectionInfoError) Unwrap() error { return ErrInvalidCollectionInfo }

// IsIdentifier reports whether s is a valid namespace or name: lowercase
// letters, digits and single underscores, not starting with an underscore.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s) && !strings.Contains(s, "__")
}

// Label returns "namespace.name".
func (c *CollectionInfo) Label() string {
	return label(c.Namespace, c.Name)
}

// RepositorySpec returns the identity the metadata describes.
func (c *CollectionInfo) RepositorySpec() RepositorySpec {
	return RepositorySpec{Namespace: c.Namespace, Name: c.Name, Version: c.Version}
}

// Validate checks the metadata. Problems that make the metadata unusable are
// returned as an InvalidCollectionInfoError; license problems are returned as
// warnings only.
func (c *CollectionInfo) Validate() (warnings []string, err error) {
	var problems []string

	for _, f := range [...]struct{ field, value string }{{"namespace", c.Namespace}, {"name", c.Name}} {
		field, value := f.field, f.value
		switch {
		case value == "":
			problems = append(problems, field+" is required")
		case !IsIdentifier(value):
			problems = append(problems, fmt.Sprintf("%s %q must contain only lowercase letters, digits and single underscores", field, value))
		}
	}

	if c.Version == "" {
		problems = append(problems, "version is required")
	} else if _, verr := semver.StrictNewVersion(c.Version); verr != nil {
		problems = append(problems, fmt.Sprintf("version %q is not a semantic version", c.Version))
	}

	for _, tag := range c.Tags {
		if !tagPattern.MatchString(tag) {
			problems = append(problems, fmt.Sprintf("tag %q must contain only lowercase letters and digits", tag))
		}
	}

	if w := CheckLicense(c.License); w != "" {
		warnings = append(warnings, w)
	}

	if len(problems) > 0 {
		return warnings, &InvalidCollectionInfoError{Problems: problems}
	}
	return warnings, nil
}

// LoadCollectionInfo reads and validates a galaxy.yml file.
func LoadCollectionInfo(path string) (*CollectionInfo, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := ParseCollectionInfo(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	warnings, err := info.Validate()
	if err != nil {
		var invalid *InvalidCollectionInfoError
		if errors.As(err, &invalid) {
			invalid.Path = path
		}
		return nil, warnings, err
	}
	return info, warnings, nil
}

// ParseCollectionInfo decodes galaxy.yml content without validating it.
func ParseCollectionInfo(data []byte) (*CollectionInfo, error) {
	var info CollectionInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// NewFileEntry builds a file entry with its sha256 digest.
func NewFileEntry(name, sha256Hex string) FileEntry {
	typ, sum := ChecksumTypeSHA256, sha256Hex
	return FileEntry{Name: name, FType: FileTypeFile, ChecksumType: &typ, ChecksumSHA256: &sum}
}

// NewDirEntry builds a directory entry; directories carry no checksum.
func NewDirEntry(name string) FileEntry {
	return FileEntry{Name: name, FType: FileTypeDir}
}

// SHA256 returns the recorded digest, or "" for directories.
func (f FileEntry) SHA256() string {
	if f.ChecksumSHA256 == nil {
		return ""
	}
	return *f.ChecksumSHA256
}

// NewManifest builds a manifest for info and files.
func NewManifest(info CollectionInfo, files []FileEntry) *Manifest {
	return &Manifest{CollectionInfo: info, Files: files, Format: ManifestFormat}
}

// ReadManifest decodes a MANIFEST.json document.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ManifestFileName, err)
	}
	if m.Format != ManifestFormat {
		return nil, fmt.Errorf("unsupported %s format %d", ManifestFileName, m.Format)
	}
	return &m, nil
}

// ReadManifestFile reads MANIFEST.json from path.
func ReadManifestFile(path string) (m *Manifest, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return ReadManifest(f)
}

// Encode renders the manifest as indented JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ManifestFileName, err)
	}
	return append(data, '\n'), nil
}
