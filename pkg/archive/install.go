// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"fmt"
	"time"

	"github.com/stowage-dev/stowage/pkg/collection"
)

type (
	// InstallOptions controls Install.
	InstallOptions struct {
		CollectionsRoot string
		// Spec names the repository being installed. Empty namespace, name or
		// version fields are filled from the artifact's manifest.
		Spec  collection.RepositorySpec
		Force bool
		// Now stamps the install record; time.Now when nil.
		Now func() time.Time
	}

	// InstallResult describes an installed artifact.
	InstallResult struct {
		Spec        collection.RepositorySpec
		Path        string
		InstallInfo collection.InstallInfo
		Extract     *ExtractResult
	}
)

// Install extracts an artifact into
// <root>/ansible_collections/<namespace>/<name> and writes the install
// record.
func Install(artifactPath string, opts InstallOptions) (*InstallResult, error) {
	contents, err := Inspect(artifactPath)
	if err != nil {
		return nil, err
	}

	spec := opts.Spec
	if m := contents.Manifest; m != nil {
		if spec.Namespace == "" {
			spec.Namespace = m.CollectionInfo.Namespace
		}
		if spec.Name == "" {
			spec.Name = m.CollectionInfo.Name
		}
		if spec.Version == "" {
			spec.Version = m.CollectionInfo.Version
		}
	}
	if spec.Namespace == "" || spec.Name == "" {
		return nil, &ArchiveFormatError{Path: artifactPath, Reason: "cannot determine the namespace and name to install as"}
	}

	dest := collection.CollectionPath(opts.CollectionsRoot, spec.Namespace, spec.Name)
	extracted, err := Extract(artifactPath, ExtractOptions{Dest: dest, RoleName: spec.Name, Force: opts.Force})
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	info := collection.NewInstallInfo(spec.Version, now())
	if err := collection.WriteInstallInfo(dest, info); err != nil {
		return nil, fmt.Errorf("record install of %s: %w", spec.Label(), err)
	}

	return &InstallResult{Spec: spec, Path: dest, InstallInfo: info, Extract: extracted}, nil
}
