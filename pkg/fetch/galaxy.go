// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/versions"
)

// galaxyStrategy resolves content through the registry API.
type galaxyStrategy struct {
	stager
	spec     collection.RequirementSpec
	registry Registry
}

func (g *galaxyStrategy) Method() collection.FetchMethod { return collection.FetchMethodGalaxyURL }

func (g *galaxyStrategy) Find(ctx context.Context) (*FindResult, error) {
	label := g.spec.Label()
	if _, err := g.registry.GetCollection(ctx, g.spec.Namespace, g.spec.Name); err != nil {
		return nil, fmt.Errorf("look up %s: %w", label, err)
	}

	available, err := g.registry.Versions(ctx, g.spec.Namespace, g.spec.Name)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", label, err)
	}
	sel, err := versions.Select(label, available, g.spec.Range())
	if err != nil {
		return nil, err
	}
	if len(sel.Invalid) > 0 {
		g.logger.Warn("registry advertises invalid versions", "collection", label, "versions", sel.Invalid)
	}

	detail, err := g.registry.GetVersion(ctx, g.spec.Namespace, g.spec.Name, sel.Version)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", label, sel.Version, err)
	}
	if detail.DownloadURL == "" {
		return nil, &FetchError{Spec: label, Err: fmt.Errorf("registry has no download URL for %s", sel.Version)}
	}

	spec := specFor(g.spec)
	spec.Version = sel.Normalized
	spec.Src = detail.DownloadURL

	expected := detail.SHA256
	if expected == "" {
		expected = g.spec.Hints.ExpectedSHA256
	}
	g.logger.Debug("found on registry", "collection", label, "version", sel.Version, "url", detail.DownloadURL)
	return &FindResult{
		Spec:           spec,
		Locator:        detail.DownloadURL,
		ExpectedSHA256: expected,
	}, nil
}

func (g *galaxyStrategy) Fetch(ctx context.Context, found *FindResult) (*FetchResult, error) {
	path, err := download(ctx, &g.stager, g.registry, found.Spec.String(), found.Locator,
		found.Spec.Namespace+"-"+found.Spec.Name+"-"+found.Spec.Version+".tar.gz")
	if err != nil {
		return nil, err
	}
	if found.ExpectedSHA256 != "" {
		if err := archive.VerifySHA256(path, found.ExpectedSHA256); err != nil {
			return nil, err
		}
	}
	return &FetchResult{Spec: found.Spec, ArtifactPath: path}, nil
}

// download streams url into a new staging directory under fileName.
func download(ctx context.Context, s *stager, client Registry, spec, url, fileName string) (path string, err error) {
	dir, err := s.mkTemp()
	if err != nil {
		return "", &FetchError{Spec: spec, URL: url, Err: err}
	}
	path = filepath.Join(dir, filepath.Base(fileName))
	f, err := os.Create(path)
	if err != nil {
		return "", &FetchError{Spec: spec, URL: url, Err: err}
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = &FetchError{Spec: spec, URL: url, Err: closeErr}
		}
	}()

	n, err := client.Download(ctx, url, f)
	if err != nil {
		return "", &FetchError{Spec: spec, URL: url, Err: err}
	}
	s.logger.Debug("downloaded artifact", "spec", spec, "path", path, "bytes", n)
	return path, nil
}

func exactVersion(req collection.RequirementSpec) (string, bool) {
	return versions.IsExact(req.VersionSpec)
}

// checkVersion fails when a version discovered only after fetching falls
// outside the requested range.
func checkVersion(req collection.RequirementSpec, version string) error {
	if req.IsAnyVersion() || version == "" || req.Allows(version) {
		return nil
	}
	return &versions.VersionResolutionError{
		Label:     req.Label(),
		Requested: req.Range(),
		Available: []string{version},
		Reason:    "the fetched content does not match the requested version",
	}
}
