// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"net/url"
	"path"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
)

// remoteURLStrategy downloads an artifact from a plain URL. The identity is
// whatever the spec names until the artifact's manifest says otherwise.
type remoteURLStrategy struct {
	stager
	spec   collection.RequirementSpec
	client Registry
}

func (r *remoteURLStrategy) Method() collection.FetchMethod { return collection.FetchMethodRemoteURL }

func (r *remoteURLStrategy) Find(context.Context) (*FindResult, error) {
	return &FindResult{
		Spec:            specFor(r.spec),
		Locator:         r.spec.Src,
		ExpectedSHA256:  r.spec.Hints.ExpectedSHA256,
		IdentityPending: true,
	}, nil
}

func (r *remoteURLStrategy) Fetch(ctx context.Context, found *FindResult) (*FetchResult, error) {
	p, err := download(ctx, &r.stager, r.client, r.spec.String(), found.Locator, artifactName(found.Locator))
	if err != nil {
		return nil, err
	}
	if found.ExpectedSHA256 != "" {
		if err := archive.VerifySHA256(p, found.ExpectedSHA256); err != nil {
			return nil, err
		}
	}

	contents, err := archive.Inspect(p)
	if err != nil {
		return nil, err
	}
	spec := identityFromManifest(found.Spec, contents.Manifest)
	if err := checkVersion(r.spec, spec.Version); err != nil {
		return nil, err
	}
	return &FetchResult{Spec: spec, ArtifactPath: p}, nil
}

// artifactName picks a local file name for a download: the URL's last path
// segment, or a fixed name when there is none.
func artifactName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "artifact.tar.gz"
}
