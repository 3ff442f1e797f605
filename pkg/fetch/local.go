// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/reqspec"
)

// localFileStrategy installs an artifact that is already on disk. The file
// is only ever read.
type localFileStrategy struct {
	stager
	spec collection.RequirementSpec
}

func (l *localFileStrategy) Method() collection.FetchMethod { return collection.FetchMethodLocalFile }

func (l *localFileStrategy) Find(context.Context) (*FindResult, error) {
	fi, err := os.Stat(l.spec.Src)
	if err != nil {
		return nil, &FetchError{Spec: l.spec.String(), URL: l.spec.Src, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &FetchError{Spec: l.spec.String(), URL: l.spec.Src, Err: fmt.Errorf("not a regular file")}
	}

	contents, err := archive.Inspect(l.spec.Src)
	if err != nil {
		return nil, err
	}
	spec := identityFromManifest(specFor(l.spec), contents.Manifest)
	if err := checkVersion(l.spec, spec.Version); err != nil {
		return nil, err
	}
	return &FindResult{
		Spec:           spec,
		Locator:        l.spec.Src,
		ExpectedSHA256: l.spec.Hints.ExpectedSHA256,
	}, nil
}

func (l *localFileStrategy) Fetch(_ context.Context, found *FindResult) (*FetchResult, error) {
	if found.ExpectedSHA256 != "" {
		if err := archive.VerifySHA256(found.Locator, found.ExpectedSHA256); err != nil {
			return nil, err
		}
	}
	return &FetchResult{Spec: found.Spec, ArtifactPath: found.Locator}, nil
}

// editableStrategy links a source directory into the collections tree so
// edits show up without reinstalling.
type editableStrategy struct {
	stager
	spec  collection.RequirementSpec
	root  string
	force bool
}

func (e *editableStrategy) Method() collection.FetchMethod { return collection.FetchMethodEditable }

func (e *editableStrategy) Find(context.Context) (*FindResult, error) {
	fi, err := os.Stat(e.spec.Src)
	if err != nil {
		return nil, &FetchError{Spec: e.spec.String(), URL: e.spec.Src, Err: err}
	}
	if !fi.IsDir() {
		return nil, &FetchError{Spec: e.spec.String(), URL: e.spec.Src, Err: fmt.Errorf("not a directory")}
	}

	spec := specFor(e.spec)
	galaxyPath := filepath.Join(e.spec.Src, collection.GalaxyFileName)
	info, warnings, err := collection.LoadCollectionInfo(galaxyPath)
	switch {
	case err == nil:
		spec.Namespace, spec.Name, spec.Version = info.Namespace, info.Name, info.Version
		for _, w := range warnings {
			e.logger.Warn(w, "path", galaxyPath)
		}
	case errors.Is(err, fs.ErrNotExist):
		e.logger.Debug("editable source has no galaxy.yml", "path", e.spec.Src)
	default:
		return nil, &FetchError{Spec: e.spec.String(), URL: e.spec.Src, Err: err}
	}
	if err := checkVersion(e.spec, spec.Version); err != nil {
		return nil, err
	}
	return &FindResult{Spec: spec, Locator: e.spec.Src}, nil
}

func (e *editableStrategy) Fetch(_ context.Context, found *FindResult) (*FetchResult, error) {
	if found.Spec.Namespace == "" {
		return nil, &reqspec.NamespaceRequiredError{Spec: e.spec.Src}
	}
	link := collection.CollectionPath(e.root, found.Spec.Namespace, found.Spec.Name)
	src, err := filepath.Abs(found.Locator)
	if err != nil {
		return nil, &FetchError{Spec: found.Spec.String(), URL: found.Locator, Err: err}
	}

	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&fs.ModeSymlink != 0 && sameDir(link, src) {
			e.logger.Debug("reusing editable link", "path", link, "target", src)
			return &FetchResult{Spec: found.Spec, Linked: true, Path: link}, nil
		}
		if !e.force {
			return nil, &FetchError{Spec: found.Spec.String(), URL: found.Locator,
				Err: fmt.Errorf("%s: %w", link, archive.ErrContentExists)}
		}
		if err := os.RemoveAll(link); err != nil {
			return nil, &FetchError{Spec: found.Spec.String(), URL: found.Locator, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return nil, &FetchError{Spec: found.Spec.String(), URL: found.Locator, Err: err}
	}
	if err := os.Symlink(src, link); err != nil {
		return nil, &FetchError{Spec: found.Spec.String(), URL: found.Locator, Err: err}
	}
	return &FetchResult{Spec: found.Spec, Linked: true, Path: link}, nil
}

func sameDir(link, target string) bool {
	a, err := filepath.EvalSymlinks(link)
	if err != nil {
		return false
	}
	b, err := filepath.EvalSymlinks(target)
	return err == nil && a == b
}
