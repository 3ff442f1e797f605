// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/stowage-dev/stowage/pkg/collection"
)

const (
	// LayoutCollection archives carry MANIFEST.json and extract as-is.
	LayoutCollection Layout = iota
	// LayoutRole archives are traditional single roles whose members are
	// placed under roles/<name>/.
	LayoutRole
)

var (
	gzipMagic = []byte{0x1f, 0x8b}

	// roleDirs are the standard role subdirectories; a role archive whose
	// members share one of these as top-level directory has no wrapper
	// directory to strip.
	roleDirs = map[string]bool{
		"defaults": true, "files": true, "handlers": true, "library": true, "meta": true,
		"module_utils": true, "tasks": true, "templates": true, "tests": true, "vars": true,
	}
)

type (
	// Layout is the shape of an archive's contents.
	Layout int

	// Contents summarizes an archive without extracting it.
	Contents struct {
		// Manifest is nil for role archives.
		Manifest *collection.Manifest
		Members  []string
		Layout   Layout
		// Prefix is a top-level directory shared by every member (with a
		// trailing slash), stripped during extraction.
		Prefix string
	}

	// ExtractOptions controls Extract.
	ExtractOptions struct {
		// Dest is the collection directory content is extracted into.
		Dest string
		// RoleName places role archive members under roles/<RoleName>/.
		RoleName string
		// Force replaces existing files instead of failing.
		Force bool
	}

	// ExtractResult lists what Extract did.
	ExtractResult struct {
		Dest     string
		Layout   Layout
		Manifest *collection.Manifest
		// Files are the written paths relative to Dest, slash separated.
		Files []string
		// Skipped are members of unsupported types (devices, hard links).
		Skipped []string
	}
)

// String implements fmt.Stringer.
func (l Layout) String() string {
	if l == LayoutRole {
		return "role"
	}
	return "collection"
}

// Inspect reads the member list and manifest of the archive at path.
func Inspect(archivePath string) (c *Contents, err error) {
	tr, closeFn, err := openTar(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	c = &Contents{}
	manifests := map[string]*collection.Manifest{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ArchiveFormatError{Path: archivePath, Reason: "not a valid tar archive", Err: err}
		}
		name := memberName(hdr.Name)
		if name == "" {
			continue
		}
		c.Members = append(c.Members, name)
		if path.Base(name) == collection.ManifestFileName && strings.Count(name, "/") <= 1 {
			m, err := collection.ReadManifest(tr)
			if err != nil {
				return nil, &ArchiveFormatError{Path: archivePath, Member: name, Reason: "unreadable manifest", Err: err}
			}
			manifests[name] = m
		}
	}
	if len(c.Members) == 0 {
		return nil, &ArchiveFormatError{Path: archivePath, Reason: "archive is empty"}
	}

	c.Prefix = commonPrefix(c.Members)
	if m, ok := manifests[c.Prefix+collection.ManifestFileName]; ok {
		c.Manifest = m
		c.Layout = LayoutCollection
	} else {
		c.Layout = LayoutRole
	}
	return c, nil
}

// ReadArtifactManifest returns the manifest embedded in a collection
// artifact.
func ReadArtifactManifest(archivePath string) (*collection.Manifest, error) {
	c, err := Inspect(archivePath)
	if err != nil {
		return nil, err
	}
	if c.Manifest == nil {
		return nil, &ArchiveFormatError{Path: archivePath, Reason: "no " + collection.ManifestFileName + " found"}
	}
	return c.Manifest, nil
}

// Extract unpacks the archive at archivePath into opts.Dest. Collection
// archives extract as-is; role archives are remapped under
// roles/<RoleName>/. Extraction is not transactional: on error the files
// written so far stay in place.
func Extract(archivePath string, opts ExtractOptions) (*ExtractResult, error) {
	contents, err := Inspect(archivePath)
	if err != nil {
		return nil, err
	}
	base := ""
	if contents.Layout == LayoutRole {
		if opts.RoleName == "" {
			return nil, &ArchiveFormatError{Path: archivePath, Reason: "role archive extracted without a role name"}
		}
		base = "roles/" + opts.RoleName + "/"
	}

	dest, err := filepath.Abs(opts.Dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	res := &ExtractResult{Dest: dest, Layout: contents.Layout, Manifest: contents.Manifest}
	if err := extractMembers(archivePath, dest, contents.Prefix, base, opts.Force, res); err != nil {
		return res, err
	}

	if contents.Manifest != nil {
		for _, f := range contents.Manifest.Files {
			if f.FType != collection.FileTypeDir {
				continue
			}
			target, ok := safeJoin(dest, f.Name)
			if !ok {
				return res, &ArchiveFormatError{Path: archivePath, Member: f.Name, Reason: "path escapes the destination"}
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return res, fmt.Errorf("create %s: %w", target, err)
			}
		}
	}
	return res, nil
}

func extractMembers(archivePath, dest, prefix, base string, force bool, res *ExtractResult) (err error) {
	tr, closeFn, err := openTar(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ArchiveFormatError{Path: archivePath, Reason: "not a valid tar archive", Err: err}
		}

		name := memberName(hdr.Name)
		if name == "" || name+"/" == prefix {
			continue
		}
		name = strings.TrimPrefix(name, prefix)
		rel := base + name
		target, ok := safeJoin(dest, rel)
		if !ok {
			return &ArchiveFormatError{Path: archivePath, Member: hdr.Name, Reason: "path escapes the destination"}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := prepareTarget(target, force); err != nil {
				return err
			}
			if err := writeMember(tr, target, hdr); err != nil {
				return err
			}
			res.Files = append(res.Files, rel)
		case tar.TypeSymlink:
			if !symlinkStaysInside(dest, target, hdr.Linkname) {
				return &ArchiveFormatError{Path: archivePath, Member: hdr.Name, Reason: "symlink target escapes the destination"}
			}
			if err := prepareTarget(target, force); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", target, err)
			}
			res.Files = append(res.Files, rel)
		default:
			res.Skipped = append(res.Skipped, rel)
		}
	}
}

// prepareTarget makes room for a new file at target. Existing content is an
// error unless force is set, in which case it is removed.
func prepareTarget(target string, force bool) error {
	if _, err := os.Lstat(target); err == nil {
		if !force {
			return contentExists(target)
		}
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("remove %s: %w", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return nil
}

func writeMember(r io.Reader, target string, hdr *tar.Header) (err error) {
	mode := hdr.FileInfo().Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if _, err := io.CopyN(f, r, hdr.Size); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// openTar opens path as a tar stream, decompressing gzip when the leading
// magic bytes say so. The file name is not consulted.
func openTar(archivePath string) (*tar.Reader, func() error, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(gzipMagic)) //nolint:errcheck // short files are handled by the tar reader

	if bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, nil, &ArchiveFormatError{Path: archivePath, Reason: "not a valid gzip stream", Err: err}
		}
		return tar.NewReader(gz), func() error {
			gzErr := gz.Close()
			if err := f.Close(); err != nil {
				return err
			}
			return gzErr
		}, nil
	}
	return tar.NewReader(br), f.Close, nil
}

// memberName cleans a tar member name to a relative slash path. Directory
// members lose their trailing slash; "./" prefixes are dropped.
func memberName(name string) string {
	name = strings.TrimPrefix(name, "./")
	if name == "" || name == "." {
		return ""
	}
	if strings.HasPrefix(name, "/") {
		return name
	}
	return strings.TrimSuffix(path.Clean(name), "/")
}

// commonPrefix returns "<dir>/" when every member lives under the same
// top-level directory, or "" otherwise.
func commonPrefix(members []string) string {
	top, _, _ := strings.Cut(members[0], "/")
	nested := false
	for _, m := range members {
		first, rest, hasSlash := strings.Cut(m, "/")
		if first != top {
			return ""
		}
		if hasSlash && rest != "" {
			nested = true
		}
	}
	if !nested || roleDirs[top] {
		return ""
	}
	return top + "/"
}

// safeJoin joins a slash-separated relative member name to dest and reports
// whether the result stays inside dest.
func safeJoin(dest, rel string) (string, bool) {
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", false
	}
	target := filepath.Join(dest, filepath.FromSlash(rel))
	r, err := filepath.Rel(dest, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func symlinkStaysInside(dest, target, linkname string) bool {
	if linkname == "" || filepath.IsAbs(linkname) {
		return false
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	r, err := filepath.Rel(dest, resolved)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}
