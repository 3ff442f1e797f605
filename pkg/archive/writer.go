// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/stowage-dev/stowage/pkg/collection"
)

// ArtifactFileName returns the file name of the artifact for version.
func ArtifactFileName(version string) string {
	return "v" + version + ".tar.gz"
}

// WriteArtifact writes a gzip-compressed tar at dest holding MANIFEST.json
// followed by every file entry of m, read from srcRoot. Directory entries
// are recorded in the manifest only. A partially written dest is removed on
// failure.
func WriteArtifact(dest, srcRoot string, m *collection.Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return writeTarGz(dest, func(tw *tar.Writer) error {
		hdr := &tar.Header{
			Name:     collection.ManifestFileName,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.Now(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
		for _, f := range m.Files {
			if f.FType != collection.FileTypeFile {
				continue
			}
			if err := addFile(tw, filepath.Join(srcRoot, filepath.FromSlash(f.Name)), f.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTree writes a gzip-compressed tar at dest holding entries read from
// srcRoot, each member name prefixed with prefix (which should end in "/"
// when set). Directory entries become tar directory members.
func WriteTree(dest, srcRoot, prefix string, entries []collection.FileEntry) error {
	return writeTarGz(dest, func(tw *tar.Writer) error {
		for _, e := range entries {
			src := filepath.Join(srcRoot, filepath.FromSlash(e.Name))
			if e.FType == collection.FileTypeDir {
				info, err := os.Stat(src)
				if err != nil {
					return err
				}
				hdr, err := tar.FileInfoHeader(info, "")
				if err != nil {
					return err
				}
				hdr.Name = prefix + e.Name + "/"
				if err := tw.WriteHeader(hdr); err != nil {
					return err
				}
				continue
			}
			if err := addFile(tw, src, prefix+e.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTarGz(dest string, body func(tw *tar.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dest) // best-effort removal of the partial artifact
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	if err := body(tw); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Uname, hdr.Gname = "", ""
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
