// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/stowage-dev/stowage/internal/testutil"
	"github.com/stowage-dev/stowage/pkg/collection"
)

var fixedNow = func() time.Time { return time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC) }

type member struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

// writeTar writes members as a tar archive, gzip-compressed when gz is set.
func writeTar(t *testing.T, path string, gz bool, members []member) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		typ := m.typeflag
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Typeflag: typ, Linkname: m.linkname}
		if typ == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		if typ == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if typ == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	if gz {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		data = zbuf.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func buildArtifact(t *testing.T, src string, info collection.CollectionInfo) string {
	t.Helper()
	entries, err := ScanTree(src, WalkOptions{})
	if err != nil {
		t.Fatalf("ScanTree() error = %v", err)
	}
	out := filepath.Join(t.TempDir(), ArtifactFileName(info.Version))
	if err := WriteArtifact(out, src, collection.NewManifest(info, entries)); err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}
	return out
}

func TestScanTreeIgnoresDirsAndPatterns(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{
		"galaxy.yml":                "namespace: a\n",
		"README.md":                 "readme",
		"plugins/modules/m.py":      "print()",
		"plugins/modules/m.pyc":     "bytecode",
		".git/HEAD":                 "ref",
		"roles/web/tasks/main.yml":  "---",
		"roles/web/.DS_Store":       "junk",
		"releases/a-b-1.0.0.tar.gz": "old",
		"MANIFEST.json":             "{}",
	})

	entries, err := ScanTree(src, WalkOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{
		"README.md",
		"galaxy.yml",
		"plugins",
		"plugins/modules",
		"plugins/modules/m.py",
		"roles",
		"roles/web",
		"roles/web/tasks",
		"roles/web/tasks/main.yml",
	}
	if !slices.Equal(names, want) {
		t.Errorf("ScanTree() names = %v, want %v", names, want)
	}
	for _, e := range entries {
		if e.FType == collection.FileTypeDir && e.SHA256() != "" {
			t.Errorf("dir entry %s has a checksum", e.Name)
		}
		if e.FType == collection.FileTypeFile && len(e.SHA256()) != 64 {
			t.Errorf("file entry %s checksum = %q", e.Name, e.SHA256())
		}
	}
}

func TestScanTreeCustomExcludes(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{
		"docs/index.md": "x",
		"tests/unit.py": "x",
		"keep.txt":      "x",
	})
	entries, err := ScanTree(src, WalkOptions{ExcludePatterns: []string{"tests", "*.md"}})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if !slices.Equal(names, []string{"docs", "keep.txt"}) {
		t.Errorf("names = %v", names)
	}
}

func TestScanTreeReportsSymlinkedDirectories(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	outside := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{"keep.txt": "x"})
	testutil.WriteFiles(t, outside, map[string]string{"shared.yml": "x"})
	if err := os.Symlink(outside, filepath.Join(src, "shared")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	var logs bytes.Buffer
	entries, err := ScanTree(src, WalkOptions{Logger: log.New(&logs)})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "keep.txt" {
		t.Errorf("entries = %+v", entries)
	}
	if !strings.Contains(logs.String(), "skipping symlinked directory") || !strings.Contains(logs.String(), "shared") {
		t.Errorf("log = %q", logs.String())
	}
}

func TestBuildExtractRoundTrip(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	files := map[string]string{
		"galaxy.yml":               "namespace: acme\nname: tools\nversion: 1.0.0\n",
		"README.md":                "# tools",
		"plugins/modules/thing.py": "def main(): pass\n",
		"roles/web/tasks/main.yml": "- debug: msg=hi\n",
		"__pycache__/thing.pyc":    "ignored",
	}
	testutil.WriteFiles(t, src, files)
	if err := os.MkdirAll(filepath.Join(src, "docs", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	info := collection.CollectionInfo{Namespace: "acme", Name: "tools", Version: "1.0.0"}
	artifact := buildArtifact(t, src, info)

	root := t.TempDir()
	res, err := Install(artifact, InstallOptions{CollectionsRoot: root, Now: fixedNow})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if res.Spec.Label() != "acme.tools" || res.Spec.Version != "1.0.0" {
		t.Errorf("Spec = %+v", res.Spec)
	}
	dest := collection.CollectionPath(root, "acme", "tools")
	if res.Path != dest {
		t.Errorf("Path = %q, want %q", res.Path, dest)
	}

	for name, content := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		if strings.HasPrefix(name, "__pycache__") {
			if err == nil {
				t.Errorf("%s was extracted", name)
			}
			continue
		}
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
	if fi, err := os.Stat(filepath.Join(dest, "docs", "empty")); err != nil || !fi.IsDir() {
		t.Errorf("empty directory not recreated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, collection.ManifestFileName)); err != nil {
		t.Errorf("manifest not extracted: %v", err)
	}

	record, err := collection.ReadInstallInfo(dest)
	if err != nil || record == nil {
		t.Fatalf("ReadInstallInfo() = %v, %v", record, err)
	}
	if record.Version != "1.0.0" || record.InstallDateISO != "2024-01-02T03:04:05Z" {
		t.Errorf("record = %+v", record)
	}
}

func TestExtractForceOverwrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifact := filepath.Join(dir, "a.tar.gz")
	writeTar(t, artifact, true, []member{
		{name: collection.ManifestFileName, body: `{"collection_info":{"namespace":"a","name":"b","version":"1.0.0"},"files":[],"format":1}`},
		{name: "plugins/x.py", body: "new"},
	})

	dest := filepath.Join(dir, "dest")
	testutil.WriteFiles(t, dest, map[string]string{"plugins/x.py": "old"})

	_, err := Extract(artifact, ExtractOptions{Dest: dest})
	if !errors.Is(err, ErrArchiveFormat) || !errors.Is(err, ErrContentExists) {
		t.Fatalf("Extract() without force error = %v", err)
	}
	var afe *ArchiveFormatError
	if !errors.As(err, &afe) || !strings.HasSuffix(afe.Path, filepath.Join("plugins", "x.py")) {
		t.Errorf("error path = %+v", afe)
	}

	if _, err := Extract(artifact, ExtractOptions{Dest: dest, Force: true}); err != nil {
		t.Fatalf("Extract() with force error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "plugins", "x.py"))
	if err != nil || string(got) != "new" {
		t.Errorf("plugins/x.py = %q, %v", got, err)
	}
}

func TestExtractRoleArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifact := filepath.Join(dir, "role.tar.gz")
	writeTar(t, artifact, true, []member{
		{name: "ansible-role-apache-2.1.1/", typeflag: tar.TypeDir},
		{name: "ansible-role-apache-2.1.1/tasks/main.yml", body: "---"},
		{name: "ansible-role-apache-2.1.1/meta/main.yml", body: "dependencies: []\n"},
	})

	dest := filepath.Join(dir, "ansible_collections", "geerlingguy", "apache")
	res, err := Extract(artifact, ExtractOptions{Dest: dest, RoleName: "apache"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Layout != LayoutRole {
		t.Errorf("Layout = %v", res.Layout)
	}
	if _, err := os.Stat(filepath.Join(dest, "roles", "apache", "tasks", "main.yml")); err != nil {
		t.Errorf("role task not remapped: %v", err)
	}
	if !slices.Contains(res.Files, "roles/apache/meta/main.yml") {
		t.Errorf("Files = %v", res.Files)
	}
}

func TestExtractRoleArchiveWithoutWrapper(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifact := filepath.Join(dir, "role.tar")
	writeTar(t, artifact, false, []member{
		{name: "tasks/main.yml", body: "---"},
		{name: "tasks/extra.yml", body: "---"},
	})

	dest := filepath.Join(dir, "out")
	if _, err := Extract(artifact, ExtractOptions{Dest: dest, RoleName: "web"}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "roles", "web", "tasks", "extra.yml")); err != nil {
		t.Errorf("plain tar role not extracted: %v", err)
	}
}

func TestExtractDetectsCompressionByContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fileName string
		gz       bool
	}{
		{"plain tar named tar.gz", "role.tar.gz", false},
		{"gzip tar named tar", "role.tar", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			artifact := filepath.Join(dir, tt.fileName)
			writeTar(t, artifact, tt.gz, []member{{name: "tasks/main.yml", body: "---"}})

			dest := filepath.Join(dir, "out")
			if _, err := Extract(artifact, ExtractOptions{Dest: dest, RoleName: "web"}); err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if _, err := os.Stat(filepath.Join(dest, "roles", "web", "tasks", "main.yml")); err != nil {
				t.Errorf("member not extracted: %v", err)
			}
		})
	}
}

func TestExtractRejectsEscapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		members []member
	}{
		{"parent path", []member{{name: "MANIFEST.json", body: "{\"format\":1}"}, {name: "../evil", body: "x"}}},
		{"absolute path", []member{{name: "MANIFEST.json", body: "{\"format\":1}"}, {name: "/tmp/evil", body: "x"}}},
		{"symlink out", []member{{name: "MANIFEST.json", body: "{\"format\":1}"}, {name: "link", typeflag: tar.TypeSymlink, linkname: "../../etc/passwd"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			artifact := filepath.Join(dir, "bad.tar.gz")
			writeTar(t, artifact, true, tt.members)
			_, err := Extract(artifact, ExtractOptions{Dest: filepath.Join(dir, "dest")})
			if !errors.Is(err, ErrArchiveFormat) {
				t.Errorf("Extract() error = %v, want ErrArchiveFormat", err)
			}
		})
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "junk.tar.gz")
	if err := os.WriteFile(path, []byte("definitely not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(path); !errors.Is(err, ErrArchiveFormat) {
		t.Errorf("Inspect() error = %v, want ErrArchiveFormat", err)
	}
}

func TestReadArtifactManifest(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{"README.md": "x"})
	artifact := buildArtifact(t, src, collection.CollectionInfo{Namespace: "n", Name: "c", Version: "0.2.0"})

	m, err := ReadArtifactManifest(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if m.CollectionInfo.Label() != "n.c" || len(m.Files) != 1 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestVerifySHA256(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	if err := VerifySHA256(path, strings.ToUpper(helloSHA)); err != nil {
		t.Errorf("VerifySHA256(match) error = %v", err)
	}

	err := VerifySHA256(path, "deadbeef")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("VerifySHA256(mismatch) error = %v", err)
	}
	var dve *DownloadVerificationError
	if !errors.As(err, &dve) || dve.Expected != "deadbeef" || dve.Actual != helloSHA {
		t.Errorf("error = %+v", dve)
	}
}
