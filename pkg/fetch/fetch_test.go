// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stowage-dev/stowage/internal/testutil"
	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/registry"
	"github.com/stowage-dev/stowage/pkg/reqspec"
	"github.com/stowage-dev/stowage/pkg/versions"
)

// buildArtifact builds a collection artifact for namespace.name version
// with a single module file.
func buildArtifact(t *testing.T, namespace, name, version string) string {
	t.Helper()
	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{"plugins/modules/ping.py": "print('pong')\n"})
	entries, err := archive.ScanTree(src, archive.WalkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	info := collection.CollectionInfo{Namespace: namespace, Name: name, Version: version}
	out := filepath.Join(t.TempDir(), archive.ArtifactFileName(version))
	if err := archive.WriteArtifact(out, src, collection.NewManifest(info, entries)); err != nil {
		t.Fatal(err)
	}
	return out
}

func sha256Of(t *testing.T, path string) string {
	t.Helper()
	sum, err := archive.ComputeFileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

// fakeRegistry serves one collection from memory.
type fakeRegistry struct {
	namespace, name string
	versions        []string
	artifacts       map[string]string // version -> artifact path
	sha256          map[string]string
}

func (f *fakeRegistry) GetCollection(_ context.Context, ns, name string) (*registry.Collection, error) {
	if ns != f.namespace || name != f.name {
		return nil, &registry.NotFoundError{URL: "/api/v2/collections/" + ns + "/" + name + "/"}
	}
	return &registry.Collection{Namespace: ns, Name: name}, nil
}

func (f *fakeRegistry) Versions(context.Context, string, string) ([]string, error) {
	return f.versions, nil
}

func (f *fakeRegistry) GetVersion(_ context.Context, ns, name, version string) (*registry.VersionDetail, error) {
	return &registry.VersionDetail{
		Namespace:    ns,
		Name:         name,
		Version:      version,
		DownloadURL:  "mem://" + version,
		SHA256:       f.sha256[version],
		Dependencies: map[string]string{"acme.base": "*"},
	}, nil
}

func (f *fakeRegistry) Download(_ context.Context, rawURL string, w io.Writer) (int64, error) {
	path, ok := f.artifacts[strings.TrimPrefix(rawURL, "mem://")]
	if !ok {
		return 0, &registry.NotFoundError{URL: rawURL}
	}
	r, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, r)
}

// fakeSCM checks out a fixed file set and records what it was asked for.
type fakeSCM struct {
	refs      RemoteRefs
	files     map[string]string
	gotRef    string
	checkouts int
}

func (f *fakeSCM) ListRefs(context.Context, string) (*RemoteRefs, error) {
	return &f.refs, nil
}

func (f *fakeSCM) Checkout(_ context.Context, _, ref, dest string) error {
	f.checkouts++
	f.gotRef = ref
	for name, content := range f.files {
		path := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func galaxySpec(label, version string) collection.RequirementSpec {
	spec, err := reqspec.FromDependency(label, version)
	if err != nil {
		panic(err)
	}
	return spec
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	tests := []struct {
		method collection.FetchMethod
		opts   Options
		ok     bool
	}{
		{collection.FetchMethodGalaxyURL, Options{Registry: reg}, true},
		{collection.FetchMethodGalaxyURL, Options{}, false},
		{collection.FetchMethodRemoteURL, Options{Registry: reg}, true},
		{collection.FetchMethodLocalFile, Options{}, true},
		{collection.FetchMethodEditable, Options{}, true},
		{collection.FetchMethodSCMURL, Options{}, true},
		{"CARRIER_PIGEON", Options{}, false},
	}
	for _, tt := range tests {
		s, err := New(collection.RequirementSpec{Namespace: "a", Name: "b", FetchMethod: tt.method}, tt.opts)
		if tt.ok {
			if err != nil || s.Method() != tt.method {
				t.Errorf("New(%s) = %v, %v", tt.method, s, err)
			}
			continue
		}
		if !errors.Is(err, ErrFetch) {
			t.Errorf("New(%s) error = %v, want ErrFetch", tt.method, err)
		}
	}

	_, err := New(collection.RequirementSpec{Name: "x", FetchMethod: collection.FetchMethodSCMURL, Scm: "svn"}, Options{})
	if !errors.Is(err, ErrFetch) {
		t.Errorf("unsupported scm error = %v", err)
	}
}

func TestGalaxyFindAndFetch(t *testing.T) {
	t.Parallel()

	art := buildArtifact(t, "acme", "tools", "1.1.0")
	reg := &fakeRegistry{
		namespace: "acme", name: "tools",
		versions:  []string{"1.0.0", "1.1.0", "2.0.0", "not-a-version"},
		artifacts: map[string]string{"1.1.0": art},
		sha256:    map[string]string{"1.1.0": strings.ToUpper(sha256Of(t, art))},
	}

	s, err := New(galaxySpec("acme.tools", ">=1.0.0,<2.0.0"), Options{Registry: reg, TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Cleanup()

	found, err := s.Find(context.Background())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.Spec.Version != "1.1.0" || found.Locator != "mem://1.1.0" {
		t.Errorf("found = %+v", found)
	}

	fetched, err := s.Fetch(context.Background(), found)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	m, err := archive.ReadArtifactManifest(fetched.ArtifactPath)
	if err != nil || m.CollectionInfo.Version != "1.1.0" {
		t.Errorf("fetched artifact manifest = %+v, %v", m, err)
	}

	s.Cleanup()
	if _, err := os.Stat(fetched.ArtifactPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Cleanup left %s behind: %v", fetched.ArtifactPath, err)
	}
}

func TestGalaxyFetchVerifiesChecksum(t *testing.T) {
	t.Parallel()

	art := buildArtifact(t, "acme", "tools", "1.0.0")
	reg := &fakeRegistry{
		namespace: "acme", name: "tools",
		versions:  []string{"1.0.0"},
		artifacts: map[string]string{"1.0.0": art},
		sha256:    map[string]string{"1.0.0": strings.Repeat("0", 64)},
	}
	s, err := New(galaxySpec("acme.tools", ""), Options{Registry: reg, TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Cleanup()

	found, err := s.Find(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Fetch(context.Background(), found)
	if !errors.Is(err, archive.ErrChecksumMismatch) {
		t.Fatalf("Fetch error = %v, want checksum mismatch", err)
	}
}

func TestGalaxyFindErrors(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{namespace: "acme", name: "tools", versions: []string{"1.0.0"}}

	s, _ := New(galaxySpec("acme.missing", ""), Options{Registry: reg})
	if _, err := s.Find(context.Background()); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("missing collection error = %v", err)
	}

	s, _ = New(galaxySpec("acme.tools", "3.0.0"), Options{Registry: reg})
	if _, err := s.Find(context.Background()); !errors.Is(err, versions.ErrVersionResolution) {
		t.Errorf("missing version error = %v", err)
	}
}

func TestLocalFile(t *testing.T) {
	t.Parallel()

	art := buildArtifact(t, "acme", "tools", "1.0.0")
	sum := sha256Of(t, art)

	tests := []struct {
		name    string
		version string
		sha     string
		wantErr error
	}{
		{"identity from manifest", "", "", nil},
		{"matching checksum", "", sum, nil},
		{"checksum mismatch", "", strings.Repeat("f", 64), archive.ErrChecksumMismatch},
		{"version mismatch", "2.0.0", "", versions.ErrVersionResolution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spec := collection.RequirementSpec{
				Name: "tools", Src: art, VersionSpec: "*",
				FetchMethod: collection.FetchMethodLocalFile,
				Hints:       collection.FetchHints{ExpectedSHA256: tt.sha},
			}
			if tt.version != "" {
				spec.VersionSpec = tt.version
			}
			s, err := New(spec, Options{})
			if err != nil {
				t.Fatal(err)
			}
			defer s.Cleanup()

			found, err := s.Find(context.Background())
			if err == nil {
				var fetched *FetchResult
				fetched, err = s.Fetch(context.Background(), found)
				if err == nil && (fetched.ArtifactPath != art || fetched.Spec.Label() != "acme.tools" || fetched.Spec.Version != "1.0.0") {
					t.Errorf("fetched = %+v", fetched)
				}
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := os.Stat(art); err != nil {
		t.Errorf("local artifact was touched: %v", err)
	}
}

func TestRemoteURL(t *testing.T) {
	t.Parallel()

	art := buildArtifact(t, "acme", "web", "0.3.0")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/acme-web.tar.gz" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, art)
	}))
	defer srv.Close()

	client, err := registry.New(srv.URL, registry.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}

	spec := collection.RequirementSpec{
		Name: "acme-web", Src: srv.URL + "/files/acme-web.tar.gz", VersionSpec: "*",
		FetchMethod: collection.FetchMethodRemoteURL,
	}
	s, err := New(spec, Options{Registry: client, TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Cleanup()

	found, err := s.Find(context.Background())
	if err != nil || !found.IdentityPending {
		t.Fatalf("Find = %+v, %v", found, err)
	}
	fetched, err := s.Fetch(context.Background(), found)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetched.Spec.Label() != "acme.web" || fetched.Spec.Version != "0.3.0" {
		t.Errorf("identity = %+v", fetched.Spec)
	}
	if filepath.Base(fetched.ArtifactPath) != "acme-web.tar.gz" {
		t.Errorf("ArtifactPath = %q", fetched.ArtifactPath)
	}

	spec.Src = srv.URL + "/files/missing.tar.gz"
	s2, _ := New(spec, Options{Registry: client, TempDir: t.TempDir()})
	defer s2.Cleanup()
	found, _ = s2.Find(context.Background())
	_, err = s2.Fetch(context.Background(), found)
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, registry.ErrNotFound) || fe.URL != spec.Src {
		t.Errorf("missing download error = %v", err)
	}
}

func TestEditable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{"galaxy.yml": "namespace: dev\nname: local\nversion: 0.1.0\n"})

	spec := collection.RequirementSpec{Name: filepath.Base(src), Src: src, VersionSpec: "*", FetchMethod: collection.FetchMethodEditable}
	run := func(force bool) (*FetchResult, error) {
		s, err := New(spec, Options{CollectionsRoot: root, Force: force})
		if err != nil {
			return nil, err
		}
		defer s.Cleanup()
		found, err := s.Find(context.Background())
		if err != nil {
			return nil, err
		}
		return s.Fetch(context.Background(), found)
	}

	first, err := run(false)
	if err != nil {
		t.Fatalf("first link: %v", err)
	}
	if !first.Linked || first.Path != collection.CollectionPath(root, "dev", "local") {
		t.Errorf("first = %+v", first)
	}
	if _, err := run(false); err != nil {
		t.Errorf("re-linking the same source: %v", err)
	}

	other := t.TempDir()
	testutil.WriteFiles(t, other, map[string]string{"galaxy.yml": "namespace: dev\nname: local\nversion: 0.2.0\n"})
	spec.Src = other
	if _, err := run(false); !errors.Is(err, archive.ErrContentExists) {
		t.Errorf("conflicting link error = %v", err)
	}
	if _, err := run(true); err != nil {
		t.Fatalf("forced relink: %v", err)
	}
	target, err := filepath.EvalSymlinks(first.Path)
	if err != nil {
		t.Fatal(err)
	}
	if want, _ := filepath.EvalSymlinks(other); target != want {
		t.Errorf("link target = %q, want %q", target, want)
	}
}

func TestEditableWithoutNamespace(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "loose")
	testutil.WriteFiles(t, src, map[string]string{"tasks/main.yml": "[]\n"})

	s, err := New(collection.RequirementSpec{Name: "loose", Src: src, FetchMethod: collection.FetchMethodEditable},
		Options{CollectionsRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	found, err := s.Find(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fetch(context.Background(), found); !errors.Is(err, reqspec.ErrNamespaceRequired) {
		t.Errorf("Fetch error = %v, want namespace required", err)
	}
}

func TestSCMFindSelectsRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		refs        RemoteRefs
		versionSpec string
		hintRef     string
		wantRef     string
		wantVersion string
	}{
		{"latest tag", RemoteRefs{Tags: []string{"v1.0.0", "1.2.0", "junk"}, Head: "main"}, "*", "", "1.2.0", "1.2.0"},
		{"range", RemoteRefs{Tags: []string{"v1.0.0", "v1.5.0", "v2.0.0"}}, "<2.0.0", "", "v1.5.0", "1.5.0"},
		{"head branch without tags", RemoteRefs{Head: "main"}, "*", "", "main", ""},
		{"default branch", RemoteRefs{}, "*", "", versions.DefaultBranch, ""},
		{"explicit ref", RemoteRefs{Tags: []string{"1.0.0"}}, "*", "feature/x", "feature/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tool := &fakeSCM{refs: tt.refs}
			spec := collection.RequirementSpec{
				Name: "repo", Src: "https://example.com/repo.git", Scm: "git",
				VersionSpec: tt.versionSpec, FetchMethod: collection.FetchMethodSCMURL,
				Hints: collection.FetchHints{Ref: tt.hintRef},
			}
			s, err := New(spec, Options{SCMTools: map[string]SCMTool{"git": tool}})
			if err != nil {
				t.Fatal(err)
			}
			found, err := s.Find(context.Background())
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if found.Ref != tt.wantRef || found.Spec.Version != tt.wantVersion || !found.IdentityPending {
				t.Errorf("found = %+v", found)
			}
		})
	}
}

func TestSCMFetchCollection(t *testing.T) {
	t.Parallel()

	tool := &fakeSCM{
		refs: RemoteRefs{Tags: []string{"v1.0.0"}},
		files: map[string]string{
			"galaxy.yml":              "namespace: acme\nname: scm\nversion: 1.0.0\n",
			"plugins/modules/x.py":    "x = 1\n",
			".git/HEAD":               "ref: refs/heads/main\n",
			"roles/r/tasks/main.yml":  "[]\n",
			"roles/r/meta/main.yml":   "dependencies: []\n",
			"plugins/modules/x.pyc":   "junk",
			"docs/README.md":          "docs\n",
			"tests/integration/a.yml": "[]\n",
		},
	}
	spec := collection.RequirementSpec{
		Name: "scm-repo", Src: "https://example.com/scm-repo.git", Scm: "git",
		VersionSpec: "*", FetchMethod: collection.FetchMethodSCMURL,
	}
	s, err := New(spec, Options{TempDir: t.TempDir(), SCMTools: map[string]SCMTool{"git": tool}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Cleanup()

	found, err := s.Find(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fetched, err := s.Fetch(context.Background(), found)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tool.gotRef != "v1.0.0" {
		t.Errorf("checked out %q", tool.gotRef)
	}
	if fetched.Spec.Label() != "acme.scm" || fetched.Spec.Version != "1.0.0" {
		t.Errorf("identity = %+v", fetched.Spec)
	}

	m, err := archive.ReadArtifactManifest(fetched.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range m.Files {
		if strings.HasPrefix(f.Name, ".git") || strings.HasSuffix(f.Name, ".pyc") {
			t.Errorf("manifest lists ignored file %s", f.Name)
		}
	}
}

func TestSCMFetchRole(t *testing.T) {
	t.Parallel()

	tool := &fakeSCM{
		refs:  RemoteRefs{Head: "main"},
		files: map[string]string{"tasks/main.yml": "[]\n", "meta/main.yml": "dependencies: []\n"},
	}
	spec := collection.RequirementSpec{
		Namespace: "legacy", Name: "webserver", Src: "git@example.com:legacy/webserver.git", Scm: "git",
		VersionSpec: "*", FetchMethod: collection.FetchMethodSCMURL,
	}
	s, err := New(spec, Options{TempDir: t.TempDir(), SCMTools: map[string]SCMTool{"git": tool}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Cleanup()

	found, err := s.Find(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fetched, err := s.Fetch(context.Background(), found)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetched.Spec.Version != "0.0.0+main" {
		t.Errorf("Version = %q", fetched.Spec.Version)
	}

	root := t.TempDir()
	res, err := archive.Install(fetched.ArtifactPath, archive.InstallOptions{CollectionsRoot: root, Spec: fetched.Spec})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	want := filepath.Join(res.Path, "roles", "webserver", "tasks", "main.yml")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("role not remapped: %v", err)
	}
}

func TestRefVersion(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"v1.2.3":    "1.2.3",
		"1.0.0":     "1.0.0",
		"main":      "0.0.0+main",
		"feature/x": "0.0.0+feature-x",
		"":          "0.0.0",
	}
	for ref, want := range tests {
		if got := refVersion(ref); got != want {
			t.Errorf("refVersion(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("fetching: %w", &FetchError{
		Spec: "repo",
		URL:  "https://example.com/repo.git",
		Err: &CommandError{
			Command:  []string{"hg", "update", "--rev", "my branch"},
			Dir:      "/tmp/checkout",
			ExitCode: 255,
			Output:   "abort: unknown revision\n",
		},
	})
	var ce *CommandError
	if !errors.As(err, &ce) || !errors.Is(err, ErrFetch) {
		t.Fatalf("error chain = %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"hg update --rev", "'my branch'", "/tmp/checkout", "status 255", "abort: unknown revision"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q lacks %q", msg, want)
		}
	}
}

func TestRefCandidates(t *testing.T) {
	t.Parallel()

	got := refCandidates("v1.0.0")
	want := []string{"v1.0.0", "origin/v1.0.0", "1.0.0"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("refCandidates = %v, want %v", got, want)
	}
	if !isSSHURL("git@github.com:acme/tools.git") || isSSHURL("https://github.com/acme/tools.git") {
		t.Error("isSSHURL misclassifies")
	}
}
