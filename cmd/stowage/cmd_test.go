// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stowage-dev/stowage/internal/config"
	"github.com/stowage-dev/stowage/internal/testutil"
	"github.com/stowage-dev/stowage/pkg/fetch"
	"github.com/stowage-dev/stowage/pkg/registry"
	"github.com/stowage-dev/stowage/pkg/session"
)

type stubConfig struct {
	cfg *config.Config
	err error
}

func (s stubConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := *s.cfg
	return &c, nil
}

// stubRegistry serves one collection from memory.
type stubRegistry struct {
	versions []string
	detail   *registry.VersionDetail
}

func (r *stubRegistry) GetCollection(_ context.Context, ns, name string) (*registry.Collection, error) {
	if ns != "acme" || name != "tools" {
		return nil, &registry.NotFoundError{URL: "https://hub.example.com/api/v2/collections/" + ns + "/" + name + "/"}
	}
	return &registry.Collection{Namespace: ns, Name: name, LatestVersion: &registry.VersionRef{Version: "1.10.0"}}, nil
}

func (r *stubRegistry) Versions(context.Context, string, string) ([]string, error) {
	return r.versions, nil
}

func (r *stubRegistry) GetVersion(_ context.Context, ns, name, version string) (*registry.VersionDetail, error) {
	if r.detail == nil || r.detail.Version != version {
		return nil, &registry.NotFoundError{URL: "https://hub.example.com/versions/" + version + "/"}
	}
	return r.detail, nil
}

func (r *stubRegistry) Download(context.Context, string, io.Writer) (int64, error) {
	return 0, errors.New("downloads are not served")
}

type harness struct {
	app    *App
	root   string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, reg fetch.Registry) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CollectionsPath = filepath.Join(t.TempDir(), "collections")
	cfg.Server.URL = "https://hub.example.com"
	cfg.Server.Token = "s3cret"
	h := &harness{root: cfg.CollectionsPath, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	if reg == nil {
		reg = &stubRegistry{}
	}
	h.app = NewApp(Dependencies{
		Config:   stubConfig{cfg: cfg},
		Registry: func(*session.Session) (fetch.Registry, error) { return reg, nil },
		Stdout:   h.stdout,
		Stderr:   h.stderr,
	})
	return h
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	h.stderr.Reset()
	root := NewRootCommand(h.app)
	root.SetArgs(args)
	root.SetOut(h.stdout)
	root.SetErr(h.stderr)
	return root.ExecuteContext(context.Background())
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v is not an ExitError", err)
	}
	return exitErr.Code
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: mutates the ldflags variables.
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = origVersion, origCommit, origBuildDate })

	Version, Commit, BuildDate = "v0.3.0", "abc1234", "2026-01-02T03:04:05Z"
	if got, want := getVersionString(), "v0.3.0 (commit: abc1234, built: 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("getVersionString() = %q, want %q", got, want)
	}
	Version = "dev"
	if got := getVersionString(); got != "dev (built from source)" {
		t.Errorf("getVersionString() = %q", got)
	}
}

func TestBuildInstallListRemove(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	src := t.TempDir()
	out := t.TempDir()
	testutil.WriteFiles(t, src, map[string]string{
		"galaxy.yml":              "namespace: acme\nname: tools\nversion: 1.0.0\nlicense: MIT\n",
		"plugins/modules/ping.py": "print('pong')\n",
	})

	if err := h.run("build", src, "--output-path", out); err != nil {
		t.Fatalf("build: %v\n%s", err, h.stderr)
	}
	artifact := filepath.Join(out, "v1.0.0.tar.gz")
	if !strings.Contains(h.stdout.String(), artifact) {
		t.Errorf("build output = %q", h.stdout)
	}

	if err := h.run("install", artifact); err != nil {
		t.Fatalf("install: %v\n%s", err, h.stderr)
	}
	if !strings.Contains(h.stdout.String(), "1 installed") {
		t.Errorf("install output = %q", h.stdout)
	}

	if err := h.run("info", artifact); err != nil {
		t.Fatalf("info artifact: %v\n%s", err, h.stderr)
	}
	for _, want := range []string{"acme.tools", "1.0.0", "MIT", "(none)"} {
		if !strings.Contains(h.stdout.String(), want) {
			t.Errorf("artifact info lacks %q:\n%s", want, h.stdout)
		}
	}

	if err := h.run("info", "acme.tools"); err != nil {
		t.Fatalf("info installed: %v\n%s", err, h.stderr)
	}
	if got := h.stdout.String(); !strings.Contains(got, "installed:") || !strings.Contains(got, "1.0.0 (installed ") {
		t.Errorf("info lacks the installed version:\n%s", got)
	}

	if err := h.run("list", "--format", "json"); err != nil {
		t.Fatalf("list: %v", err)
	}
	var entries []listEntry
	if err := json.Unmarshal(h.stdout.Bytes(), &entries); err != nil {
		t.Fatalf("list json: %v\n%s", err, h.stdout)
	}
	if len(entries) != 1 || entries[0].Name != "acme.tools" || entries[0].Version != "1.0.0" ||
		entries[0].PURL != "pkg:galaxy/acme/tools@1.0.0" {
		t.Errorf("list = %+v", entries)
	}

	if err := h.run("list", "--format", "lockfile", "acme"); err != nil {
		t.Fatalf("list lockfile: %v", err)
	}
	if got := strings.TrimSpace(h.stdout.String()); got != "acme.tools: 1.0.0" {
		t.Errorf("lockfile = %q", got)
	}

	if err := h.run("install", artifact); err != nil {
		t.Fatalf("second install: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "0 installed, 1 already satisfied") {
		t.Errorf("second install output = %q", h.stdout)
	}

	if err := h.run("remove", "acme.tools", "acme.other"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "Removed acme.tools") || !strings.Contains(h.stderr.String(), "acme.other is not installed") {
		t.Errorf("remove output = %q / %q", h.stdout, h.stderr)
	}
	if err := h.run("list", "--format", "lockfile"); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(h.stdout.String()); got != "{}" {
		t.Errorf("lockfile after remove = %q", got)
	}
}

func TestInstallExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantCode  int
		wantError string
	}{
		{"nothing requested", []string{"install"}, ExitFailure, "no collections requested"},
		{"bad spec", []string{"install", "not-a-spec"}, ExitFailure, "ERROR!"},
		{"missing requirements file", []string{"install", "-r", "/nonexistent/requirements.yml"}, ExitFailure, "requirements file"},
		{"collection not on server", []string{"install", "acme.missing"}, ExitSoftware, "ERROR!"},
		{"failure ignored", []string{"install", "-i", "acme.missing"}, 0, "1 failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			err := h.run(tt.args...)
			if got := exitCode(t, err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (err %v)", got, tt.wantCode, err)
			}
			if !strings.Contains(h.stderr.String(), tt.wantError) {
				t.Errorf("stderr = %q, want %q", h.stderr, tt.wantError)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubRegistry{
		versions: []string{"1.2.0", "1.10.0", "1.9.1"},
		detail: &registry.VersionDetail{
			Namespace: "acme", Name: "tools", Version: "1.10.0",
			DownloadURL:  "https://cdn.example.com/acme-tools-1.10.0.tar.gz",
			SHA256:       "abc123",
			Dependencies: map[string]string{"acme.base": ">=1.0.0"},
		},
	})

	if err := h.run("info", "acme.tools", "--detail", "1.10.0"); err != nil {
		t.Fatalf("info: %v\n%s", err, h.stderr)
	}
	got := h.stdout.String()
	for _, want := range []string{"acme.tools", "1.10.0, 1.9.1, 1.2.0", "cdn.example.com", "abc123", "acme.base >=1.0.0"} {
		if !strings.Contains(got, want) {
			t.Errorf("info output lacks %q:\n%s", want, got)
		}
	}

	err := h.run("info", "acme.nope")
	if exitCode(t, err) != ExitFailure || !strings.Contains(h.stderr.String(), "look up collection") {
		t.Errorf("info on unknown collection: %v / %q", err, h.stderr)
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.IssueID == 0 {
		t.Errorf("unknown collection not classified: %v", err)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.run("config", "show", "--server", "https://mirror.example.com"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	got := h.stdout.String()
	if strings.Contains(got, "s3cret") || !strings.Contains(got, `token: "********"`) {
		t.Errorf("token not masked:\n%s", got)
	}
	if !strings.Contains(got, `url: "https://mirror.example.com"`) {
		t.Errorf("--server not applied:\n%s", got)
	}
}

func TestConfigLoadFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.app.Config = stubConfig{err: errors.New("config.cue: ui.color_scheme: conflicting values")}
	err := h.run("list")
	if exitCode(t, err) != ExitFailure {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(h.stderr.String(), "ERROR! config.cue") {
		t.Errorf("stderr = %q", h.stderr)
	}
}

func TestWithNamespace(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"git+https://host/role.git", "git+https://host/role.git,namespace=acme"},
		{"git+https://host/role.git,v1", "git+https://host/role.git,v1,namespace=acme"},
		{"./role.tar.gz,namespace=other", "./role.tar.gz,namespace=other"},
		{"community.tools", "community.tools"},
		{"community.tools,1.0.0", "community.tools,1.0.0"},
		{"https://host/dl/role.tar.gz", "https://host/dl/role.tar.gz,namespace=acme"},
	}
	for _, tt := range tests {
		if got := withNamespace(tt.in, "acme", false); got != tt.want {
			t.Errorf("withNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
