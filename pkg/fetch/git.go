// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
)

// GitTool clones git repositories in-process with go-git.
type GitTool struct {
	// Auth overrides credential discovery when set.
	Auth transport.AuthMethod
}

// NewGitTool returns a GitTool that discovers credentials per URL: SSH keys
// from ~/.ssh for SSH URLs, GITHUB_TOKEN, GITLAB_TOKEN or GIT_TOKEN for
// HTTP URLs.
func NewGitTool() *GitTool {
	return &GitTool{}
}

// ListRefs implements SCMTool.
func (g *GitTool) ListRefs(ctx context.Context, src string) (*RemoteRefs, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{src},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: g.auth(src)})
	if err != nil {
		return nil, &CommandError{Command: []string{"git", "ls-remote", src}, ExitCode: -1, Err: err}
	}

	out := &RemoteRefs{}
	for _, ref := range refs {
		switch {
		case ref.Name().IsTag():
			out.Tags = append(out.Tags, ref.Name().Short())
		case ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference:
			out.Head = ref.Target().Short()
		}
	}
	return out, nil
}

// Checkout implements SCMTool.
func (g *GitTool) Checkout(ctx context.Context, src, ref, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:  src,
		Auth: g.auth(src),
	})
	if err != nil {
		return &CommandError{Command: []string{"git", "clone", src, dest}, ExitCode: -1, Err: err}
	}
	if ref == "" {
		return nil
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return &CommandError{Command: []string{"git", "rev-parse", ref}, Dir: dest, ExitCode: -1, Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &CommandError{Command: []string{"git", "checkout", ref}, Dir: dest, ExitCode: -1, Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return &CommandError{Command: []string{"git", "checkout", ref}, Dir: dest, ExitCode: -1, Err: err}
	}
	return nil
}

// resolveRef resolves ref as a tag, a remote branch or a commit. A tag is
// tried with and without a leading "v".
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	var lastErr error
	for _, rev := range refCandidates(ref) {
		h, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err == nil {
			return *h, nil
		}
		lastErr = err
	}
	return plumbing.ZeroHash, fmt.Errorf("unknown revision %q: %w", ref, lastErr)
}

func refCandidates(ref string) []string {
	out := []string{ref, "origin/" + ref}
	if noV, found := strings.CutPrefix(ref, "v"); found {
		out = append(out, noV)
	} else {
		out = append(out, "v"+ref)
	}
	return out
}

func (g *GitTool) auth(src string) transport.AuthMethod {
	if g.Auth != nil {
		return g.Auth
	}
	if isSSHURL(src) {
		if a := trySSHAuth(); a != nil {
			return a
		}
		return nil
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return tryHTTPAuth()
	}
	return nil
}

func isSSHURL(src string) bool {
	if strings.HasPrefix(src, "ssh://") {
		return true
	}
	return !strings.Contains(src, "://") && strings.Contains(src, "@") && strings.Contains(src, ":")
}

func trySSHAuth() transport.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		keyPath := filepath.Join(homeDir, ".ssh", name)
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		auth, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err == nil {
			return auth
		}
	}
	return nil
}

func tryHTTPAuth() transport.AuthMethod {
	for _, c := range []struct{ env, user string }{
		{"GITHUB_TOKEN", "x-access-token"},
		{"GITLAB_TOKEN", "gitlab-ci-token"},
		{"GIT_TOKEN", "git"},
	} {
		if token := os.Getenv(c.env); token != "" {
			return &http.BasicAuth{Username: c.user, Password: token}
		}
	}
	return nil
}
