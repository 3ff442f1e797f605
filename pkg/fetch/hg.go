// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrSCMToolMissing is returned when the SCM binary is not on PATH.
var ErrSCMToolMissing = errors.New("executable not found")

// MercurialTool clones Mercurial repositories with the hg binary. It cannot
// list remote tags, so requirements without an explicit version install the
// default branch.
type MercurialTool struct {
	Binary string
}

// ListRefs implements SCMTool.
func (m *MercurialTool) ListRefs(context.Context, string) (*RemoteRefs, error) {
	return &RemoteRefs{Head: "default"}, nil
}

// Checkout implements SCMTool.
func (m *MercurialTool) Checkout(ctx context.Context, src, ref, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := m.run(ctx, "", "clone", "--noupdate", src, dest); err != nil {
		return err
	}
	if ref == "" {
		ref = "default"
	}
	return m.run(ctx, dest, "update", "--clean", "--rev", ref)
}

func (m *MercurialTool) run(ctx context.Context, dir string, args ...string) error {
	bin := m.Binary
	if bin == "" {
		bin = "hg"
	}
	command := append([]string{bin}, args...)
	path, err := exec.LookPath(bin)
	if err != nil {
		return &CommandError{Command: command, Dir: dir, ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrSCMToolMissing, err)}
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &CommandError{Command: command, Dir: dir, ExitCode: exitCode, Output: out.String(), Err: err}
	}
	return nil
}
