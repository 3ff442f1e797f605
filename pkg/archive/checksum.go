// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ComputeFileHash returns the hex-encoded sha256 of the file at path.
func ComputeFileHash(path string) (digest string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256 compares the file's digest with expected (case-insensitive).
// A mismatch returns a DownloadVerificationError carrying both digests.
func VerifySHA256(path, expected string) error {
	actual, err := ComputeFileHash(path)
	if err != nil {
		return err
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	if actual != expected {
		return &DownloadVerificationError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}
