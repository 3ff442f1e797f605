// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrArchiveFormat is the sentinel for ArchiveFormatError.
	ErrArchiveFormat = errors.New("archive format error")

	// ErrContentExists marks an extraction that would overwrite existing
	// content without force.
	ErrContentExists = errors.New("content already exists")

	// ErrChecksumMismatch is the sentinel for DownloadVerificationError.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

type (
	// ArchiveFormatError reports an unreadable archive, an unsafe member or
	// a member that would overwrite existing content.
	ArchiveFormatError struct {
		// Path is the archive, or the destination file for overwrite errors.
		Path   string
		Member string
		Reason string
		Err    error
	}

	// DownloadVerificationError reports an artifact whose sha256 does not
	// match the expected digest.
	DownloadVerificationError struct {
		Path     string
		Expected string
		Actual   string
	}
)

// Error implements error.
func (e *ArchiveFormatError) Error() string {
	msg := e.Path
	if e.Member != "" {
		msg += ": member " + e.Member
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && !errors.Is(e.Err, ErrContentExists) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrArchiveFormat and the underlying cause.
func (e *ArchiveFormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArchiveFormat}
	}
	return []error{ErrArchiveFormat, e.Err}
}

// Error implements error.
func (e *DownloadVerificationError) Error() string {
	return fmt.Sprintf("sha256 verification failed for %s\nExpected: %s\nGot:      %s", e.Path, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *DownloadVerificationError) Unwrap() error { return ErrChecksumMismatch }

func contentExists(path string) error {
	return &ArchiveFormatError{Path: path, Reason: "content already exists, use force to overwrite", Err: ErrContentExists}
}
