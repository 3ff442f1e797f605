// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stowage-dev/stowage/internal/issue"
	"github.com/stowage-dev/stowage/pkg/archive"
	"github.com/stowage-dev/stowage/pkg/build"
	"github.com/stowage-dev/stowage/pkg/collection"
	"github.com/stowage-dev/stowage/pkg/fetch"
	"github.com/stowage-dev/stowage/pkg/registry"
	"github.com/stowage-dev/stowage/pkg/reqspec"
	"github.com/stowage-dev/stowage/pkg/versions"
)

const (
	// ExitFailure is the exit status for usage and configuration errors.
	ExitFailure = 1
	// ExitSoftware is the exit status for failed installs (EX_SOFTWARE).
	ExitSoftware = 70
)

type (
	// ExitError carries an exit status out of a RunE handler without calling
	// os.Exit there.
	ExitError struct {
		Code int
		Err  error
	}

	// ServiceError pairs an error with the issue catalog entry that explains
	// it. Create it with newServiceError.
	ServiceError struct {
		Err     error
		IssueID issue.Id
	}
)

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

func newServiceError(err error) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: classifyError(err)}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError maps known failure kinds to issue catalog entries. Zero
// means no entry applies.
func classifyError(err error) issue.Id {
	var ae *issue.ActionableError
	switch {
	case errors.As(err, &ae) && ae.Operation == "load configuration",
		errors.As(err, &ae) && ae.Operation == "validate configuration":
		return issue.ConfigLoadFailedId
	case errors.Is(err, reqspec.ErrNamespaceRequired):
		return issue.NamespaceRequiredId
	case errors.Is(err, reqspec.ErrSpecParse):
		return issue.RequirementsInvalidId
	case errors.Is(err, archive.ErrChecksumMismatch):
		return issue.ChecksumMismatchId
	case errors.Is(err, archive.ErrContentExists):
		return issue.ContentExistsId
	case errors.Is(err, build.ErrArtifactExists):
		return issue.ArtifactExistsId
	case errors.Is(err, collection.ErrInvalidCollectionInfo):
		return issue.CollectionInfoInvalidId
	case errors.Is(err, versions.ErrVersionResolution):
		return issue.VersionNotFoundId
	case errors.Is(err, registry.ErrNotFound):
		return issue.CollectionNotFoundId
	case errors.Is(err, registry.ErrTransport), errors.Is(err, registry.ErrServer):
		return issue.RegistryUnavailableId
	case errors.Is(err, fetch.ErrSCMToolMissing):
		return issue.SCMToolMissingId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	}
	return 0
}

// formatErrorForDisplay uses the suggestion-aware format for actionable
// errors and the plain message otherwise.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// renderIssue writes the catalog guide for svcErr, if any.
func renderIssue(w io.Writer, svcErr *ServiceError, style string) error {
	if svcErr == nil || svcErr.IssueID == 0 {
		return nil
	}
	entry := issue.Get(svcErr.IssueID)
	if entry == nil {
		return nil
	}
	rendered, err := entry.Render(style)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}

// silence stops cobra and fang from printing an error that was already
// reported.
func silence(cmd *cobra.Command) {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
}
