// SPDX-License-Identifier: MPL-2.0

package reqspec

import (
	"errors"
	"fmt"
)

var (
	// ErrSpecParse is the sentinel for SpecParseError.
	ErrSpecParse = errors.New("invalid requirement spec")

	// ErrNamespaceRequired is the sentinel for NamespaceRequiredError.
	ErrNamespaceRequired = errors.New("namespace required")
)

type (
	// SpecParseError reports a spec string that cannot be parsed or
	// classified.
	SpecParseError struct {
		Spec   string
		Reason string
	}

	// NamespaceRequiredError reports content whose namespace could not be
	// determined.
	NamespaceRequiredError struct {
		Spec string
	}
)

// Error implements error.
func (e *SpecParseError) Error() string {
	return fmt.Sprintf("invalid requirement spec %q: %s", e.Spec, e.Reason)
}

// Unwrap returns ErrSpecParse so callers can use errors.Is.
func (e *SpecParseError) Unwrap() error { return ErrSpecParse }

// Error implements error.
func (e *NamespaceRequiredError) Error() string {
	return fmt.Sprintf("a namespace is required for %q; add namespace=<name> to the spec", e.Spec)
}

// Unwrap returns ErrNamespaceRequired so callers can use errors.Is.
func (e *NamespaceRequiredError) Unwrap() error { return ErrNamespaceRequired }
