// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrFetch is the sentinel for every failure to obtain content.
var ErrFetch = errors.New("fetch failed")

type (
	// FetchError reports a failure to obtain the content named by Spec from
	// URL (a registry download URL, a remote URL, a path or a clone URL).
	FetchError struct {
		Spec string
		URL  string
		Err  error
	}

	// CommandError reports a failed SCM step. Command is the step as a shell
	// command line; for in-process git operations it is the equivalent git
	// invocation and ExitCode is -1.
	CommandError struct {
		Command  []string
		Dir      string
		ExitCode int
		Output   string
		Err      error
	}
)

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to fetch %s", e.Spec)
	if e.URL != "" && e.URL != e.Spec {
		fmt.Fprintf(&b, " from %s", e.URL)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s", e.CommandLine())
	if e.Dir != "" {
		msg += " in " + e.Dir
	}
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	} else {
		msg += " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandLine renders Command with each argument shell-quoted as needed.
func (e *CommandError) CommandLine() string {
	quoted := make([]string, 0, len(e.Command))
	for _, arg := range e.Command {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", arg)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}
