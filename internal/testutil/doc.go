// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by stowage tests: fixture trees, a
// fake clock and process-state helpers that restore themselves on cleanup.
package testutil
