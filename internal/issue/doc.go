// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown
// remediation guides shown when a stowage command fails.
package issue
