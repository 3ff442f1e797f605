// SPDX-License-Identifier: MPL-2.0

// Package archive builds collection artifacts (MANIFEST.json plus the
// source files, as a gzip-compressed tar) and installs them: extraction into
// the collections tree, role remapping and the install record.
package archive
