// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/moby/patternmatcher"

	"github.com/stowage-dev/stowage/pkg/collection"
)

var (
	// DefaultIgnoreDirs are directory names never included in an artifact.
	DefaultIgnoreDirs = []string{
		".git", ".hg", ".svn", ".bzr", "__pycache__", "releases",
		".tox", ".cache", ".idea", ".vscode", "CVS", ".pytest_cache",
	}

	// DefaultExcludePatterns are file globs never included in an artifact.
	DefaultExcludePatterns = []string{"*.pyc", "*.retry", "*.swp", ".DS_Store", "galaxy.yml.bak"}
)

// WalkOptions controls which parts of a source tree are collected.
type WalkOptions struct {
	// IgnoreDirs are directory base names skipped wherever they appear.
	// Nil selects DefaultIgnoreDirs.
	IgnoreDirs []string
	// ExcludePatterns are dockerignore-style globs. Patterns without a
	// slash match at any depth. Nil selects DefaultExcludePatterns.
	ExcludePatterns []string
	// SkipPaths are absolute paths excluded from the walk, typically an
	// output directory that lives inside the source tree.
	SkipPaths []string
	// Logger reports entries left out because they are neither regular
	// files nor directories. Nil discards.
	Logger *log.Logger
}

// ScanTree walks root and returns manifest entries for every directory and
// regular file that survives the ignore rules, in lexical order. File
// entries carry their sha256 digest. A MANIFEST.json at the root is never
// listed since artifacts generate their own.
func ScanTree(root string, opts WalkOptions) ([]collection.FileEntry, error) {
	ignore := opts.IgnoreDirs
	if ignore == nil {
		ignore = DefaultIgnoreDirs
	}
	patterns := opts.ExcludePatterns
	if patterns == nil {
		patterns = DefaultExcludePatterns
	}
	pm, err := patternmatcher.New(anyDepth(patterns))
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	var entries []collection.FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		if slices.Contains(opts.SkipPaths, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() && slices.Contains(ignore, d.Name()) {
			return filepath.SkipDir
		}
		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if excluded {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			entries = append(entries, collection.NewDirEntry(name))
		case rel == collection.ManifestFileName:
		default:
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			switch {
			case info.IsDir():
				logger.Warn("skipping symlinked directory", "path", name)
				return nil
			case !info.Mode().IsRegular():
				logger.Debug("skipping special file", "path", name, "mode", info.Mode().String())
				return nil
			}
			sum, err := ComputeFileHash(path)
			if err != nil {
				return err
			}
			entries = append(entries, collection.NewFileEntry(name, sum))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return entries, nil
}

// anyDepth makes slash-free patterns match in every directory, the way
// .gitignore treats them.
func anyDepth(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") && !strings.HasPrefix(p, "!") {
			p = "**/" + p
		}
		out = append(out, p)
	}
	return out
}
