// SPDX-License-Identifier: MPL-2.0

// Package versions normalizes version strings and selects a concrete version
// from the list a transport advertises.
package versions

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// AnyVersion is the range that accepts every version.
	AnyVersion = "*"

	// DefaultBranch is the branch name used when a transport advertises no
	// versions and no branch of its own.
	DefaultBranch = "master"
)

// ErrVersionResolution is the sentinel for every VersionResolutionError.
var ErrVersionResolution = errors.New("version resolution failed")

// leadingV matches a single v/V prefix that is directly followed by a
// numeric component and a dot, e.g. "v1.2" but not "vAlpha-1.1.2".
var leadingV = regexp.MustCompile(`^[vV](\d+\.)`)

type (
	// VersionResolutionError reports why no version could be selected for a
	// label. Available lists the original strings that were considered.
	VersionResolutionError struct {
		Label     string
		Requested string
		Available []string
		Reason    string
	}

	// Selection is the outcome of a version selection.
	Selection struct {
		// Version is the selected version exactly as the transport advertised it.
		Version string
		// Normalized is Version with any leading "v" stripped.
		Normalized string
		// Branch is true when no versions were available and Version names a
		// branch instead.
		Branch bool
		// Invalid holds the advertised strings that are not valid semantic
		// versions and were therefore ignored.
		Invalid []string
	}
)

// Error implements error.
func (e *VersionResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot resolve a version for %s", e.Label)
	if e.Requested != "" && e.Requested != AnyVersion {
		fmt.Fprintf(&b, " matching %q", e.Requested)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, " (available: %s)", strings.Join(e.Available, ", "))
	}
	return b.String()
}

// Unwrap returns ErrVersionResolution so callers can use errors.Is.
func (e *VersionResolutionError) Unwrap() error { return ErrVersionResolution }

// Normalize strips one leading "v" or "V" when it is followed by a number and
// a dot. Any other string is returned unchanged.
func Normalize(v string) string {
	if leadingV.MatchString(v) {
		return v[1:]
	}
	return v
}

// NormalizeAll normalizes every version and returns the normalized list (in
// input order) together with a map from each normalized value to the
// original strings that produced it.
func NormalizeAll(available []string) (normalized []string, originals map[string][]string) {
	normalized = make([]string, 0, len(available))
	originals = make(map[string][]string, len(available))
	for _, v := range available {
		n := Normalize(v)
		normalized = append(normalized, n)
		originals[n] = append(originals[n], v)
	}
	return normalized, originals
}

// IsValid reports whether v is a strict semantic version after normalization.
func IsValid(v string) bool {
	_, err := semver.StrictNewVersion(Normalize(v))
	return err == nil
}

// ParseRange parses a version range. The empty string and "*" accept every
// version. Operators "=", "==", "!=", ">", ">=", "<", "<=" are supported and
// a comma joins clauses with AND.
func ParseRange(spec string) (*semver.Constraints, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == AnyVersion {
		return semver.NewConstraint(AnyVersion)
	}
	return semver.NewConstraint(strings.ReplaceAll(spec, "==", "="))
}

// ValidateRange returns an error when spec is not a parsable range.
func ValidateRange(spec string) error {
	if _, err := ParseRange(spec); err != nil {
		return fmt.Errorf("invalid version range %q: %w", spec, err)
	}
	return nil
}

// IsAny reports whether spec accepts every version.
func IsAny(spec string) bool {
	spec = strings.TrimSpace(spec)
	return spec == "" || spec == AnyVersion
}

// IsExact returns the normalized version when spec requests exactly one
// version ("1.2.3", "v1.2.3", "=1.2.3" or "==1.2.3").
func IsExact(spec string) (string, bool) {
	s := strings.TrimSpace(spec)
	s = strings.TrimPrefix(s, "==")
	s = strings.TrimPrefix(s, "=")
	s = Normalize(strings.TrimSpace(s))
	if _, err := semver.StrictNewVersion(s); err != nil {
		return "", false
	}
	return s, true
}

// Satisfies reports whether version falls inside spec. Invalid versions
// satisfy only the any-version range.
func Satisfies(version, spec string) bool {
	if IsAny(spec) {
		return true
	}
	if exact, ok := IsExact(spec); ok {
		return Normalize(version) == exact
	}
	v, err := semver.NewVersion(Normalize(version))
	if err != nil {
		return false
	}
	c, err := ParseRange(spec)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// Compare orders two versions; invalid versions sort before valid ones and
// compare lexically among themselves.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(Normalize(a))
	vb, errB := semver.NewVersion(Normalize(b))
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	default:
		return va.Compare(vb)
	}
}

// SortDescending sorts versions newest first.
func SortDescending(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool { return Compare(vs[i], vs[j]) > 0 })
}

// Select picks the greatest advertised version that satisfies selector and
// returns it in its original form. label only appears in errors.
func Select(label string, available []string, selector string) (*Selection, error) {
	valid, originals, invalid := partition(available)
	sel := &Selection{Invalid: invalid}

	if len(valid) == 0 {
		return nil, &VersionResolutionError{
			Label:     label,
			Requested: selector,
			Available: available,
			Reason:    "no valid versions are available",
		}
	}

	var chosen *semver.Version
	if exact, ok := IsExact(selector); ok {
		for _, v := range valid {
			if v.String() == exact || v.Original() == exact {
				chosen = v
				break
			}
		}
		if chosen == nil {
			return nil, &VersionResolutionError{
				Label:     label,
				Requested: selector,
				Available: originalList(valid, originals),
				Reason:    "the requested version is not available",
			}
		}
	} else {
		var check func(*semver.Version) bool
		if IsAny(selector) {
			check = func(*semver.Version) bool { return true }
		} else {
			c, err := ParseRange(selector)
			if err != nil {
				return nil, &VersionResolutionError{
					Label:     label,
					Requested: selector,
					Reason:    err.Error(),
				}
			}
			check = c.Check
		}
		for _, v := range valid {
			if check(v) && (chosen == nil || v.GreaterThan(chosen)) {
				chosen = v
			}
		}
		if chosen == nil {
			return nil, &VersionResolutionError{
				Label:     label,
				Requested: selector,
				Available: originalList(valid, originals),
				Reason:    "no available version matches",
			}
		}
	}

	origs := originals[chosen.Original()]
	if len(origs) > 1 {
		return nil, &VersionResolutionError{
			Label:     label,
			Requested: selector,
			Available: origs,
			Reason:    fmt.Sprintf("version %s is advertised under more than one name", chosen.Original()),
		}
	}

	sel.Version = origs[0]
	sel.Normalized = chosen.Original()
	return sel, nil
}

// Latest selects the greatest advertised version. When nothing at all is
// advertised it falls back to defaultBranch, or DefaultBranch when that is
// empty.
func Latest(label string, available []string, defaultBranch string) (*Selection, error) {
	if len(available) == 0 {
		if defaultBranch == "" {
			defaultBranch = DefaultBranch
		}
		return &Selection{Version: defaultBranch, Normalized: defaultBranch, Branch: true}, nil
	}
	return Select(label, available, AnyVersion)
}

// partition splits the advertised list into parsed valid versions (keyed by
// their normalized form via Original) and the invalid originals.
func partition(available []string) ([]*semver.Version, map[string][]string, []string) {
	normalized, originals := NormalizeAll(available)
	seen := make(map[string]bool, len(normalized))
	var (
		valid   []*semver.Version
		invalid []string
	)
	for i, n := range normalized {
		v, err := semver.StrictNewVersion(n)
		if err != nil {
			invalid = append(invalid, available[i])
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		valid = append(valid, v)
	}
	return valid, originals, invalid
}

func originalList(valid []*semver.Version, originals map[string][]string) []string {
	out := make([]string, 0, len(valid))
	for _, v := range valid {
		out = append(out, originals[v.Original()]...)
	}
	SortDescending(out)
	return out
}
