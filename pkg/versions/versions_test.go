// SPDX-License-Identifier: MPL-2.0

package versions

import (
	"errors"
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"v1.2.3", "1.2.3"},
		{"V1.2", "1.2"},
		{"1.2.3", "1.2.3"},
		{"vAlpha-1.1.2", "vAlpha-1.1.2"},
		{"v", "v"},
		{"vv1.0.0", "vv1.0.0"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	t.Parallel()

	normalized, originals := NormalizeAll([]string{"v1.0.0", "1.0.0", "2.0.0"})
	if !slices.Equal(normalized, []string{"1.0.0", "1.0.0", "2.0.0"}) {
		t.Fatalf("normalized = %v", normalized)
	}
	if got := originals["1.0.0"]; !slices.Equal(got, []string{"v1.0.0", "1.0.0"}) {
		t.Errorf("originals[1.0.0] = %v", got)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	available := []string{"0.0.1", "0.0.11", "0.5.1", "3.0.0"}

	tests := []struct {
		name     string
		selector string
		want     string
	}{
		{"any", "*", "3.0.0"},
		{"empty selector", "", "3.0.0"},
		{"exact with equals", "=0.5.1", "0.5.1"},
		{"exact bare", "0.0.11", "0.0.11"},
		{"range", ">=0.1.0,<1.0.0", "0.5.1"},
		{"not equal", "!=3.0.0", "0.5.1"},
		{"double equals", "==0.0.1", "0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sel, err := Select("ns.name", available, tt.selector)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if sel.Version != tt.want {
				t.Errorf("Select() = %q, want %q", sel.Version, tt.want)
			}
		})
	}
}

func TestSelectExactAmongNeighbours(t *testing.T) {
	t.Parallel()

	sel, err := Select("ns.name", []string{"1.2.2", "1.2.3", "1.2.4"}, "1.2.3")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Version != "1.2.3" {
		t.Errorf("Select() = %q, want 1.2.3", sel.Version)
	}
}

func TestSelectReturnsOriginalForm(t *testing.T) {
	t.Parallel()

	sel, err := Select("ns.name", []string{"v1.0.0", "v1.1.0"}, "1.0.0")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Version != "v1.0.0" || sel.Normalized != "1.0.0" {
		t.Errorf("Select() = %+v", sel)
	}
}

func TestSelectErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		available []string
		selector  string
	}{
		{"empty list", nil, "*"},
		{"only invalid", []string{"latest", "devel"}, "*"},
		{"exact missing", []string{"1.0.0"}, "2.0.0"},
		{"range unsatisfied", []string{"1.0.0"}, ">=2.0.0"},
		{"ambiguous", []string{"v1.2.3", "1.2.3"}, "1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Select("ns.name", tt.available, tt.selector)
			if !errors.Is(err, ErrVersionResolution) {
				t.Fatalf("Select() error = %v, want ErrVersionResolution", err)
			}
			var vre *VersionResolutionError
			if !errors.As(err, &vre) || vre.Label != "ns.name" {
				t.Errorf("error = %#v, want label ns.name", err)
			}
		})
	}
}

func TestSelectReportsInvalid(t *testing.T) {
	t.Parallel()

	sel, err := Select("ns.name", []string{"1.0.0", "nightly", "2.0"}, "*")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Version != "1.0.0" {
		t.Errorf("Version = %q", sel.Version)
	}
	if !slices.Equal(sel.Invalid, []string{"nightly", "2.0"}) {
		t.Errorf("Invalid = %v", sel.Invalid)
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()

	t.Run("max", func(t *testing.T) {
		t.Parallel()
		sel, err := Latest("ns.name", []string{"1.0.0", "v2.1.0", "2.0.0"}, "")
		if err != nil {
			t.Fatal(err)
		}
		if sel.Version != "v2.1.0" || sel.Branch {
			t.Errorf("Latest() = %+v", sel)
		}
	})

	t.Run("default branch", func(t *testing.T) {
		t.Parallel()
		sel, err := Latest("ns.name", nil, "")
		if err != nil {
			t.Fatal(err)
		}
		if sel.Version != DefaultBranch || !sel.Branch {
			t.Errorf("Latest() = %+v", sel)
		}
	})

	t.Run("transport branch", func(t *testing.T) {
		t.Parallel()
		sel, err := Latest("ns.name", nil, "main")
		if err != nil {
			t.Fatal(err)
		}
		if sel.Version != "main" {
			t.Errorf("Latest() = %+v", sel)
		}
	})
}

func TestSatisfies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		spec    string
		want    bool
	}{
		{"1.0.0", "*", true},
		{"garbage", "*", true},
		{"1.0.0", "1.0.0", true},
		{"v1.0.0", "=1.0.0", true},
		{"1.0.1", "1.0.0", false},
		{"1.5.0", ">=1.0.0,<2.0.0", true},
		{"2.0.0", ">=1.0.0,<2.0.0", false},
		{"garbage", ">=1.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.version+" "+tt.spec, func(t *testing.T) {
			t.Parallel()
			if got := Satisfies(tt.version, tt.spec); got != tt.want {
				t.Errorf("Satisfies(%q, %q) = %v, want %v", tt.version, tt.spec, got, tt.want)
			}
		})
	}
}

func TestIsExact(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"1.2.3": "1.2.3", "v1.2.3": "1.2.3", "=1.2.3": "1.2.3", "== 1.2.3": "1.2.3"} {
		got, ok := IsExact(in)
		if !ok || got != want {
			t.Errorf("IsExact(%q) = %q, %v", in, got, ok)
		}
	}
	for _, in := range []string{"*", ">=1.0.0", "1.2", "main"} {
		if _, ok := IsExact(in); ok {
			t.Errorf("IsExact(%q) = true", in)
		}
	}
}

func TestSortDescending(t *testing.T) {
	t.Parallel()

	vs := []string{"0.0.1", "v3.0.0", "0.0.11", "junk", "0.5.1"}
	SortDescending(vs)
	want := []string{"v3.0.0", "0.5.1", "0.0.11", "0.0.1", "junk"}
	if !slices.Equal(vs, want) {
		t.Errorf("SortDescending() = %v, want %v", vs, want)
	}
}
