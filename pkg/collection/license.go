// SPDX-License-Identifier: MPL-2.0

package collection

import (
	"fmt"

	"github.com/github/go-spdx/v2/spdxexp"
)

// deprecatedLicenseIDs are SPDX identifiers that the license list has
// replaced with "-only"/"-or-later" forms or retired outright.
var deprecatedLicenseIDs = map[string]bool{
	"AGPL-1.0":                        true,
	"AGPL-3.0":                        true,
	"BSD-2-Clause-FreeBSD":            true,
	"BSD-2-Clause-NetBSD":             true,
	"eCos-2.0":                        true,
	"GFDL-1.1":                        true,
	"GFDL-1.2":                        true,
	"GFDL-1.3":                        true,
	"GPL-1.0":                         true,
	"GPL-1.0+":                        true,
	"GPL-2.0":                         true,
	"GPL-2.0+":                        true,
	"GPL-2.0-with-GCC-exception":      true,
	"GPL-2.0-with-autoconf-exception": true,
	"GPL-3.0":                         true,
	"GPL-3.0+":                        true,
	"LGPL-2.0":                        true,
	"LGPL-2.0+":                       true,
	"LGPL-2.1":                        true,
	"LGPL-2.1+":                       true,
	"LGPL-3.0":                        true,
	"LGPL-3.0+":                       true,
	"Nunit":                           true,
	"StandardML-NJ":                   true,
	"wxWindows":                       true,
}

// CheckLicense returns a warning for an unknown or deprecated SPDX license
// identifier, or "" when id is acceptable. A missing license is reported
// too.
func CheckLicense(id string) string {
	if id == "" {
		return "no license is set; use an SPDX license identifier"
	}
	if deprecatedLicenseIDs[id] {
		return fmt.Sprintf("license %q is a deprecated SPDX identifier", id)
	}
	if ok, invalid := spdxexp.ValidateLicenses([]string{id}); !ok || len(invalid) > 0 {
		return fmt.Sprintf("license %q is not a known SPDX identifier", id)
	}
	return ""
}
