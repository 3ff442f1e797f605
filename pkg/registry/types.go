// SPDX-License-Identifier: MPL-2.0

package registry

type (
	// Collection is the registry entry of one collection.
	Collection struct {
		Namespace     string
		Name          string
		Href          string
		VersionsURL   string
		LatestVersion *VersionRef // nil when nothing is published
		Deprecated    bool
	}

	// VersionRef is one row of a version listing.
	VersionRef struct {
		Version string
		Href    string
	}

	// VersionDetail describes one published version.
	VersionDetail struct {
		Namespace   string
		Name        string
		Version     string
		Href        string
		DownloadURL string
		// SHA256 is the lowercase hex digest of the artifact, empty when the
		// registry did not publish one.
		SHA256       string
		Dependencies map[string]string
	}

	wireNamed struct {
		Name string `json:"name"`
	}

	wireVersionRef struct {
		Version string `json:"version"`
		Href    string `json:"href"`
	}

	wireCollection struct {
		Href          string          `json:"href"`
		Name          string          `json:"name"`
		Namespace     wireNamed       `json:"namespace"`
		VersionsURL   string          `json:"versions_url"`
		LatestVersion *wireVersionRef `json:"latest_version"`
		Deprecated    bool            `json:"deprecated"`
	}

	wireVersionPage struct {
		Count    int              `json:"count"`
		Next     *string          `json:"next"`
		Previous *string          `json:"previous"`
		Results  []wireVersionRef `json:"results"`
	}

	wireVersionDetail struct {
		Href        string    `json:"href"`
		Version     string    `json:"version"`
		DownloadURL string    `json:"download_url"`
		Namespace   wireNamed `json:"namespace"`
		Collection  wireNamed `json:"collection"`
		Artifact    struct {
			Filename string `json:"filename"`
			SHA256   string `json:"sha256"`
			Size     int64  `json:"size"`
		} `json:"artifact"`
		Metadata struct {
			Dependencies map[string]string `json:"dependencies"`
		} `json:"metadata"`
	}
)

// Label returns "namespace.name".
func (c *Collection) Label() string { return c.Namespace + "." + c.Name }
