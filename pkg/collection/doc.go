// SPDX-License-Identifier: MPL-2.0

// Package collection defines the data model shared by every stowage
// component: requirement and repository identities, installed repositories,
// and the metadata files they carry (galaxy.yml, MANIFEST.json,
// requirements.yml, meta/main.yml and the install record).
package collection
