// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	ConfigLoadFailedId Id = iota + 1
	RequirementsInvalidId
	CollectionNotFoundId
	VersionNotFoundId
	NamespaceRequiredId
	ChecksumMismatchId
	ContentExistsId
	RegistryUnavailableId
	SCMToolMissingId
	CollectionInfoInvalidId
	ArtifactExistsId
	PermissionDeniedId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	// Issue is a Markdown remediation guide for one class of failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render formats the guide for a terminal using the named glamour style.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show the effective configuration:
~~~
$ stowage config show
~~~
- Compare your file with the defaults and fix the reported field
- Unset ` + "`STOWAGE_*`" + ` environment variables that hold invalid values`,
	}

	requirementsInvalidIssue = &Issue{
		id: RequirementsInvalidId,
		mdMsg: `
# Invalid requirements file!

Each entry needs a ` + "`name`" + ` and may pin a ` + "`version`" + ` range or a ` + "`source`" + `.

## Example:
~~~yaml
collections:
  - name: community.general
    version: ">=7.0.0,<8.0.0"
  - name: git+https://github.com/acme/tools.git
    version: main
~~~`,
	}

	collectionNotFoundIssue = &Issue{
		id: CollectionNotFoundId,
		mdMsg: `
# Collection not found!

The server has no collection with that namespace and name.

## Things you can try:
- Check the spelling; names are ` + "`namespace.name`" + ` in lowercase
- Point at a different server with ` + "`--server`" + ` or ` + "`server.url`" + ` in the config`,
	}

	versionNotFoundIssue = &Issue{
		id: VersionNotFoundId,
		mdMsg: `
# No matching version!

None of the published versions satisfies the requested range.

## Things you can try:
- List the published versions:
~~~
$ stowage info namespace.name
~~~
- Relax the range, for example ` + "`>=1.0.0`" + ` instead of ` + "`==1.0.0`",
	}

	namespaceRequiredIssue = &Issue{
		id: NamespaceRequiredId,
		mdMsg: `
# Namespace required!

Role sources have no namespace of their own, so stowage cannot decide
where to install them.

## Things you can try:
- Pass a namespace explicitly:
~~~
$ stowage install --namespace acme git+https://github.com/acme/role.git
~~~`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Checksum mismatch!

The downloaded artifact does not match the digest advertised for it.
Nothing was installed.

## Things you can try:
- Retry; a proxy or mirror may have served a truncated file
- Report the problem to the server operator if it persists`,
	}

	contentExistsIssue = &Issue{
		id: ContentExistsId,
		mdMsg: `
# Collection already installed!

A different version of the collection occupies the install path.

## Things you can try:
- Replace it:
~~~
$ stowage install --force namespace.name
~~~
- Or remove it first with ` + "`stowage remove namespace.name`",
	}

	registryUnavailableIssue = &Issue{
		id: RegistryUnavailableId,
		mdMsg: `
# Server unavailable!

The collection server could not be reached or kept failing.

## Things you can try:
- Check your network and proxy settings (` + "`HTTPS_PROXY`" + `)
- Raise ` + "`http.timeout`" + ` or ` + "`http.max_retries`" + ` in the config
- Use ` + "`--ignore-certs`" + ` only for servers with self-signed certificates`,
	}

	scmToolMissingIssue = &Issue{
		id: SCMToolMissingId,
		mdMsg: `
# Source control tool missing!

Mercurial sources need the ` + "`hg`" + ` binary on your PATH.

## Things you can try:
- Install Mercurial with your package manager
- Use a git source or a published artifact instead`,
		extLinks: []HttpLink{"https://www.mercurial-scm.org/downloads"},
	}

	collectionInfoInvalidIssue = &Issue{
		id: CollectionInfoInvalidId,
		mdMsg: `
# Invalid galaxy.yml!

Required fields are missing or malformed.

## Minimal example:
~~~yaml
namespace: acme
name: tools
version: 1.0.0
license: MIT
~~~`,
	}

	artifactExistsIssue = &Issue{
		id: ArtifactExistsId,
		mdMsg: `
# Artifact already built!

An artifact for this version is already in the output directory.

## Things you can try:
- Bump ` + "`version`" + ` in galaxy.yml
- Overwrite it with ` + "`stowage build --force`",
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

stowage could not write to the collections directory.

## Things you can try:
- Choose a directory you own with ` + "`--collections-path`" + `
- Check the ownership of ` + "`~/.stowage`",
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():      configLoadFailedIssue,
		requirementsInvalidIssue.Id():   requirementsInvalidIssue,
		collectionNotFoundIssue.Id():    collectionNotFoundIssue,
		versionNotFoundIssue.Id():       versionNotFoundIssue,
		namespaceRequiredIssue.Id():     namespaceRequiredIssue,
		checksumMismatchIssue.Id():      checksumMismatchIssue,
		contentExistsIssue.Id():         contentExistsIssue,
		registryUnavailableIssue.Id():   registryUnavailableIssue,
		scmToolMissingIssue.Id():        scmToolMissingIssue,
		collectionInfoInvalidIssue.Id(): collectionInfoInvalidIssue,
		artifactExistsIssue.Id():        artifactExistsIssue,
		permissionDeniedIssue.Id():      permissionDeniedIssue,
	}
)

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	ids := make([]Id, 0, len(issues))
	for id := range maps.Keys(issues) {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
