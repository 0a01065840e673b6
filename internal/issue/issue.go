// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// ID identifies a catalog issue.
type ID int

const (
	MatrixFileNotFoundID ID = iota + 1
	MatrixFileParseErrorID
	UnknownEnvironmentID
	DependencyResolutionFailedID
	CommandFailedID
	ConfigLoadFailedID
	DependencyCycleID
	ContainerEngineNotFoundID
	RuntimeNotAvailableID
	PermissionDeniedID
)

type (
	// MarkdownMsg is the Markdown body of an issue.
	MarkdownMsg string

	// HTTPLink is a documentation or reference URL.
	HTTPLink string

	// Issue is a catalog entry: user-facing guidance for a class of failure.
	Issue struct {
		id       ID
		mdMsg    MarkdownMsg
		docLinks []HTTPLink
		extLinks []HTTPLink
	}
)

// ID returns the issue identifier.
func (i *Issue) ID() ID {
	return i.id
}

// MarkdownMsg returns the issue text.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HTTPLink {
	return slices.Clone(i.docLinks)
}

// ExtLinks returns a copy of the external links.
func (i *Issue) ExtLinks() []HTTPLink {
	return slices.Clone(i.extLinks)
}

// Markdown returns the issue text with its links appended.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("\n- <" + string(link) + ">")
		}
		for _, link := range i.extLinks {
			sb.WriteString("\n- <" + string(link) + ">")
		}
	}
	return sb.String()
}

// Render renders the issue for the terminal with a glamour style
// ("dark", "light", "notty", or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	return render(i.Markdown(), stylePath)
}

var (
	render = glamour.Render

	matrixFileNotFoundIssue = &Issue{
		id: MatrixFileNotFoundID,
		mdMsg: `
# No matrix file found!

envrun looks for ` + "`envrun.cue`" + `, then ` + "`envrun.toml`" + `, in the current directory.

## Things you can try:
- Create a starter matrix file:
~~~
$ envrun init
~~~

- Or point envrun at an existing file:
~~~
$ envrun run -f path/to/envrun.cue
~~~`,
	}

	matrixFileParseErrorIssue = &Issue{
		id: MatrixFileParseErrorID,
		mdMsg: `
# The matrix file is invalid!

The file could not be parsed or does not match the matrix schema.

## Things you can try:
- Check the reported path and line for the failing field
- Every environment needs a ` + "`name`" + ` and at least one command
- Validate without running anything:
~~~
$ envrun validate
~~~

## Example environment:
~~~cue
envs: [{
    name:     "coretest"
    versions: ["3.11", "3.12"]
    extras:   ["test"]
    commands: ["python -m pytest {posargs}"]
}]
~~~`,
	}

	unknownEnvironmentIssue = &Issue{
		id: UnknownEnvironmentID,
		mdMsg: `
# Unknown environment!

The selection names environments that the matrix does not declare. Nothing was run.

## Things you can try:
- List the available environments:
~~~
$ envrun list
~~~

- Select a whole version axis by its definition name (` + "`coretest`" + `) or one point of it (` + "`coretest-py312`" + `)`,
	}

	dependencyResolutionFailedIssue = &Issue{
		id: DependencyResolutionFailedID,
		mdMsg: `
# Environment setup failed!

An installer step failed while preparing the environment. Other environments were not affected.

## Things you can try:
- Run with ` + "`--verbose`" + ` to see the installer output
- Check that the interpreter for the version axis is installed (` + "`python3.12`" + `)
- Rebuild the environment from scratch:
~~~
$ envrun run --recreate -e <env>
~~~

- Adjust the installer scripts in your configuration:
~~~
$ envrun config show
~~~`,
	}

	commandFailedIssue = &Issue{
		id: CommandFailedID,
		mdMsg: `
# A command failed!

An environment stopped at its first failing command; the summary lists the command and its exit status.

## Things you can try:
- Re-run just that environment:
~~~
$ envrun run -e <env>
~~~

- Prefix a command with ` + "`- `" + ` to record its exit status without failing the environment`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedID,
		mdMsg: `
# Failed to load configuration!

The configuration file or an ` + "`ENVRUN_*`" + ` variable holds an invalid value.

## Things you can try:
- Show where configuration is read from:
~~~
$ envrun config path
~~~

- Write a fresh default file:
~~~
$ envrun config init
~~~`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleID,
		mdMsg: `
# Dependency cycle detected!

Environments that ` + "`depends`" + ` on each other can never start.

## Things you can try:
- Remove one of the ` + "`depends`" + ` entries listed in the cycle`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundID,
		mdMsg: `
# Container engine not found!

An environment declares an ` + "`image`" + `, but neither Podman nor Docker is available.

## Things you can try:
- Install Podman or Docker:
  - Linux: ` + "`sudo apt install podman`" + ` or ` + "`sudo dnf install podman`" + `
  - macOS: ` + "`brew install podman`" + `
- Choose the engine in your configuration:
~~~cue
container_engine: "docker"
~~~`,
		extLinks: []HTTPLink{"https://podman.io/docs/installation", "https://docs.docker.com/engine/install/"},
	}

	runtimeNotAvailableIssue = &Issue{
		id: RuntimeNotAvailableID,
		mdMsg: `
# Runtime not available!

The runtime an environment selected cannot run on this host.

## Things you can try:
- Use the built-in interpreter, which needs no host shell:
~~~
$ envrun run --runtime virtual
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedID,
		mdMsg: `
# Permission denied!

envrun could not write to its working directory or run a command.

## Things you can try:
- Check permissions of the matrix ` + "`work_dir`" + ` (default ` + "`.envrun`" + `)
- For containers, ensure you're in the docker group or use rootless Podman`,
	}

	issues = map[ID]*Issue{
		matrixFileNotFoundIssue.ID():         matrixFileNotFoundIssue,
		matrixFileParseErrorIssue.ID():       matrixFileParseErrorIssue,
		unknownEnvironmentIssue.ID():         unknownEnvironmentIssue,
		dependencyResolutionFailedIssue.ID(): dependencyResolutionFailedIssue,
		commandFailedIssue.ID():              commandFailedIssue,
		configLoadFailedIssue.ID():           configLoadFailedIssue,
		dependencyCycleIssue.ID():            dependencyCycleIssue,
		containerEngineNotFoundIssue.ID():    containerEngineNotFoundIssue,
		runtimeNotAvailableIssue.ID():        runtimeNotAvailableIssue,
		permissionDeniedIssue.ID():           permissionDeniedIssue,
	}
)

// Values returns every catalog issue ordered by ID.
func Values() []*Issue {
	values := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		values = append(values, i)
	}
	slices.SortFunc(values, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return values
}

// Get returns the issue with the given ID, or nil.
func Get(id ID) *Issue {
	return issues[id]
}
