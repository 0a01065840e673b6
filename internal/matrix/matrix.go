// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"maps"
	"slices"
	"strings"

	"github.com/envrun/envrun/internal/dag"
	"github.com/envrun/envrun/pkg/matrixfile"

	"github.com/Masterminds/semver/v3"
)

// SelectAll is the selection name meaning every default environment.
const SelectAll = "ALL"

type (
	// Environment is one concrete, expanded environment. Values are copied
	// out of the matrix file so an Environment shares no mutable state with
	// its source definition.
	Environment struct {
		ID          string
		Base        string
		Version     string
		Description string
		Extras      []string
		Deps        []string
		SkipInstall bool
		PassEnv     []string
		SetEnv      map[string]string
		EnvFiles    []string
		Commands    []matrixfile.Command
		Depends     []string
		Runtime     matrixfile.RuntimeMode
		Image       string
		ChangeDir   string
	}

	// Selection names the environments to run. Each name is a concrete ID
	// or a definition name. An empty selection, or the single name "ALL",
	// selects the matrix's env_list when declared and every environment
	// otherwise.
	Selection []string
)

// ParseSelection splits comma-separated names and drops blanks.
func ParseSelection(values ...string) Selection {
	var sel Selection
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sel = append(sel, part)
			}
		}
	}
	return sel
}

// IsAll reports whether the selection means "the default set".
func (s Selection) IsAll() bool {
	return len(s) == 0 || (len(s) == 1 && strings.EqualFold(s[0], SelectAll))
}

// Expand enumerates every concrete environment of mf: definitions in
// declaration order, each expanded over its versions in ascending version
// order. A definition whose versions are not all semantic versions keeps
// its declared order.
func Expand(mf *matrixfile.Matrixfile) ([]Environment, error) {
	var envs []Environment
	owner := make(map[string]string)

	for i := range mf.Envs {
		def := &mf.Envs[i]
		versions := orderVersions(def.Versions)
		if len(versions) == 0 {
			versions = []string{""}
		}
		for _, v := range versions {
			env := newEnvironment(def, v, mf.VersionPrefix)
			if prev, ok := owner[env.ID]; ok {
				return nil, &DuplicateEnvironmentError{ID: env.ID, First: prev, Second: def.Name}
			}
			owner[env.ID] = def.Name
			envs = append(envs, env)
		}
	}
	return envs, nil
}

// Resolve expands mf and applies sel. The result keeps expansion order,
// except that an environment is moved after any selected environment it
// depends on.
func Resolve(mf *matrixfile.Matrixfile, sel Selection) ([]Environment, error) {
	all, err := Expand(mf)
	if err != nil {
		return nil, err
	}

	if sel.IsAll() {
		if len(mf.EnvList) == 0 {
			return order(all)
		}
		sel = Selection(mf.EnvList)
	}

	byBase := make(map[string][]int)
	byID := make(map[string]int, len(all))
	for i := range all {
		byID[all[i].ID] = i
		byBase[all[i].Base] = append(byBase[all[i].Base], i)
	}

	picked := make(map[int]bool)
	var unknown []string
	for _, name := range sel {
		if idx, ok := byID[name]; ok {
			picked[idx] = true
			continue
		}
		if idxs, ok := byBase[name]; ok {
			for _, idx := range idxs {
				picked[idx] = true
			}
			continue
		}
		if !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, &SelectionError{Unknown: unknown, Known: IDs(all)}
	}

	selected := make([]Environment, 0, len(picked))
	for _, idx := range slices.Sorted(maps.Keys(picked)) {
		selected = append(selected, all[idx])
	}
	return order(selected)
}

// DependenciesOf maps each environment ID to the IDs of the environments in
// envs it must wait for. A depends entry naming a definition waits for
// every selected expansion of that definition.
func DependenciesOf(envs []Environment) map[string][]string {
	byBase := make(map[string][]string)
	present := make(map[string]bool, len(envs))
	for i := range envs {
		present[envs[i].ID] = true
		byBase[envs[i].Base] = append(byBase[envs[i].Base], envs[i].ID)
	}

	deps := make(map[string][]string, len(envs))
	for i := range envs {
		var waits []string
		for _, name := range envs[i].Depends {
			targets := byBase[name]
			if present[name] {
				targets = []string{name}
			}
			for _, id := range targets {
				if id != envs[i].ID && !slices.Contains(waits, id) {
					waits = append(waits, id)
				}
			}
		}
		deps[envs[i].ID] = waits
	}
	return deps
}

// IDs returns the concrete IDs of envs in order.
func IDs(envs []Environment) []string {
	ids := make([]string, len(envs))
	for i := range envs {
		ids[i] = envs[i].ID
	}
	return ids
}

func order(envs []Environment) ([]Environment, error) {
	g := dag.New()
	byID := make(map[string]Environment, len(envs))
	for i := range envs {
		g.AddNode(envs[i].ID)
		byID[envs[i].ID] = envs[i]
	}
	for id, waits := range DependenciesOf(envs) {
		for _, dep := range waits {
			g.AddEdge(dep, id)
		}
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	result := make([]Environment, len(sorted))
	for i, id := range sorted {
		result[i] = byID[id]
	}
	return result, nil
}

func newEnvironment(def *matrixfile.Definition, version, prefix string) Environment {
	commands := make([]matrixfile.Command, len(def.Commands))
	for i, entry := range def.Commands {
		commands[i] = matrixfile.ParseCommand(entry)
	}
	return Environment{
		ID:          matrixfile.ConcreteID(def.Name, version, prefix),
		Base:        def.Name,
		Version:     version,
		Description: def.Description,
		Extras:      slices.Clone(def.Extras),
		Deps:        slices.Clone(def.Deps),
		SkipInstall: def.SkipInstall,
		PassEnv:     slices.Clone(def.PassEnv),
		SetEnv:      maps.Clone(def.SetEnv),
		EnvFiles:    slices.Clone(def.EnvFiles),
		Commands:    commands,
		Depends:     slices.Clone(def.Depends),
		Runtime:     def.Runtime,
		Image:       def.Image,
		ChangeDir:   def.ChangeDir,
	}
}

func orderVersions(declared []string) []string {
	parsed := make([]*semver.Version, len(declared))
	for i, v := range declared {
		sv, err := semver.NewVersion(v)
		if err != nil {
			return slices.Clone(declared)
		}
		parsed[i] = sv
	}

	idx := make([]int, len(declared))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return parsed[a].Compare(parsed[b])
	})

	ordered := make([]string, len(declared))
	for i, j := range idx {
		ordered[i] = declared[j]
	}
	return ordered
}
