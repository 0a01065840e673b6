// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/envrun/envrun/pkg/cueutil"
	"github.com/envrun/envrun/pkg/types"
)

// ValidationErrors collects every problem found in a matrix file.
type ValidationErrors []*cueutil.ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "no validation errors"
	case 1:
		return v[0].Error()
	}
	lines := make([]string, len(v))
	for i, e := range v {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(v), strings.Join(lines, "\n  "))
}

// Validate checks the rules the schema cannot express: names that are not
// just dots, unique definition names, unique versions, known `depends` and `env_list` references, valid
// variable names, and runtime/image consistency.
func (m *Matrixfile) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, &cueutil.ValidationError{
			FilePath: m.displayPath(),
			CUEPath:  path,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if len(m.Envs) == 0 {
		add("envs", "at least one environment is required")
	}

	known := make(map[string]string)
	names := make(map[string]bool, len(m.Envs))
	for i := range m.Envs {
		def := &m.Envs[i]
		base := fmt.Sprintf("envs[%d]", i)

		if isDotName(def.Name) {
			add(base+".name", "environment name %q is reserved", def.Name)
		}
		if names[def.Name] {
			add(base+".name", "duplicate environment name %q", def.Name)
		}
		names[def.Name] = true
		known[def.Name] = def.Name

		seenVersions := make(map[string]bool, len(def.Versions))
		for j, v := range def.Versions {
			if isDotName(v) {
				add(fmt.Sprintf("%s.versions[%d]", base, j), "version %q has no version digits", v)
			}
			if seenVersions[v] {
				add(fmt.Sprintf("%s.versions[%d]", base, j), "duplicate version %q", v)
			}
			seenVersions[v] = true
		}
		if len(def.Versions) > 0 {
			for _, id := range def.ConcreteIDs(m.VersionPrefix) {
				known[id] = def.Name
			}
		}

		for j, name := range def.PassEnv {
			if err := types.EnvVarName(name).Validate(); err != nil {
				add(fmt.Sprintf("%s.pass_env[%d]", base, j), "%v", err)
			}
		}
		for _, name := range sortedKeys(def.SetEnv) {
			if err := types.EnvVarName(name).Validate(); err != nil {
				add(base+".set_env", "%v", err)
			}
		}
		if def.Runtime != "" {
			if ok, rtErrs := def.Runtime.IsValid(); !ok {
				add(base+".runtime", "%v", rtErrs[0])
			}
		}
		if def.Runtime == RuntimeContainer && def.Image == "" {
			add(base+".image", "runtime \"container\" requires an image")
		}
		if def.Image != "" && def.Runtime != "" && def.Runtime != RuntimeContainer {
			add(base+".runtime", "image %q requires runtime \"container\", got %q", def.Image, def.Runtime)
		}
		for j, entry := range def.Commands {
			if ParseCommand(entry).Script == "" {
				add(fmt.Sprintf("%s.commands[%d]", base, j), "command is empty")
			}
		}
	}

	for i := range m.Envs {
		def := &m.Envs[i]
		for j, dep := range def.Depends {
			owner, ok := known[dep]
			path := fmt.Sprintf("envs[%d].depends[%d]", i, j)
			switch {
			case !ok:
				add(path, "unknown environment %q", dep)
			case owner == def.Name:
				add(path, "environment %q cannot depend on itself", def.Name)
			}
		}
	}

	for i, name := range m.EnvList {
		if _, ok := known[name]; !ok {
			add(fmt.Sprintf("env_list[%d]", i), "unknown environment %q", name)
		}
	}

	return errs
}

func (m *Matrixfile) displayPath() string {
	if m.FilePath == "" {
		return "<input>"
	}
	return m.FilePath
}

// isDotName reports names such as "." and ".." that address directories
// rather than naming anything.
func isDotName(name string) bool {
	return name != "" && strings.Trim(name, ".") == ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
