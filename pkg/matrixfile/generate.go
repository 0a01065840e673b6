// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Starter returns the matrix written by `envrun init`: a versioned test
// environment plus lint, type-check, audit and docs environments.
func Starter() *Matrixfile {
	return &Matrixfile{
		WorkDir:       ".envrun",
		PackageRoot:   ".",
		VersionPrefix: "py",
		EnvList:       []string{"coretest", "lint"},
		Envs: []Definition{
			{
				Name:        "coretest",
				Description: "Core test suite",
				Versions:    []string{"3.10", "3.11", "3.12"},
				Extras:      []string{"test"},
				PassEnv:     []string{"CI", "PYTEST_*"},
				SetEnv:      map[string]string{"PYTHONHASHSEED": "0"},
				Commands:    []string{"python -m pytest -p no:warnings {posargs}"},
			},
			{
				Name:        "fulltest",
				Description: "Full test suite with all extras",
				Versions:    []string{"3.10", "3.12"},
				Extras:      []string{"test", "extras"},
				Commands:    []string{"python -m pytest {posargs}"},
			},
			{
				Name:        "lint",
				Description: "Static checks",
				SkipInstall: true,
				Deps:        []string{"ruff"},
				Commands:    []string{"ruff check .", "ruff format --check ."},
			},
			{
				Name:        "mypy",
				Description: "Type checks",
				Extras:      []string{"mypy"},
				Commands:    []string{"python -m mypy"},
			},
			{
				Name:        "audit",
				Description: "Dependency audit",
				Deps:        []string{"pip-audit"},
				Commands:    []string{"- pip-audit"},
			},
			{
				Name:        "docs",
				Description: "Build the documentation",
				Extras:      []string{"docs"},
				Depends:     []string{"lint"},
				Commands:    []string{"python -m sphinx -b html docs build/docs"},
			},
		},
	}
}

// GenerateCUE renders a matrix as envrun.cue source.
func GenerateCUE(mf *Matrixfile) string {
	var sb strings.Builder

	sb.WriteString("// envrun matrix file\n\n")
	fmt.Fprintf(&sb, "work_dir: %q\n", mf.WorkDir)
	fmt.Fprintf(&sb, "package_root: %q\n", mf.PackageRoot)
	fmt.Fprintf(&sb, "version_prefix: %q\n", mf.VersionPrefix)
	if len(mf.EnvList) > 0 {
		fmt.Fprintf(&sb, "env_list: %s\n", cueList(mf.EnvList))
	}

	sb.WriteString("\nenvs: [\n")
	for i := range mf.Envs {
		generateDefinition(&sb, &mf.Envs[i])
	}
	sb.WriteString("]\n")
	return sb.String()
}

// GenerateTOML renders a matrix as envrun.toml source.
func GenerateTOML(mf *Matrixfile) (string, error) {
	out, err := toml.Marshal(mf)
	if err != nil {
		return "", fmt.Errorf("failed to render TOML: %w", err)
	}
	return "# envrun matrix file\n\n" + string(out), nil
}

func generateDefinition(sb *strings.Builder, def *Definition) {
	sb.WriteString("\t{\n")
	fmt.Fprintf(sb, "\t\tname: %q\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(sb, "\t\tdescription: %q\n", def.Description)
	}
	writeList(sb, "versions", def.Versions)
	writeList(sb, "extras", def.Extras)
	writeList(sb, "deps", def.Deps)
	if def.SkipInstall {
		sb.WriteString("\t\tskip_install: true\n")
	}
	writeList(sb, "pass_env", def.PassEnv)
	if len(def.SetEnv) > 0 {
		sb.WriteString("\t\tset_env: {\n")
		for _, k := range slices.Sorted(maps.Keys(def.SetEnv)) {
			fmt.Fprintf(sb, "\t\t\t%q: %q\n", k, def.SetEnv[k])
		}
		sb.WriteString("\t\t}\n")
	}
	writeList(sb, "env_files", def.EnvFiles)
	writeList(sb, "commands", def.Commands)
	writeList(sb, "depends", def.Depends)
	if def.Runtime != "" {
		fmt.Fprintf(sb, "\t\truntime: %q\n", def.Runtime)
	}
	if def.Image != "" {
		fmt.Fprintf(sb, "\t\timage: %q\n", def.Image)
	}
	if def.ChangeDir != "" {
		fmt.Fprintf(sb, "\t\tchange_dir: %q\n", def.ChangeDir)
	}
	sb.WriteString("\t},\n")
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\t\t%s: %s\n", key, cueList(values))
}

func cueList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
