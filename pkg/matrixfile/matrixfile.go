// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// RuntimeNative runs commands with the host shell.
	RuntimeNative RuntimeMode = "native"
	// RuntimeVirtual runs commands with the embedded POSIX interpreter.
	RuntimeVirtual RuntimeMode = "virtual"
	// RuntimeContainer runs commands inside a container started from Definition.Image.
	RuntimeContainer RuntimeMode = "container"

	// PosargsMarker is replaced by the run's pass-through arguments when it
	// appears in an environment's final command.
	PosargsMarker = "{posargs}"
)

// ErrInvalidRuntimeMode is the sentinel error wrapped by InvalidRuntimeModeError.
var ErrInvalidRuntimeMode = errors.New("invalid runtime mode")

type (
	// RuntimeMode selects how an environment's commands are executed.
	RuntimeMode string

	// InvalidRuntimeModeError is returned when a RuntimeMode value is not recognized.
	InvalidRuntimeModeError struct {
		Value RuntimeMode
	}

	// Matrixfile is a parsed matrix file.
	Matrixfile struct {
		WorkDir       string       `json:"work_dir" toml:"work_dir"`
		PackageRoot   string       `json:"package_root" toml:"package_root"`
		VersionPrefix string       `json:"version_prefix" toml:"version_prefix"`
		EnvList       []string     `json:"env_list,omitempty" toml:"env_list,omitempty"`
		Envs          []Definition `json:"envs" toml:"envs"`

		// FilePath is the file the matrix was read from. Empty for in-memory sources.
		FilePath string `json:"-" toml:"-"`
	}

	// Definition declares one environment, possibly expanded over Versions.
	Definition struct {
		Name        string            `json:"name" toml:"name"`
		Description string            `json:"description,omitempty" toml:"description,omitempty"`
		Versions    []string          `json:"versions,omitempty" toml:"versions,omitempty"`
		Extras      []string          `json:"extras,omitempty" toml:"extras,omitempty"`
		Deps        []string          `json:"deps,omitempty" toml:"deps,omitempty"`
		SkipInstall bool              `json:"skip_install" toml:"skip_install"`
		PassEnv     []string          `json:"pass_env,omitempty" toml:"pass_env,omitempty"`
		SetEnv      map[string]string `json:"set_env,omitempty" toml:"set_env,omitempty"`
		EnvFiles    []string          `json:"env_files,omitempty" toml:"env_files,omitempty"`
		Commands    []string          `json:"commands" toml:"commands"`
		Depends     []string          `json:"depends,omitempty" toml:"depends,omitempty"`
		Runtime     RuntimeMode       `json:"runtime,omitempty" toml:"runtime,omitempty"`
		Image       string            `json:"image,omitempty" toml:"image,omitempty"`
		ChangeDir   string            `json:"change_dir,omitempty" toml:"change_dir,omitempty"`
	}

	// Command is one parsed entry of Definition.Commands.
	Command struct {
		// Script is the shell text to run.
		Script string
		// IgnoreExit is set by a leading "- ": a non-zero exit is recorded but
		// does not fail the environment.
		IgnoreExit bool
	}
)

// Error implements the error interface.
func (e *InvalidRuntimeModeError) Error() string {
	return fmt.Sprintf("invalid runtime mode %q (valid: native, virtual, container)", string(e.Value))
}

// Unwrap returns ErrInvalidRuntimeMode for errors.Is() compatibility.
func (e *InvalidRuntimeModeError) Unwrap() error { return ErrInvalidRuntimeMode }

// String returns the mode name.
func (m RuntimeMode) String() string { return string(m) }

// IsValid reports whether the mode is one of the defined runtimes.
func (m RuntimeMode) IsValid() (bool, []error) {
	switch m {
	case RuntimeNative, RuntimeVirtual, RuntimeContainer:
		return true, nil
	default:
		return false, []error{&InvalidRuntimeModeError{Value: m}}
	}
}

// BaseDir is the directory relative paths in the matrix file resolve against.
func (m *Matrixfile) BaseDir() string {
	if m.FilePath == "" {
		return "."
	}
	return filepath.Dir(m.FilePath)
}

// ResolvePath resolves p against BaseDir unless it is absolute.
func (m *Matrixfile) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.BaseDir(), filepath.FromSlash(p))
}

// EffectiveRuntime returns the runtime an environment with the given image
// and declared runtime runs with when the caller's default is fallback. An
// image always implies the container runtime.
func EffectiveRuntime(image string, declared, fallback RuntimeMode) RuntimeMode {
	switch {
	case image != "":
		return RuntimeContainer
	case declared != "":
		return declared
	case fallback != "":
		return fallback
	default:
		return RuntimeNative
	}
}

// ConcreteIDs returns the identifiers the definition expands to, in
// declared version order.
func (d *Definition) ConcreteIDs(prefix string) []string {
	if len(d.Versions) == 0 {
		return []string{d.Name}
	}
	ids := make([]string, len(d.Versions))
	for i, v := range d.Versions {
		ids[i] = ConcreteID(d.Name, v, prefix)
	}
	return ids
}

// ConcreteID names one point of a definition's version axis: the version's
// dots are dropped and, for purely numeric versions, prefix is prepended
// ("coretest", "3.10", "py" -> "coretest-py310"; "pypy3.10" -> "coretest-pypy310").
func ConcreteID(name, version, prefix string) string {
	if version == "" {
		return name
	}
	factor := strings.ReplaceAll(version, ".", "")
	if first := []rune(version)[0]; unicode.IsDigit(first) {
		factor = prefix + factor
	}
	return name + "-" + factor
}

// ParseCommand splits the ignore-exit marker off a command entry.
func ParseCommand(entry string) Command {
	trimmed := strings.TrimLeftFunc(entry, unicode.IsSpace)
	if len(trimmed) > 1 && trimmed[0] == '-' && (trimmed[1] == ' ' || trimmed[1] == '\t') {
		return Command{Script: strings.TrimSpace(trimmed[1:]), IgnoreExit: true}
	}
	return Command{Script: entry}
}
