// SPDX-License-Identifier: MPL-2.0

package matrixtest

import (
	"maps"

	"github.com/envrun/envrun/internal/matrix"
	"github.com/envrun/envrun/pkg/matrixfile"
)

// Option configures a test environment.
type Option func(*matrix.Environment)

// NewEnvironment creates an environment with the given ID and base name
// equal to the ID. Without options it has no commands.
func NewEnvironment(id string, opts ...Option) matrix.Environment {
	env := matrix.Environment{ID: id, Base: id}
	for _, opt := range opts {
		opt(&env)
	}
	return env
}

// WithCommands sets the command list. Entries use matrix file syntax, so
// a leading "- " marks an ignore-exit command.
func WithCommands(entries ...string) Option {
	return func(e *matrix.Environment) {
		e.Commands = make([]matrixfile.Command, len(entries))
		for i, entry := range entries {
			e.Commands[i] = matrixfile.ParseCommand(entry)
		}
	}
}

// WithDepends sets the environments this one runs after.
func WithDepends(ids ...string) Option {
	return func(e *matrix.Environment) { e.Depends = ids }
}

// WithVersion sets the base name and version axis value.
func WithVersion(base, version string) Option {
	return func(e *matrix.Environment) { e.Base, e.Version = base, version }
}

// WithDeps sets the extra dependencies.
func WithDeps(deps ...string) Option {
	return func(e *matrix.Environment) { e.Deps = deps }
}

// WithExtras sets the package extras.
func WithExtras(extras ...string) Option {
	return func(e *matrix.Environment) { e.Extras = extras }
}

// WithSkipInstall marks the environment as not installing the package.
func WithSkipInstall() Option {
	return func(e *matrix.Environment) { e.SkipInstall = true }
}

// WithSetEnv adds explicit variables.
func WithSetEnv(vars map[string]string) Option {
	return func(e *matrix.Environment) {
		if e.SetEnv == nil {
			e.SetEnv = make(map[string]string)
		}
		maps.Copy(e.SetEnv, vars)
	}
}

// WithImage runs the environment in a container.
func WithImage(image string) Option {
	return func(e *matrix.Environment) { e.Image = image }
}
