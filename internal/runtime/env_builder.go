// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"maps"
	"os"
	"path"
	"strings"

	"github.com/envrun/envrun/pkg/types"
)

const (
	// EnvVarEnvName is set to the concrete environment ID.
	EnvVarEnvName = "ENVRUN_ENV_NAME"
	// EnvVarEnvDir is set to the environment directory.
	EnvVarEnvDir = "ENVRUN_ENV_DIR"
	// EnvVarVirtualEnv is set to the environment directory for Python tooling.
	EnvVarVirtualEnv = "VIRTUAL_ENV"
)

type (
	// EnvSpec describes the environment of one isolated environment.
	EnvSpec struct {
		// EnvID is the concrete environment ID.
		EnvID string
		// EnvDir is the environment directory.
		EnvDir string
		// BinDir is prepended to PATH when set.
		BinDir string
		// BasePath is the PATH BinDir is prepended to when the invoker's PATH
		// is not passed through (container environments).
		BasePath string
		// DefaultPassEnv is the configured baseline allow-list.
		DefaultPassEnv []string
		// PassEnv is the environment's own allow-list. Entries may be glob
		// patterns (CI_*).
		PassEnv []string
		// EnvFiles are dotenv files, resolved against BaseDir.
		EnvFiles []string
		// BaseDir resolves relative EnvFiles.
		BaseDir string
		// SetEnv are the environment's explicit values.
		SetEnv map[string]string
		// Overrides are --env-var values from the command line.
		Overrides map[string]string
		// PathSeparator joins PATH entries. Defaults to os.PathListSeparator.
		PathSeparator string
	}

	// EnvBuilder builds command environments. Precedence, later wins:
	//
	//  1. invoker variables named in DefaultPassEnv
	//  2. invoker variables matching PassEnv
	//  3. runtime variables (VIRTUAL_ENV, ENVRUN_ENV_NAME, ENVRUN_ENV_DIR, PATH)
	//  4. EnvFiles, in order
	//  5. SetEnv
	//  6. Overrides
	//
	// Invoker variables that are not set are never added.
	EnvBuilder struct {
		// Environ returns the invoker environment as "KEY=VALUE" strings.
		// When nil, os.Environ() is used.
		Environ func() []string
	}
)

// NewEnvBuilder creates an EnvBuilder reading the process environment.
func NewEnvBuilder() *EnvBuilder {
	return &EnvBuilder{}
}

// Build returns a fresh environment map for spec.
func (b *EnvBuilder) Build(spec EnvSpec) (map[string]string, error) {
	invoker := b.invokerEnv()
	env := make(map[string]string)

	passThrough(env, invoker, spec.DefaultPassEnv)
	passThrough(env, invoker, spec.PassEnv)

	if spec.EnvID != "" {
		env[EnvVarEnvName] = spec.EnvID
	}
	if spec.EnvDir != "" {
		env[EnvVarEnvDir] = spec.EnvDir
		env[EnvVarVirtualEnv] = spec.EnvDir
	}
	if spec.BinDir != "" {
		env["PATH"] = prependPath(spec, env["PATH"])
	}

	for _, file := range spec.EnvFiles {
		if err := LoadEnvFile(env, file, spec.BaseDir); err != nil {
			return nil, err
		}
	}

	maps.Copy(env, spec.SetEnv)
	maps.Copy(env, spec.Overrides)

	return env, nil
}

func (b *EnvBuilder) invokerEnv() map[string]string {
	environ := b.Environ
	if environ == nil {
		environ = os.Environ
	}
	env := make(map[string]string)
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

// passThrough copies invoker variables named by allow into env. Entries
// containing glob metacharacters match with path.Match.
func passThrough(env, invoker map[string]string, allow []string) {
	for _, name := range allow {
		if !types.EnvVarName(name).IsPattern() {
			if v, ok := invoker[name]; ok {
				env[name] = v
			}
			continue
		}
		for k, v := range invoker {
			if matched, err := path.Match(name, k); err == nil && matched {
				env[k] = v
			}
		}
	}
}

func prependPath(spec EnvSpec, current string) string {
	sep := spec.PathSeparator
	if sep == "" {
		sep = string(os.PathListSeparator)
	}
	if current == "" {
		current = spec.BasePath
	}
	if current == "" {
		return spec.BinDir
	}
	return spec.BinDir + sep + current
}
