// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/envrun/envrun/internal/runtime"
)

// Installer step names.
const (
	StepCreate         Step = "create"
	StepInstallDeps    Step = "install_deps"
	StepInstallPackage Step = "install_package"
	// StepStartContainer is reported when the environment container fails to start.
	StepStartContainer Step = "start_container"
	// StepEnvironment is reported when the variable set cannot be built.
	StepEnvironment Step = "environment"
)

// Installer variables passed to every step.
const (
	VarEnvDir      = "ENVRUN_ENV_DIR"
	VarVersion     = "ENVRUN_VERSION"
	VarPython      = "ENVRUN_PYTHON"
	VarExtras      = "ENVRUN_EXTRAS"
	VarDeps        = "ENVRUN_DEPS"
	VarPackageRoot = "ENVRUN_PACKAGE_ROOT"
)

type (
	// Step is one phase of populating an environment directory.
	Step string

	// Installer runs installer steps. vars is the complete environment of
	// the step, installer variables included.
	Installer interface {
		Run(ctx context.Context, step Step, vars map[string]string) error
	}

	// Scripts maps installer steps to shell scripts. A step without a
	// script is skipped.
	Scripts map[Step]string

	// ScriptInstaller runs each step's script through a runtime.
	ScriptInstaller struct {
		Scripts     Scripts
		Runtime     runtime.Runtime
		WorkDir     string
		ContainerID string
		// Output receives step output as it is produced. May be nil.
		Output io.Writer
	}
)

// String returns the step name.
func (s Step) String() string { return string(s) }

// Run executes the script configured for step.
func (i *ScriptInstaller) Run(ctx context.Context, step Step, vars map[string]string) error {
	script := strings.TrimSpace(i.Scripts[step])
	if script == "" {
		slog.Debug("installer step has no script, skipping", "step", step)
		return nil
	}

	slog.Debug("running installer step", "step", step, "runtime", i.Runtime.Name())
	result := i.Runtime.Execute(&runtime.ExecutionContext{
		Context:     ctx,
		Script:      script,
		WorkDir:     i.WorkDir,
		Env:         vars,
		Stdout:      i.Output,
		Stderr:      i.Output,
		ContainerID: i.ContainerID,
	})
	if result.Error != nil {
		return result.Error
	}
	if !result.ExitCode.IsSuccess() {
		return fmt.Errorf("exit status %d%s", result.ExitCode, stderrTail(result.ErrOutput))
	}
	return nil
}

// stderrTail returns the last non-empty line of stderr, formatted for an
// error suffix.
func stderrTail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return ""
	}
	return ": " + last
}
