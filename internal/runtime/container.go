// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"strings"

	"github.com/envrun/envrun/internal/container"
	"github.com/envrun/envrun/pkg/types"
)

// ContainerRuntime runs commands inside an already started environment
// container.
type ContainerRuntime struct {
	engine container.Engine
}

// NewContainerRuntime creates a container runtime backed by engine.
func NewContainerRuntime(engine container.Engine) *ContainerRuntime {
	return &ContainerRuntime{engine: engine}
}

// Name returns the runtime name.
func (r *ContainerRuntime) Name() string {
	return string(RuntimeTypeContainer)
}

// Engine returns the container engine.
func (r *ContainerRuntime) Engine() container.Engine {
	return r.engine
}

// Available reports whether the engine is usable.
func (r *ContainerRuntime) Available() bool {
	return r.engine != nil && r.engine.Available()
}

// Validate checks for a script and a running container.
func (r *ContainerRuntime) Validate(ec *ExecutionContext) error {
	if strings.TrimSpace(ec.Script) == "" {
		return errors.New("script has no content to execute")
	}
	if ec.ContainerID == "" {
		return errors.New("no environment container is running")
	}
	return nil
}

// Execute runs the script with /bin/sh inside the container.
func (r *ContainerRuntime) Execute(ec *ExecutionContext) *Result {
	if err := r.Validate(ec); err != nil {
		return NewErrorResult(types.ExitFailure, err)
	}

	var captured capturedOutput
	stdout, stderr := captured.writers(ec)

	ctx := ec.context()
	res, err := r.engine.Exec(ctx, ec.ContainerID, container.ExecOptions{
		Command: []string{"/bin/sh", "-c", ec.Script},
		WorkDir: ec.WorkDir,
		Env:     ec.Env,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err == nil && res.ExitCode != 0 {
		err = &containerExitError{code: res.ExitCode}
	}
	return captured.result(ctx, err, containerExitCode)
}

type containerExitError struct{ code int }

func (e *containerExitError) Error() string { return "container command exited non-zero" }

func containerExitCode(err error) (int, bool) {
	var exitErr *containerExitError
	if errors.As(err, &exitErr) {
		return exitErr.code, true
	}
	return 0, false
}
