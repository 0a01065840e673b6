// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/envrun/envrun/pkg/matrixfile"
	"github.com/envrun/envrun/pkg/types"
)

// Runtime type constants for different execution environments.
const (
	RuntimeTypeNative    RuntimeType = RuntimeType(matrixfile.RuntimeNative)
	RuntimeTypeVirtual   RuntimeType = RuntimeType(matrixfile.RuntimeVirtual)
	RuntimeTypeContainer RuntimeType = RuntimeType(matrixfile.RuntimeContainer)
)

var (
	// ErrRuntimeNotAvailable is the sentinel wrapped by RuntimeNotAvailableError.
	ErrRuntimeNotAvailable = errors.New("runtime not available")

	// ErrCommandTimeout is returned in Result.Error when a command ran past its deadline.
	ErrCommandTimeout = errors.New("command timed out")
)

type (
	// ExecutionContext is one command invocation.
	ExecutionContext struct {
		// Context cancels the command. A deadline on it is the command timeout.
		Context context.Context
		// Script is the shell text to run.
		Script string
		// WorkDir is the working directory.
		WorkDir string
		// Env is the complete environment of the command.
		Env map[string]string
		// Stdout and Stderr receive a live copy of the output. May be nil.
		Stdout io.Writer
		Stderr io.Writer
		// ContainerID is the running environment container (container runtime only).
		ContainerID string
	}

	// Result is the outcome of one command.
	Result struct {
		// ExitCode is the exit status of the command.
		ExitCode types.ExitCode
		// Error is set when the command could not run to completion
		// (shell missing, timeout, engine failure).
		Error error
		// Output is the captured stdout.
		Output string
		// ErrOutput is the captured stderr.
		ErrOutput string
	}

	// Runtime executes scripts.
	Runtime interface {
		// Name returns the runtime name.
		Name() string
		// Available reports whether this runtime can run on this system.
		Available() bool
		// Validate checks that the script can be executed by this runtime.
		Validate(ec *ExecutionContext) error
		// Execute runs the script and always returns a non-nil Result.
		Execute(ec *ExecutionContext) *Result
	}

	// RuntimeType identifies the type of runtime.
	//
	//nolint:revive // RuntimeType is more descriptive than Type for external callers
	RuntimeType string

	// RuntimeNotAvailableError is returned by Registry.Get.
	RuntimeNotAvailableError struct {
		Type   RuntimeType
		Reason string
	}

	// Registry holds the available runtimes.
	Registry struct {
		runtimes map[RuntimeType]Runtime
	}
)

// Error implements the error interface.
func (e *RuntimeNotAvailableError) Error() string {
	return fmt.Sprintf("runtime %q is not available: %s", string(e.Type), e.Reason)
}

// Unwrap returns ErrRuntimeNotAvailable for errors.Is() compatibility.
func (e *RuntimeNotAvailableError) Unwrap() error { return ErrRuntimeNotAvailable }

// Success reports whether the command exited 0 without an execution error.
func (r *Result) Success() bool {
	return r.ExitCode.IsSuccess() && r.Error == nil
}

// NewErrorResult creates a Result with the given exit code and error.
func NewErrorResult(code types.ExitCode, err error) *Result {
	return &Result{ExitCode: code, Error: err}
}

// NewRegistry creates an empty runtime registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[RuntimeType]Runtime)}
}

// Register adds a runtime to the registry.
func (r *Registry) Register(typ RuntimeType, rt Runtime) {
	r.runtimes[typ] = rt
}

// Get returns the runtime registered for typ if it is available.
func (r *Registry) Get(typ RuntimeType) (Runtime, error) {
	rt, ok := r.runtimes[typ]
	if !ok {
		return nil, &RuntimeNotAvailableError{Type: typ, Reason: "not registered"}
	}
	if !rt.Available() {
		return nil, &RuntimeNotAvailableError{Type: typ, Reason: rt.Name() + " reports unavailable"}
	}
	return rt, nil
}

func (ec *ExecutionContext) context() context.Context {
	if ec.Context == nil {
		return context.Background()
	}
	return ec.Context
}
