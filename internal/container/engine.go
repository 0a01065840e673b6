// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// EngineTypePodman selects the podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the docker CLI.
	EngineTypeDocker EngineType = "docker"

	// WorkspaceDir is where the package root is mounted inside environment containers.
	WorkspaceDir = "/workspace"
	// EnvDir is the environment directory inside environment containers.
	EnvDir = "/opt/envrun/env"
)

var (
	// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")

	// ErrInvalidEngineType is the sentinel wrapped by InvalidEngineTypeError.
	ErrInvalidEngineType = errors.New("invalid container engine type")
)

type (
	// Engine defines the container operations environments need.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine can be used.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)
		// Start creates and starts a detached, long-lived container and
		// returns its ID.
		Start(ctx context.Context, opts StartOptions) (string, error)
		// Exec runs a command in a running container. A non-zero exit is
		// reported in ExecResult.ExitCode, not as an error.
		Exec(ctx context.Context, containerID string, opts ExecOptions) (*ExecResult, error)
		// Remove force-removes a container.
		Remove(ctx context.Context, containerID string) error
	}

	// StartOptions configures Start.
	StartOptions struct {
		// Image is the image to start.
		Image string
		// Name is the container name (optional).
		Name string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Volumes are bind mounts.
		Volumes []VolumeMount
		// Labels are attached to the container for later cleanup.
		Labels map[string]string
	}

	// ExecOptions configures Exec.
	ExecOptions struct {
		// Command is the argv to run.
		Command []string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Env is the complete environment of the command.
		Env map[string]string
		// Stdout receives standard output.
		Stdout io.Writer
		// Stderr receives standard error.
		Stderr io.Writer
	}

	// ExecResult is the outcome of Exec.
	ExecResult struct {
		// ContainerID is the container the command ran in.
		ContainerID string
		// ExitCode is the command's exit status.
		ExitCode int
	}

	// EngineType identifies the container engine type.
	EngineType string

	// InvalidEngineTypeError is returned for an unknown EngineType.
	InvalidEngineTypeError struct {
		Value EngineType
	}

	// EngineNotAvailableError is returned when neither the preferred engine
	// nor its fallback can be used.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: podman, docker)", string(e.Value))
}

// Unwrap returns ErrInvalidEngineType for errors.Is() compatibility.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// String returns the engine type name.
func (t EngineType) String() string { return string(t) }

// IsValid reports whether the engine type is podman or docker.
func (t EngineType) IsValid() (bool, []error) {
	switch t {
	case EngineTypePodman, EngineTypeDocker:
		return true, nil
	default:
		return false, []error{&InvalidEngineTypeError{Value: t}}
	}
}

// NewEngine returns the preferred engine, or the other one when the
// preferred engine is not available.
func NewEngine(preferredType EngineType) (Engine, error) {
	var preferred, fallback Engine
	switch preferredType {
	case EngineTypePodman:
		preferred, fallback = NewPodmanEngine(), NewDockerEngine()
	case EngineTypeDocker:
		preferred, fallback = NewDockerEngine(), NewPodmanEngine()
	default:
		return nil, &InvalidEngineTypeError{Value: preferredType}
	}
	return selectEngine(preferred, fallback)
}

func selectEngine(preferred, fallback Engine) (Engine, error) {
	if preferred.Available() {
		return preferred, nil
	}
	if fallback.Available() {
		return fallback, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: preferred.Name(),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available",
			preferred.Name(), fallback.Name()),
	}
}
