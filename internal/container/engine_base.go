// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"

	"github.com/envrun/envrun/internal/issue"
)

const (
	// SELinuxLabelNone means no SELinux label is applied to volume mounts.
	SELinuxLabelNone SELinuxLabel = ""
	// SELinuxLabelShared allows sharing the volume between containers.
	SELinuxLabelShared SELinuxLabel = "z"
	// SELinuxLabelPrivate restricts the volume to a single container.
	SELinuxLabelPrivate SELinuxLabel = "Z"
)

// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
var ErrInvalidVolumeMount = errors.New("invalid volume mount")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject a helper-process implementation.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount for the -v flag. Podman uses
	// it to add SELinux labels.
	VolumeFormatFunc func(mount VolumeMount) string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the CLI plumbing shared by Docker and Podman:
	// argument building and running the engine binary.
	BaseCLIEngine struct {
		name            string
		binaryPath      string
		execCommand     ExecCommandFunc
		volumeFormatter VolumeFormatFunc
	}

	// SELinuxLabel represents an SELinux volume labeling option.
	SELinuxLabel string

	// VolumeMount is a host directory bind-mounted into a container.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       SELinuxLabel
	}

	// InvalidVolumeMountError is returned when a VolumeMount is incomplete.
	InvalidVolumeMountError struct {
		Value  VolumeMount
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %s:%s: %s", e.Value.HostPath, e.Value.ContainerPath, e.Reason)
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is() compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate checks that both paths are set and the label is known.
func (v VolumeMount) Validate() error {
	switch {
	case strings.TrimSpace(v.HostPath) == "":
		return &InvalidVolumeMountError{Value: v, Reason: "host path must be non-empty"}
	case strings.TrimSpace(v.ContainerPath) == "":
		return &InvalidVolumeMountError{Value: v, Reason: "container path must be non-empty"}
	}
	switch v.SELinux {
	case SELinuxLabelNone, SELinuxLabelShared, SELinuxLabelPrivate:
		return nil
	default:
		return &InvalidVolumeMountError{Value: v, Reason: fmt.Sprintf("unknown SELinux label %q", v.SELinux)}
	}
}

// String returns the mount in "host:container[:options]" format.
func (v VolumeMount) String() string {
	var options []string
	if v.ReadOnly {
		options = append(options, "ro")
	}
	if v.SELinux != "" {
		options = append(options, string(v.SELinux))
	}
	s := v.HostPath + ":" + v.ContainerPath
	if len(options) > 0 {
		s += ":" + strings.Join(options, ",")
	}
	return s
}

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		volumeFormatter: VolumeMount.String,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// StartArgs builds the arguments that start a detached environment container.
//
// Generated command: <binary> run -d [options] <image> sleep infinity
func (e *BaseCLIEngine) StartArgs(opts StartOptions) []string {
	args := []string{"run", "-d"}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	return append(args, opts.Image, "sleep", "infinity")
}

// ExecArgs builds the arguments of an exec into a running container.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, containerID)
	return append(args, opts.Command...)
}

// RemoveArgs builds the arguments of a forced container removal.
func (e *BaseCLIEngine) RemoveArgs(containerID string) []string {
	return []string{"rm", "-f", containerID}
}

// CreateCommand creates an exec.Cmd for the engine binary.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus runs the engine binary and returns only its error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return nil
}

// RunCommandWithOutput runs the engine binary and returns its stdout.
// Stderr is folded into the error on failure.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			return "", fmt.Errorf("command %s %v failed: %w: %s", e.binaryPath, args, err, msg)
		}
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}
	return out.String(), nil
}

// Start starts a detached container and returns its ID.
func (e *BaseCLIEngine) Start(ctx context.Context, opts StartOptions) (string, error) {
	for _, v := range opts.Volumes {
		if err := v.Validate(); err != nil {
			return "", err
		}
	}

	out, err := e.RunCommandWithOutput(ctx, e.StartArgs(opts)...)
	if err != nil {
		return "", startContainerError(e.name, opts, err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", startContainerError(e.name, opts, errors.New("engine returned no container ID"))
	}
	return id, nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID string, opts ExecOptions) (*ExecResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	result := &ExecResult{ContainerID: containerID}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exec in %s: %w", e.name, containerID, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Remove force-removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID string) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID)...)
}

func startContainerError(engine string, opts StartOptions, cause error) error {
	return issue.NewErrorContext().
		WithOperation("start environment container").
		WithResource(opts.Image).
		WithSuggestion("Verify the image exists or can be pulled (try: "+engine+" pull "+opts.Image+")").
		WithSuggestion("Check that the package root exists on the host").
		WithSuggestion("Run with --verbose to see engine diagnostics").
		Wrap(cause).
		BuildError()
}
