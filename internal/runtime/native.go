// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/envrun/envrun/pkg/types"
)

// waitDelay bounds how long Execute waits for output pipes after the shell
// exits or is killed (background children may keep them open).
const waitDelay = 2 * time.Second

var errNoShell = errors.New("no shell found (tried bash, sh)")

// NativeRuntime executes commands with the host shell.
type NativeRuntime struct {
	// Shell overrides shell detection.
	Shell string
	// ShellArgs are passed to the shell before the script.
	ShellArgs []string
}

// NewNativeRuntime creates a new native runtime.
func NewNativeRuntime() *NativeRuntime {
	return &NativeRuntime{}
}

// Name returns the runtime name.
func (r *NativeRuntime) Name() string {
	return string(RuntimeTypeNative)
}

// Available reports whether a shell was found.
func (r *NativeRuntime) Available() bool {
	_, err := r.getShell()
	return err == nil
}

// Validate checks that there is a script to run.
func (r *NativeRuntime) Validate(ec *ExecutionContext) error {
	if strings.TrimSpace(ec.Script) == "" {
		return errors.New("script has no content to execute")
	}
	return nil
}

// Execute runs the script with the host shell.
func (r *NativeRuntime) Execute(ec *ExecutionContext) *Result {
	shell, err := r.getShell()
	if err != nil {
		return NewErrorResult(types.ExitFailure, err)
	}

	ctx := ec.context()
	args := append(r.getShellArgs(shell), ec.Script)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = ec.WorkDir
	cmd.Env = EnvToSlice(ec.Env)
	cmd.WaitDelay = waitDelay

	var captured capturedOutput
	cmd.Stdout, cmd.Stderr = captured.writers(ec)

	return captured.result(ctx, cmd.Run(), processExitCode)
}

// getShell prefers bash, then sh. Scripts and installer steps use POSIX
// syntax, so the user's login shell is not consulted.
func (r *NativeRuntime) getShell() (string, error) {
	if r.Shell != "" {
		return r.Shell, nil
	}

	if goruntime.GOOS == "windows" {
		if bash, err := exec.LookPath("bash"); err == nil {
			return bash, nil
		}
		return exec.LookPath("cmd")
	}

	for _, candidate := range []string{"bash", "sh"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", errNoShell
}

func (r *NativeRuntime) getShellArgs(shell string) []string {
	if len(r.ShellArgs) > 0 {
		return append([]string(nil), r.ShellArgs...)
	}

	base := strings.TrimSuffix(strings.ToLower(filepath.Base(shell)), ".exe")
	if base == "cmd" {
		return []string{"/C"}
	}
	return []string{"-c"}
}
