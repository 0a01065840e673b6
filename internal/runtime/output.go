// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"slices"

	"github.com/envrun/envrun/pkg/types"
)

// capturedOutput holds a command's stdout and stderr while also forwarding
// them to the live writers of the ExecutionContext.
type capturedOutput struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (c *capturedOutput) writers(ec *ExecutionContext) (stdout, stderr io.Writer) {
	return tee(&c.stdout, ec.Stdout), tee(&c.stderr, ec.Stderr)
}

func tee(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}

// result converts a run error into a Result. exitCodeOf extracts the status
// of a normal non-zero exit; anything else is an execution error.
func (c *capturedOutput) result(ctx context.Context, err error, exitCodeOf func(error) (int, bool)) *Result {
	res := &Result{Output: c.stdout.String(), ErrOutput: c.stderr.String()}
	if err == nil {
		return res
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			res.ExitCode = types.ExitTimeout
			res.Error = ErrCommandTimeout
			return res
		}
		res.ExitCode = types.ExitFailure
		res.Error = ctxErr
		return res
	}

	if code, ok := exitCodeOf(err); ok {
		exitCode := types.ExitCode(code)
		if validateErr := exitCode.Validate(); validateErr != nil {
			res.ExitCode = types.ExitFailure
			res.Error = validateErr
			return res
		}
		res.ExitCode = exitCode
		return res
	}

	res.ExitCode = types.ExitFailure
	res.Error = fmt.Errorf("failed to execute command: %w", err)
	return res
}

func processExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// EnvToSlice converts an environment map to sorted KEY=VALUE strings.
func EnvToSlice(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		result = append(result, k+"="+env[k])
	}
	return result
}
