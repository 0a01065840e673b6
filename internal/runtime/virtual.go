// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/envrun/envrun/pkg/types"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// VirtualRuntime executes commands with the embedded mvdan/sh interpreter,
// so environments behave the same on hosts without a POSIX shell.
type VirtualRuntime struct{}

// NewVirtualRuntime creates a new virtual runtime.
func NewVirtualRuntime() *VirtualRuntime {
	return &VirtualRuntime{}
}

// Name returns the runtime name.
func (r *VirtualRuntime) Name() string {
	return string(RuntimeTypeVirtual)
}

// Available always returns true; the interpreter is built in.
func (r *VirtualRuntime) Available() bool {
	return true
}

// Validate parses the script.
func (r *VirtualRuntime) Validate(ec *ExecutionContext) error {
	if strings.TrimSpace(ec.Script) == "" {
		return errors.New("script has no content to execute")
	}
	if _, err := parseScript(ec.Script); err != nil {
		return fmt.Errorf("script syntax error: %w", err)
	}
	return nil
}

// Execute interprets the script.
func (r *VirtualRuntime) Execute(ec *ExecutionContext) *Result {
	prog, err := parseScript(ec.Script)
	if err != nil {
		return NewErrorResult(types.ExitFailure, fmt.Errorf("failed to parse script: %w", err))
	}

	var captured capturedOutput
	stdout, stderr := captured.writers(ec)

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(EnvToSlice(ec.Env)...)),
		interp.StdIO(nil, stdout, stderr),
	}
	if ec.WorkDir != "" {
		opts = append(opts, interp.Dir(ec.WorkDir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return NewErrorResult(types.ExitFailure, fmt.Errorf("failed to create interpreter: %w", err))
	}

	ctx := ec.context()
	return captured.result(ctx, runner.Run(ctx, prog), interpExitCode)
}

func parseScript(script string) (*syntax.File, error) {
	return syntax.NewParser().Parse(strings.NewReader(script), "script")
}

func interpExitCode(err error) (int, bool) {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status), true
	}
	return 0, false
}
