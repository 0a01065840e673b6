// SPDX-License-Identifier: MPL-2.0

package execute

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/envrun/envrun/internal/isolation"
	"github.com/envrun/envrun/internal/runtime"
	"github.com/envrun/envrun/pkg/matrixfile"

	"mvdan.cc/sh/v3/syntax"
)

// Executor runs the commands of one environment.
type Executor struct {
	Runtime runtime.Runtime
	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration
	// Stdout and Stderr receive command output live. May be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Execute runs commands in order in ictx. extraArgs are shell-quoted and
// applied to the final command only: they replace its {posargs} marker, or
// are appended when it has none. The first non-zero exit of a command that
// does not ignore its exit status stops the environment.
func (e *Executor) Execute(ctx context.Context, ictx *isolation.Context, commands []matrixfile.Command, extraArgs []string) EnvironmentResult {
	res := EnvironmentResult{ID: ictx.Env.ID, Status: StatusPassed, Reused: ictx.Reused}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	quoted, err := quoteArgs(extraArgs)
	if err != nil {
		res.Status, res.Err = StatusError, err
		return res
	}

	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			res.Status, res.Err = StatusError, err
			return res
		}

		var args []string
		if i == len(commands)-1 {
			args = extraArgs
		}
		script := applyPosargs(cmd.Script, quoted, i == len(commands)-1)

		cr := e.run(ctx, ictx, script)
		cr.Args = args
		failed := cr.Err != nil || !cr.ExitCode.IsSuccess()
		if failed && cmd.IgnoreExit {
			cr.Ignored = true
		}
		res.Commands = append(res.Commands, cr)

		if failed && !cmd.IgnoreExit {
			res.Status = StatusFailed
			res.FailedCommand = script
			res.ExitCode = cr.ExitCode
			res.Err = &CommandFailure{EnvID: ictx.Env.ID, Command: script, ExitCode: cr.ExitCode}
			if cr.Err != nil {
				res.Err = errors.Join(res.Err, cr.Err)
			}
			return res
		}
	}
	return res
}

func (e *Executor) run(ctx context.Context, ictx *isolation.Context, script string) CommandResult {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := e.Runtime.Execute(&runtime.ExecutionContext{
		Context:     ctx,
		Script:      script,
		WorkDir:     ictx.WorkDir,
		Env:         ictx.Vars,
		Stdout:      e.Stdout,
		Stderr:      e.Stderr,
		ContainerID: ictx.ContainerID,
	})
	return CommandResult{
		Command:  script,
		ExitCode: result.ExitCode,
		Stdout:   result.Output,
		Stderr:   result.ErrOutput,
		Duration: time.Since(start),
		Err:      result.Error,
	}
}

func quoteArgs(args []string) (string, error) {
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

// applyPosargs substitutes the pass-through arguments into script. Only the
// final command receives them; markers elsewhere expand to nothing.
func applyPosargs(script, quoted string, final bool) string {
	if !final {
		return strings.ReplaceAll(script, matrixfile.PosargsMarker, "")
	}
	if strings.Contains(script, matrixfile.PosargsMarker) {
		return strings.ReplaceAll(script, matrixfile.PosargsMarker, quoted)
	}
	if quoted == "" {
		return script
	}
	return script + " " + quoted
}
