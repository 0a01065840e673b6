// SPDX-License-Identifier: MPL-2.0

package execute

import (
	"errors"
	"fmt"
	"time"

	"github.com/envrun/envrun/pkg/types"
)

// Environment statuses.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// ErrCommandFailed is the sentinel wrapped by CommandFailure.
var ErrCommandFailed = errors.New("command failed")

type (
	// Status is the outcome of one environment.
	Status string

	// CommandResult is the outcome of one command.
	CommandResult struct {
		// Command is the script as run, pass-through arguments included.
		Command string
		// Args are the pass-through arguments applied to this command.
		Args     []string
		ExitCode types.ExitCode
		Stdout   string
		Stderr   string
		Duration time.Duration
		// Ignored is set when a non-zero exit was ignored ("- cmd").
		Ignored bool
		Err     error
	}

	// EnvironmentResult is the outcome of one environment.
	EnvironmentResult struct {
		ID       string
		Status   Status
		Commands []CommandResult
		// FailedCommand and ExitCode describe the command that failed the
		// environment.
		FailedCommand string
		ExitCode      types.ExitCode
		Err           error
		Duration      time.Duration
		Reused        bool
	}

	// CommandFailure is the error of an environment stopped by a failing
	// command.
	CommandFailure struct {
		EnvID    string
		Command  string
		ExitCode types.ExitCode
	}

	// RunSummary aggregates a run.
	RunSummary struct {
		RunID     string
		Started   time.Time
		Duration  time.Duration
		Total     int
		Succeeded int
		Failed    int
		Results   []EnvironmentResult
	}
)

// Error implements the error interface.
func (e *CommandFailure) Error() string {
	return fmt.Sprintf("environment %s: command %q exited with status %d", e.EnvID, e.Command, e.ExitCode)
}

// Unwrap returns ErrCommandFailed for errors.Is() compatibility.
func (e *CommandFailure) Unwrap() error { return ErrCommandFailed }

// Passed reports whether the environment passed.
func (r *EnvironmentResult) Passed() bool {
	return r.Status == StatusPassed
}

// Success reports whether every environment passed. An empty run is not a
// success.
func (s *RunSummary) Success() bool {
	return s.Total > 0 && s.Succeeded == s.Total
}

// Failures returns the results of environments that did not pass, in run
// order.
func (s *RunSummary) Failures() []EnvironmentResult {
	var failures []EnvironmentResult
	for i := range s.Results {
		if !s.Results[i].Passed() {
			failures = append(failures, s.Results[i])
		}
	}
	return failures
}

func (s *RunSummary) tally() {
	s.Total = len(s.Results)
	s.Succeeded = 0
	for i := range s.Results {
		if s.Results[i].Passed() {
			s.Succeeded++
		}
	}
	s.Failed = s.Total - s.Succeeded
}
