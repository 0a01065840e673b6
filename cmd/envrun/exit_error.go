// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/envrun/envrun/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
// A nil Err means the failure was already reported and nothing more is printed.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// usageError marks err as a rejection that happened before any environment ran.
func usageError(err error) *ExitError {
	return &ExitError{Code: types.ExitUsage, Err: err}
}
