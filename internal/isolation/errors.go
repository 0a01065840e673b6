// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyResolution is the sentinel wrapped by DependencyResolutionError.
	ErrDependencyResolution = errors.New("dependency resolution failed")

	// ErrInvalidEnvDir is returned for environment directory keys that would
	// leave <work_dir>/envs.
	ErrInvalidEnvDir = errors.New("invalid environment directory")
)

// DependencyResolutionError reports that an environment could not be
// prepared. Only the affected environment is marked as errored.
type DependencyResolutionError struct {
	EnvID string
	Step  Step
	Err   error
}

// Error implements the error interface.
func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("environment %s: %s failed: %v", e.EnvID, e.Step, e.Err)
}

// Unwrap returns the step error.
func (e *DependencyResolutionError) Unwrap() []error {
	return []error{ErrDependencyResolution, e.Err}
}
