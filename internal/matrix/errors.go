// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownEnvironment is the sentinel wrapped by SelectionError.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrDuplicateEnvironment is the sentinel wrapped by DuplicateEnvironmentError.
	ErrDuplicateEnvironment = errors.New("duplicate environment")
)

type (
	// SelectionError reports selected names that match no environment.
	// It is raised before anything executes.
	SelectionError struct {
		// Unknown lists every selected name that matched nothing, in the
		// order the caller gave them.
		Unknown []string
		// Known lists the concrete IDs that could have been selected.
		Known []string
	}

	// DuplicateEnvironmentError reports two definitions expanding to the same ID.
	DuplicateEnvironmentError struct {
		ID     string
		First  string
		Second string
	}
)

// Error implements the error interface.
func (e *SelectionError) Error() string {
	quoted := make([]string, len(e.Unknown))
	for i, name := range e.Unknown {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	noun := "environment"
	if len(e.Unknown) > 1 {
		noun = "environments"
	}
	return fmt.Sprintf("unknown %s %s", noun, strings.Join(quoted, ", "))
}

// Unwrap returns ErrUnknownEnvironment for errors.Is() compatibility.
func (e *SelectionError) Unwrap() error { return ErrUnknownEnvironment }

// Error implements the error interface.
func (e *DuplicateEnvironmentError) Error() string {
	return fmt.Sprintf("environment %q is produced by both %q and %q", e.ID, e.First, e.Second)
}

// Unwrap returns ErrDuplicateEnvironment for errors.Is() compatibility.
func (e *DuplicateEnvironmentError) Unwrap() error { return ErrDuplicateEnvironment }
