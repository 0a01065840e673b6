// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEnvVarName is the sentinel error wrapped by InvalidEnvVarNameError.
var ErrInvalidEnvVarName = errors.New("invalid environment variable name")

type (
	// EnvVarName is the name of a process environment variable.
	// A valid name is non-empty and contains neither '=' nor NUL.
	EnvVarName string

	// InvalidEnvVarNameError is returned when an EnvVarName is not usable as a
	// variable name.
	InvalidEnvVarNameError struct {
		Value EnvVarName
	}
)

// Error implements the error interface.
func (e *InvalidEnvVarNameError) Error() string {
	return fmt.Sprintf("invalid environment variable name %q", string(e.Value))
}

// Unwrap returns ErrInvalidEnvVarName for errors.Is() compatibility.
func (e *InvalidEnvVarNameError) Unwrap() error { return ErrInvalidEnvVarName }

// Validate returns an error if the name cannot be set in a process environment.
func (n EnvVarName) Validate() error {
	if n == "" || strings.ContainsAny(string(n), "=\x00") {
		return &InvalidEnvVarNameError{Value: n}
	}
	return nil
}

// IsPattern reports whether the name is a glob pattern (e.g. "CI*") rather
// than a literal variable name.
func (n EnvVarName) IsPattern() bool {
	return strings.ContainsAny(string(n), "*?[")
}

// String returns the name.
func (n EnvVarName) String() string { return string(n) }
