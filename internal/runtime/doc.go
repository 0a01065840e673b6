// SPDX-License-Identifier: MPL-2.0

// Package runtime runs environment commands and builds their environment.
//
// Three runtime implementations are available:
//   - native: the host POSIX shell (bash, then sh; cmd on Windows)
//   - virtual: the embedded mvdan/sh interpreter
//   - container: `exec` into the environment's container (Docker/Podman)
//
// Every runtime captures stdout and stderr into the Result and, when the
// ExecutionContext carries writers, streams a live copy to them.
//
// EnvBuilder merges the variables a command sees without touching the
// process environment; see EnvBuilder.Build for the precedence order.
package runtime
