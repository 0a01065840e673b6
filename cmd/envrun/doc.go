// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for envrun.
//
// The command tree is built by NewRootCommand from an App, the composition
// root that carries configuration loading, container engine selection and
// the output streams. Handlers return ExitError to control the process exit
// status instead of calling os.Exit.
package cmd
