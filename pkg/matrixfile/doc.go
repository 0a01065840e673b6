// SPDX-License-Identifier: MPL-2.0

// Package matrixfile loads envrun matrix files.
//
// A matrix file declares named environments. Each environment lists the
// dependency extras it needs, the variables it passes through or sets, and
// the commands it runs; it may also declare a version axis that expands it
// into one concrete environment per version. Files are written in CUE
// (envrun.cue) or TOML (envrun.toml) and both are validated against the
// same embedded CUE schema.
//
//	envs: [{
//		name:     "coretest"
//		versions: ["3.10", "3.11"]
//		extras:   ["test"]
//		pass_env: ["CI"]
//		commands: ["pytest tests/core"]
//	}]
package matrixfile
