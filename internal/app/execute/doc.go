// SPDX-License-Identifier: MPL-2.0

// Package execute runs resolved environments: each environment's commands
// in order inside its isolated context, and the whole selection either
// sequentially or with bounded parallelism, aggregated into a RunSummary.
package execute
