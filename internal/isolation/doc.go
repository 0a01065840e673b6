// SPDX-License-Identifier: MPL-2.0

// Package isolation builds the isolated context an environment's commands
// run in: a content-addressed environment directory (or container), the
// installer steps that populate it, and the merged variable set.
package isolation
