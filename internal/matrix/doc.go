// SPDX-License-Identifier: MPL-2.0

// Package matrix turns the declarative environments of a matrix file into the
// flat, ordered list of concrete environments a run executes.
//
// Expansion is an explicit enumeration: each definition contributes one
// Environment per entry of its version axis (or exactly one when it has no
// versions), in declaration order, with versions sorted ascending. Selection
// then filters that list by concrete ID or definition name and reorders it
// only as far as `depends` requires.
package matrix
