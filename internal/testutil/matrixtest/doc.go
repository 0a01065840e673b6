// SPDX-License-Identifier: MPL-2.0

// Package matrixtest builds matrix.Environment fixtures. It is separate from
// testutil so that packages below internal/matrix can use testutil.
//
//	env := matrixtest.NewEnvironment("coretest-py312",
//	    matrixtest.WithCommands("python -m pytest {posargs}"),
//	    matrixtest.WithDepends("lint"),
//	)
package matrixtest
