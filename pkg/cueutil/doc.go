// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user documents against embedded CUE schemas.
//
// Two entry points share one validation path:
//
//   - ParseAndDecode compiles CUE source, unifies it with a schema
//     definition, validates, and decodes into a Go struct.
//   - DecodeValue does the same for a document that was decoded from
//     another format (TOML) into plain Go values.
//
// # Usage
//
//	//go:embed matrixfile_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Matrixfile](
//	    schemaBytes,
//	    userFileBytes,
//	    "#Matrixfile",
//	    cueutil.WithFilename("envrun.cue"),
//	)
//	if err != nil {
//	    return nil, err  // Error includes the CUE path of the offending field
//	}
//	return result.Value, nil
package cueutil
