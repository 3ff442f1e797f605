// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user documents against embedded CUE schemas.
//
// Every caller follows the same flow: compile the schema, compile the
// document and unify it with a schema definition, then validate and decode.
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[Config](schema, data, "#Config",
//		cueutil.WithFilename(path))
package cueutil
