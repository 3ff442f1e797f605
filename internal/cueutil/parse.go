// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseResult holds a decoded document and the unified CUE value it came
// from.
type ParseResult[T any] struct {
	Value   *T
	Unified cue.Value
}

// ParseAndDecode validates data against the definition at schemaPath in
// schema and decodes the result into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	unified, err := unify(schema, data, schemaPath, options)
	if err != nil {
		return nil, err
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, options.filename)
	}
	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}

// Validate checks data against the definition at schemaPath and returns
// the document as a generic map. Fields the document leaves unset stay
// absent from the map so callers can layer it over defaults.
func Validate(schema, data []byte, schemaPath string, opts ...Option) (map[string]any, error) {
	options := defaultOptions()
	options.concrete = false
	for _, opt := range opts {
		opt(&options)
	}

	// Decode the user value, not the unified one, so schema defaults do
	// not mask lower-precedence layers.
	if _, err := unify(schema, data, schemaPath, options); err != nil {
		return nil, err
	}
	user := cuecontext.New().CompileBytes(data, cue.Filename(options.filename))
	var out map[string]any
	if err := user.Decode(&out); err != nil {
		return nil, FormatError(err, options.filename)
	}
	return out, nil
}

func unify(schema, data []byte, schemaPath string, options parseOptions) (cue.Value, error) {
	if err := CheckFileSize(data, options.maxFileSize, options.filename); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}
	root := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if root.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, root.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(options.filename))
	if userValue.Err() != nil {
		return cue.Value{}, FormatError(userValue.Err(), options.filename)
	}

	unified := root.Unify(userValue)
	if err := unified.Validate(cue.Concrete(options.concrete)); err != nil {
		return cue.Value{}, FormatError(err, options.filename)
	}
	return unified, nil
}
