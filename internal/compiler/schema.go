// Package compiler turns CUE schema files into world definitions.
//
// A schema declares the components, tags, relationships and events a world
// starts with:
//
//	component: Position: {}            // carries a value
//	component: Marker: value: false    // same as a tag
//	tag: Enemy: {}
//	relationship: DependsOn: acyclic: true
//	event: Clicked: {}
//
// Definitions keep their declaration order so that entity ids are
// deterministic across runs.
package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Schema is a compiled world schema.
type Schema struct {
	Components    []Component    `json:"components"`
	Relationships []Relationship `json:"relationships"`
	Events        []string       `json:"events"`
}

// Component is a component or tag definition.
type Component struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// Relationship is a relationship definition.
type Relationship struct {
	Name    string `json:"name"`
	Acyclic bool   `json:"acyclic"`
}

// Len returns the number of definitions in the schema.
func (s *Schema) Len() int {
	return len(s.Components) + len(s.Relationships) + len(s.Events)
}

// CompileString compiles CUE source text. filename is used in error
// positions.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileSchema(v)
}

// CompileSchema parses a CUE value into a Schema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
func CompileSchema(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "schema", Message: "schema must be a struct", Pos: v.Pos()}
	}

	s := &Schema{}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		section := iter.Label()
		switch section {
		case "component":
			err = eachDef(iter.Value(), section, []string{"value"}, func(name string, def cue.Value) error {
				value, err := optionalBool(def, section+"."+name, "value", true)
				if err != nil {
					return err
				}
				s.Components = append(s.Components, Component{Name: name, Value: value})
				return nil
			})
		case "tag":
			err = eachDef(iter.Value(), section, nil, func(name string, _ cue.Value) error {
				s.Components = append(s.Components, Component{Name: name})
				return nil
			})
		case "relationship":
			err = eachDef(iter.Value(), section, []string{"acyclic"}, func(name string, def cue.Value) error {
				acyclic, err := optionalBool(def, section+"."+name, "acyclic", false)
				if err != nil {
					return err
				}
				s.Relationships = append(s.Relationships, Relationship{Name: name, Acyclic: acyclic})
				return nil
			})
		case "event":
			err = eachDef(iter.Value(), section, nil, func(name string, _ cue.Value) error {
				s.Events = append(s.Events, name)
				return nil
			})
		default:
			err = &CompileError{
				Field:   section,
				Message: "unknown section, expected component, tag, relationship or event",
				Pos:     iter.Value().Pos(),
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// eachDef calls fn for every definition of a section in declaration order.
// Definitions must be structs whose fields are listed in allowed.
func eachDef(section cue.Value, label string, allowed []string, fn func(name string, def cue.Value) error) error {
	if section.IncompleteKind() != cue.StructKind {
		return &CompileError{Field: label, Message: "must be a struct of definitions", Pos: section.Pos()}
	}
	iter, err := section.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		def := iter.Value()
		field := label + "." + name
		if def.IncompleteKind() != cue.StructKind {
			return &CompileError{Field: field, Message: "definition must be a struct", Pos: def.Pos()}
		}
		fields, err := def.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for fields.Next() {
			if !slices.Contains(allowed, fields.Label()) {
				return &CompileError{
					Field:   field + "." + fields.Label(),
					Message: "unknown field",
					Pos:     fields.Value().Pos(),
				}
			}
		}
		if err := fn(name, def); err != nil {
			return err
		}
	}
	return nil
}

// optionalBool reads a boolean field, returning def when it is absent.
func optionalBool(v cue.Value, field, name string, def bool) (bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return def, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   field + "." + name,
			Message: "must be a concrete bool",
			Pos:     f.Pos(),
		}
	}
	return b, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
