package compiler

import (
	"fmt"
	"regexp"

	"github.com/benjamind/flecs/internal/ecs"
)

// Validation error codes (E100-E199)
const (
	ErrEmptySchema    = "E100" // schema defines nothing
	ErrInvalidName    = "E101" // name is not an identifier
	ErrDuplicateName  = "E102" // name defined twice
	ErrReservedName   = "E103" // name shadows a builtin entity
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedNames are the builtin entities every world starts with.
var reservedNames = map[string]bool{
	"Wildcard": true,
	"OnAdd":    true,
	"OnRemove": true,
	"OnSet":    true,
	"UnSet":    true,
	"ChildOf":  true,
	"IsA":      true,
}

// Validate checks a compiled schema. Returns all errors found (does not
// fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError
	if s.Len() == 0 {
		return []ValidationError{{
			Field:   "schema",
			Message: "schema must define at least one component, tag, relationship or event",
			Code:    ErrEmptySchema,
		}}
	}

	seen := make(map[string]string)
	check := func(field, name string) {
		switch {
		case !namePattern.MatchString(name):
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid name %q, must be an identifier", name),
				Code:    ErrInvalidName,
			})
		case reservedNames[name]:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%q is a builtin entity", name),
				Code:    ErrReservedName,
			})
		case seen[name] != "":
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%q already defined at %s", name, seen[name]),
				Code:    ErrDuplicateName,
			})
		default:
			seen[name] = field
		}
	}

	for _, c := range s.Components {
		if c.Value {
			check("component."+c.Name, c.Name)
		} else {
			check("tag."+c.Name, c.Name)
		}
	}
	for _, r := range s.Relationships {
		check("relationship."+r.Name, r.Name)
	}
	for _, e := range s.Events {
		check("event."+e, e)
	}
	return errs
}

// Names maps schema and builtin names to world entities.
type Names map[string]ecs.Entity

// Apply registers the schema definitions in w in declaration order:
// components and tags, then relationships, then events.
func Apply(s *Schema, w *ecs.World) (Names, error) {
	names := Names{
		"Wildcard": ecs.Wildcard,
		"OnAdd":    ecs.OnAdd,
		"OnRemove": ecs.OnRemove,
		"OnSet":    ecs.OnSet,
		"UnSet":    ecs.UnSet,
		"ChildOf":  ecs.ChildOf,
		"IsA":      ecs.IsA,
	}
	for _, c := range s.Components {
		e, err := w.Component(c.Name, c.Value)
		if err != nil {
			return nil, fmt.Errorf("apply component %s: %w", c.Name, err)
		}
		names[c.Name] = e
	}
	for _, r := range s.Relationships {
		e, err := w.Relationship(r.Name, r.Acyclic)
		if err != nil {
			return nil, fmt.Errorf("apply relationship %s: %w", r.Name, err)
		}
		names[r.Name] = e
	}
	for _, ev := range s.Events {
		e, err := w.Event(ev)
		if err != nil {
			return nil, fmt.Errorf("apply event %s: %w", ev, err)
		}
		names[ev] = e
	}
	return names, nil
}
