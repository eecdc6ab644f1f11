package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios build a world from a schema, register observers, apply a list
// of steps and assert on the notifications the observers received.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is CUE source declaring components, tags, relationships and
	// events. See package compiler.
	Schema string `yaml:"schema"`

	// Entities are created in order before any observer is registered, so
	// their setup raises no notifications.
	Entities []EntitySpec `yaml:"entities,omitempty"`

	// Observers are registered in order after the entities exist.
	Observers []ObserverSpec `yaml:"observers"`

	// Steps are applied in order once the observers are registered.
	Steps []Step `yaml:"steps"`

	// Assertions validate the notification trace.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id for deterministic traces.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// MeasureTime enables emission time accounting with a stepping clock.
	MeasureTime bool `yaml:"measure_time,omitempty"`
}

// EntitySpec declares an entity and its initial ids.
type EntitySpec struct {
	Name string `yaml:"name"`

	// Add lists ids added in order, e.g. "Enemy" or "(ChildOf, parent)".
	Add []string `yaml:"add,omitempty"`

	// Set assigns component values after Add, in key order.
	Set map[string]any `yaml:"set,omitempty"`
}

// ObserverSpec declares an observer.
type ObserverSpec struct {
	Name  string `yaml:"name"`
	Event string `yaml:"event"`
	ID    string `yaml:"id"`

	// Trav makes the observer match the id through an acyclic relationship.
	Trav string `yaml:"trav,omitempty"`
}

// Step is one world operation.
type Step struct {
	// Op is one of add, remove, set, delete, emit, bulk, unobserve.
	Op string `yaml:"op"`

	// Entity is the entity operated on (add, remove, set, delete, emit).
	Entity string `yaml:"entity,omitempty"`

	// ID is the id operated on (add, remove, set).
	ID string `yaml:"id,omitempty"`

	// Value is the component value (set).
	Value any `yaml:"value,omitempty"`

	// Event is the event kind (emit).
	Event string `yaml:"event,omitempty"`

	// IDs are the ids of an emit or of the entities created by bulk.
	IDs []string `yaml:"ids,omitempty"`

	// Count is the number of entities created by bulk.
	Count int `yaml:"count,omitempty"`

	// Observer is the observer removed by unobserve.
	Observer string `yaml:"observer,omitempty"`

	// TableEvent emits a table event that does not cascade (emit).
	TableEvent bool `yaml:"table_event,omitempty"`

	// ExpectError is the error code the step must fail with, e.g.
	// "INVALID_ARGUMENT". Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpAdd       = "add"
	OpRemove    = "remove"
	OpSet       = "set"
	OpDelete    = "delete"
	OpEmit      = "emit"
	OpBulk      = "bulk"
	OpUnobserve = "unobserve"
)

// Assertion validates the notification trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "notified": observer ran (Count times, when set)
	// - "not_notified": observer never ran
	// - "order": observers first ran in the listed order
	// - "event_counter": world event counter reached at least Min
	// - "emit_time": measured emission time is at least Min nanoseconds
	Type string `yaml:"type"`

	// Observer is the observer name (notified, not_notified).
	Observer string `yaml:"observer,omitempty"`

	// Count is the expected number of notifications (notified). Zero
	// means at least one.
	Count int `yaml:"count,omitempty"`

	// Source, Table, Entities and Value filter the notifications counted
	// by notified. Empty filters match everything.
	Source   string   `yaml:"source,omitempty"`
	Table    string   `yaml:"table,omitempty"`
	Entities []string `yaml:"entities,omitempty"`
	Value    string   `yaml:"value,omitempty"`

	// Observers is the expected first-notification order (order).
	Observers []string `yaml:"observers,omitempty"`

	// Min is the lower bound (event_counter, emit_time).
	Min int64 `yaml:"min,omitempty"`
}

// Assertion type constants.
const (
	AssertNotified     = "notified"
	AssertNotNotified  = "not_notified"
	AssertOrder        = "order"
	AssertEventCounter = "event_counter"
	AssertEmitTime     = "emit_time"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Name resolution happens when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Entities {
		if e.Name == "" {
			return fmt.Errorf("entities[%d]: name is required", i)
		}
	}

	seen := make(map[string]bool)
	for i, o := range s.Observers {
		switch {
		case o.Name == "":
			return fmt.Errorf("observers[%d]: name is required", i)
		case seen[o.Name]:
			return fmt.Errorf("observers[%d]: duplicate observer %q", i, o.Name)
		case o.Event == "":
			return fmt.Errorf("observers[%d]: event is required", i)
		case o.ID == "":
			return fmt.Errorf("observers[%d]: id is required", i)
		}
		seen[o.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, s *Step) error {
	switch s.Op {
	case OpAdd, OpRemove:
		if s.Entity == "" || s.ID == "" {
			return fmt.Errorf("steps[%d]: entity and id are required for %s", index, s.Op)
		}
	case OpSet:
		if s.Entity == "" || s.ID == "" {
			return fmt.Errorf("steps[%d]: entity and id are required for set", index)
		}
		if s.Value == nil {
			return fmt.Errorf("steps[%d]: value is required for set", index)
		}
	case OpDelete:
		if s.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for delete", index)
		}
	case OpEmit:
		if s.Entity == "" || s.Event == "" || len(s.IDs) == 0 {
			return fmt.Errorf("steps[%d]: entity, event and ids are required for emit", index)
		}
	case OpBulk:
		if s.Count <= 0 && s.ExpectError == "" {
			return fmt.Errorf("steps[%d]: count must be positive for bulk", index)
		}
	case OpUnobserve:
		if s.Observer == "" {
			return fmt.Errorf("steps[%d]: observer is required for unobserve", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNotified, AssertNotNotified:
		if a.Observer == "" {
			return fmt.Errorf("assertions[%d]: observer is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertOrder:
		if len(a.Observers) < 2 {
			return fmt.Errorf("assertions[%d]: order needs at least two observers", index)
		}
	case AssertEventCounter, AssertEmitTime:
		if a.Min <= 0 {
			return fmt.Errorf("assertions[%d]: min must be positive for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
