package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/benjamind/flecs/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string               // Assertion type for categorization
	Expected string               // Human-readable expected outcome
	Actual   string               // Human-readable actual outcome
	Trace    []trace.Notification // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, n := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] #%d %s %s %s on %s %v", n.Seq, n.EventID, n.Observer, n.Event, n.Term, n.Table, n.Entities)
			if n.Source != "" {
				fmt.Fprintf(&buf, " from %s", n.Source)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// matches reports whether n satisfies the filters of a notified assertion.
func matches(n trace.Notification, a Assertion) bool {
	if n.Observer != a.Observer {
		return false
	}
	if a.Source != "" && n.Source != a.Source {
		return false
	}
	if a.Table != "" && n.Table != a.Table {
		return false
	}
	if a.Value != "" && n.Value != a.Value {
		return false
	}
	if len(a.Entities) > 0 && !slices.Equal(n.Entities, a.Entities) {
		return false
	}
	return true
}

// describe formats the filters of a notified assertion.
func describe(a Assertion) string {
	parts := []string{a.Observer}
	if a.Source != "" {
		parts = append(parts, "source="+a.Source)
	}
	if a.Table != "" {
		parts = append(parts, "table="+a.Table)
	}
	if a.Value != "" {
		parts = append(parts, "value="+a.Value)
	}
	if len(a.Entities) > 0 {
		parts = append(parts, fmt.Sprintf("entities=%v", a.Entities))
	}
	return strings.Join(parts, " ")
}

// assertNotified checks that the observer ran, exactly Count times when
// Count is set.
func assertNotified(notes []trace.Notification, assertion Assertion) error {
	count := 0
	for _, n := range notes {
		if matches(n, assertion) {
			count++
		}
	}

	switch {
	case assertion.Count == 0 && count == 0:
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("at least one notification of %s", describe(assertion)),
			Actual:   "not found in trace",
			Trace:    notes,
		}
	case assertion.Count > 0 && count != assertion.Count:
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("%d notifications of %s", assertion.Count, describe(assertion)),
			Actual:   fmt.Sprintf("%d notifications", count),
			Trace:    notes,
		}
	}
	return nil
}

// assertNotNotified checks that the observer never ran.
func assertNotNotified(notes []trace.Notification, assertion Assertion) error {
	for _, n := range notes {
		if n.Observer == assertion.Observer {
			return &AssertionError{
				Type:     AssertNotNotified,
				Expected: fmt.Sprintf("no notification of %s", assertion.Observer),
				Actual:   fmt.Sprintf("notified at seq %d (event %d)", n.Seq, n.EventID),
				Trace:    notes,
			}
		}
	}
	return nil
}

// assertOrder checks that the observers first ran in the specified order.
// Other notifications may come in between.
func assertOrder(notes []trace.Notification, assertion Assertion) error {
	// Step 1: Find first position of each expected observer
	positions := make(map[string]int)
	for i, n := range notes {
		if positions[n.Observer] == 0 {
			positions[n.Observer] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all observers found
	for _, name := range assertion.Observers {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("all observers notified: %v", assertion.Observers),
				Actual:   fmt.Sprintf("missing observer: %s", name),
				Trace:    notes,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Observers); i++ {
		prev := assertion.Observers[i-1]
		curr := assertion.Observers[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("observers in order: %v", assertion.Observers),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: notes,
			}
		}
	}
	return nil
}

// assertEventCounter checks the world event counter after the last step.
func assertEventCounter(result *Result, assertion Assertion) error {
	if result.EventCounter < uint64(assertion.Min) {
		return &AssertionError{
			Type:     AssertEventCounter,
			Expected: fmt.Sprintf("event counter >= %d", assertion.Min),
			Actual:   fmt.Sprintf("event counter = %d", result.EventCounter),
		}
	}
	return nil
}

// assertEmitTime checks the accumulated emission time.
func assertEmitTime(result *Result, assertion Assertion) error {
	if result.EmitTime.Nanoseconds() < assertion.Min {
		return &AssertionError{
			Type:     AssertEmitTime,
			Expected: fmt.Sprintf("emit time >= %dns", assertion.Min),
			Actual:   fmt.Sprintf("emit time = %dns", result.EmitTime.Nanoseconds()),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNotified:
			err = assertNotified(result.Trace, assertion)
		case AssertNotNotified:
			err = assertNotNotified(result.Trace, assertion)
		case AssertOrder:
			err = assertOrder(result.Trace, assertion)
		case AssertEventCounter:
			err = assertEventCounter(result, assertion)
		case AssertEmitTime:
			err = assertEmitTime(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
