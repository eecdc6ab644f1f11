// Package harness provides conformance testing for observer notification.
//
// The harness builds a world from a CUE schema, registers observers, applies
// a list of world operations and asserts on the notifications the observers
// received.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: |
//	  component: Position: {}
//	entities:
//	  - name: parent
//	    set: { Position: 10 }
//	  - name: child
//	    add: ["(ChildOf, parent)"]
//	observers:
//	  - name: up
//	    event: OnSet
//	    id: Position
//	    trav: ChildOf
//	steps:
//	  - op: set
//	    entity: parent
//	    id: Position
//	    value: 20
//	assertions:
//	  - type: notified
//	    observer: up
//	    source: parent
//	    count: 1
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - notified: the observer ran, optionally filtered and counted
//   - not_notified: the observer never ran
//   - order: observers first ran in the listed order
//   - event_counter: the world event counter reached a minimum
//   - emit_time: measured emission time reached a minimum
//
// # Deterministic Testing
//
// All scenarios execute with a fixed run id and, when measure_time is set,
// a stepping clock, so identical scenarios produce identical traces and
// golden snapshots.
//
// The harness uses:
//   - Fixed run ids (from scenario.run_id or "test-run-default")
//   - Stepping clock (testutil.StepClock)
//   - In-memory SQLite trace store (isolated per run)
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/cascade.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
