package harness

import (
	"time"

	"github.com/benjamind/flecs/internal/trace"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and all assertions hold.
	Pass bool `json:"pass"`

	// RunID identifies the run in the trace store.
	RunID string `json:"run_id"`

	// Trace contains all observer notifications in invocation order, as
	// read back from the trace store.
	Trace []trace.Notification `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// EventCounter is the world event counter after the last step.
	EventCounter uint64 `json:"event_counter"`

	// EmitTime is the accumulated emission time. Zero unless the scenario
	// measures time.
	EmitTime time.Duration `json:"emit_time_ns"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult(runID string) *Result {
	return &Result{
		Pass:   true,
		RunID:  runID,
		Trace:  []trace.Notification{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run summarizes the result for the trace store.
func (r *Result) Run(scenario string) (trace.Run, error) {
	digest, err := trace.Digest(r.Trace)
	if err != nil {
		return trace.Run{}, err
	}
	return trace.Run{
		ID:            r.RunID,
		Scenario:      scenario,
		Pass:          r.Pass,
		EventCounter:  r.EventCounter,
		EmitTimeNS:    r.EmitTime.Nanoseconds(),
		Notifications: len(r.Trace),
		Digest:        digest,
	}, nil
}
