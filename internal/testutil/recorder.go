package testutil

import (
	"sync"

	"github.com/benjamind/flecs/internal/ecs"
)

// Call is a copy of the iterator state seen by one observer invocation.
type Call struct {
	Observer  string
	Event     ecs.Entity
	EventID   uint64
	ID        ecs.ID
	Table     *ecs.Table
	Offset    int
	Count     int
	Source    ecs.Entity
	Column    int
	Value     any
	Entities  []ecs.Entity
	TableOnly bool
}

// Recorder collects observer invocations. The iterator is copied because
// it must not be retained past the callback.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Callback returns an observer callback recording under name.
func (r *Recorder) Callback(name string) func(it *ecs.Iter) {
	return func(it *ecs.Iter) {
		c := Call{
			Observer:  name,
			Event:     it.Event,
			EventID:   it.EventID,
			ID:        it.ID(),
			Table:     it.Table,
			Offset:    it.Offset,
			Count:     it.Count,
			Source:    it.Source(),
			Entities:  append([]ecs.Entity(nil), it.Entities()...),
			TableOnly: it.Flags&ecs.IterTableOnly != 0,
		}
		if len(it.Columns) > 0 {
			c.Column = it.Columns[0]
		}
		if len(it.Ptrs) > 0 {
			c.Value = it.Ptrs[0]
		}
		r.mu.Lock()
		r.calls = append(r.calls, c)
		r.mu.Unlock()
	}
}

// Calls returns every recorded call in invocation order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// For returns the calls recorded under name.
func (r *Recorder) For(name string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Observer == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset drops every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
