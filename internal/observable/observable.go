package observable

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/benjamind/flecs/internal/ecs"
)

// Observer is one registered callback. Observers are created and matched by
// the dispatcher; the Observable only stores them.
type Observer struct {
	// Handle is unique per Observable.
	Handle uint64

	Name  string
	Event ecs.Entity

	// ID is the id or id pattern the observer matches.
	ID ecs.ID

	// Trav is 0 for observers matching the notified entities themselves.
	// Otherwise the observer matches entities that inherit ID through the
	// relationship Trav, and is reached through cascades.
	Trav ecs.Entity

	Callback func(it *ecs.Iter)
	Ctx      any
}

// EventIDRecord holds the observers registered for one (event, id).
type EventIDRecord struct {
	Observers []*Observer
}

// EventRecord holds every registration for one event kind.
type EventRecord struct {
	Event ecs.Entity

	// IDs maps an id or id pattern to its observers. Entries are removed
	// when their last observer is unregistered.
	IDs map[ecs.ID]*EventIDRecord
}

// Observable is the registry of event kinds and their observers.
//
// INVARIANTS:
//   - Every EventRecord's IDs map is empty when Fini succeeds
//   - Events are kept in first-registration order
type Observable struct {
	log       *slog.Logger
	events    map[ecs.Entity]*EventRecord
	order     []*EventRecord
	nextID    uint64
	finalized bool
}

// New creates an initialized Observable. A nil logger uses slog.Default().
func New(log *slog.Logger) *Observable {
	if log == nil {
		log = slog.Default()
	}
	o := &Observable{log: log}
	o.Init()
	return o
}

// Init allocates an empty registry.
func (o *Observable) Init() {
	o.events = make(map[ecs.Entity]*EventRecord)
	o.order = nil
	o.finalized = false
}

// Fini releases the registry.
//
// It fails with an internal error, and leaves the registry in place, when
// any event kind still has registered observers: those observers were not
// unregistered by their owner before teardown.
func (o *Observable) Fini() error {
	for _, er := range o.order {
		if len(er.IDs) == 0 {
			continue
		}
		outstanding := 0
		for _, idr := range er.IDs {
			outstanding += len(idr.Observers)
		}
		err := &ecs.Error{
			Code:    ecs.ErrCodeInternal,
			Message: fmt.Sprintf("observable fini: event %d has %d outstanding observers on %d ids", er.Event, outstanding, len(er.IDs)),
			Details: map[string]string{
				"event":     strconv.FormatUint(uint64(er.Event), 10),
				"ids":       strconv.Itoa(len(er.IDs)),
				"observers": strconv.Itoa(outstanding),
			},
		}
		o.log.Error("observable teardown with registered observers",
			"event", uint64(er.Event),
			"ids", len(er.IDs),
			"observers", outstanding,
		)
		return err
	}

	o.events = nil
	o.order = nil
	o.finalized = true
	return nil
}

// Finalized reports whether Fini completed.
func (o *Observable) Finalized() bool {
	return o.finalized
}

// EventRecord returns the record of an event kind, or nil.
func (o *Observable) EventRecord(event ecs.Entity) *EventRecord {
	return o.events[event]
}

// EnsureEventRecord returns the record of an event kind, creating it if
// needed.
func (o *Observable) EnsureEventRecord(event ecs.Entity) *EventRecord {
	if er, ok := o.events[event]; ok {
		return er
	}
	er := &EventRecord{Event: event, IDs: make(map[ecs.ID]*EventIDRecord)}
	o.events[event] = er
	o.order = append(o.order, er)
	return er
}

// Events returns the event records in first-registration order. Callers
// must not modify it.
func (o *Observable) Events() []*EventRecord {
	return o.order
}

// NextHandle allocates an observer handle.
func (o *Observable) NextHandle() uint64 {
	o.nextID++
	return o.nextID
}

// Observers returns the observers registered for (event, id), or nil.
func (o *Observable) Observers(event ecs.Entity, id ecs.ID) []*Observer {
	er := o.events[event]
	if er == nil {
		return nil
	}
	if idr := er.IDs[id]; idr != nil {
		return idr.Observers
	}
	return nil
}
