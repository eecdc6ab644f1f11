package observable

import (
	"context"
	"log/slog"
	"time"

	"github.com/benjamind/flecs/internal/ecs"
)

// Dispatcher runs the observers matching an iterator. It is the direct
// dispatch collaborator of the Emitter.
type Dispatcher interface {
	// Notify runs the observers registered for (id, event) on the ids
	// themselves, for every id in ids.
	Notify(it *ecs.Iter, obs *Observable, ids []ecs.ID, event ecs.Entity)

	// NotifyScoped runs the observers that match the ids through the
	// relationship pattern (R, *). source is the entity the ids were
	// matched on, or 0 when the table owns them.
	NotifyScoped(it *ecs.Iter, obs *Observable, ids []ecs.ID, event ecs.Entity, pattern ecs.ID, source ecs.Entity)
}

// Traversal answers which tables are reachable from target by following rel
// downward, for the notified id with. A nil result means nothing is
// reachable.
type Traversal interface {
	Down(rel, target ecs.Entity, with *ecs.IDRecord) *ecs.TravDown
}

// Emitter is the emission entry point of a world. It implements
// ecs.Emitter.
type Emitter struct {
	obs      *Observable
	dispatch Dispatcher
	trav     Traversal
	log      *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger for emission diagnostics.
func WithLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.log = l
	}
}

// NewEmitter creates an Emitter over an Observable and its collaborators.
func NewEmitter(obs *Observable, dispatch Dispatcher, trav Traversal, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		obs:      obs,
		dispatch: dispatch,
		trav:     trav,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Observable returns the store the Emitter notifies from.
func (e *Emitter) Observable() *Observable {
	return e.obs
}

// Fini tears down the Observable. See Observable.Fini.
func (e *Emitter) Fini() error {
	return e.obs.Fini()
}

// EmitStage emits desc on the world owning stage.
func EmitStage(stage *ecs.Stage, desc *ecs.EventDesc) error {
	if stage == nil {
		return ecs.NewInvalidArgument("emit: stage is nil")
	}
	return stage.World().EmitStage(stage, desc)
}

// Emit notifies every observer affected by desc.
//
// Direct observers of the table run first. Then, unless desc is a table
// event, the event cascades from every row whose entity is the target of an
// acyclic relationship. Malformed descriptors fail with an invalid argument
// error before any observer runs or the event counter moves.
func (e *Emitter) Emit(w *ecs.World, stage *ecs.Stage, desc *ecs.EventDesc) error {
	obs, err := e.check(w, desc)
	if err != nil {
		return err
	}

	measure := w.Flags()&ecs.FlagMeasureSystemTime != 0
	var start time.Time
	if measure {
		start = w.Now()
	}

	table := desc.Table
	count := desc.Count
	if count == 0 {
		count = table.Count() - desc.Offset
	}

	var (
		ids     [1]ecs.ID
		ptrs    [1]any
		columns [1]int
		sources [1]ecs.Entity
	)
	it := &ecs.Iter{
		World:      w,
		Stage:      stage,
		Table:      table,
		OtherTable: desc.OtherTable,
		Offset:     desc.Offset,
		Count:      count,
		Event:      desc.Event,
		IDs:        ids[:],
		Ptrs:       ptrs[:],
		Columns:    columns[:],
		Sources:    sources[:],
		Param:      desc.Param,
	}
	if desc.TableEvent {
		it.Flags |= ecs.IterTableOnly
	}
	it.EventID = w.NextEventID()
	emitTotal.WithLabelValues(eventLabel(desc.Event)).Inc()

	if e.log.Enabled(context.Background(), slog.LevelDebug) {
		e.log.Debug("emit",
			"event", w.EntityString(desc.Event),
			"event_id", it.EventID,
			"table", table.ID(),
			"offset", desc.Offset,
			"count", count,
			"ids", len(desc.IDs),
		)
	}

	if desc.Relationship == 0 {
		e.dispatch.Notify(it, obs, desc.IDs, desc.Event)
	} else {
		e.dispatch.NotifyScoped(it, obs, desc.IDs, desc.Event, ecs.Pair(desc.Relationship, ecs.Wildcard), 0)
	}

	if !desc.TableEvent && table.ObservedCount() > 0 {
		entities := table.Entities()
		records := table.Records()
		for row := desc.Offset; row < desc.Offset+count; row++ {
			r := records[row]
			if r == nil {
				skippedNilRecord.Inc()
				continue
			}
			if r.Flags&ecs.RowObservedAcyclic != 0 {
				e.notifySubset(it, w, obs, entities[row], desc.Event, desc.IDs)
			}
		}
	}

	if measure {
		elapsed := w.Now().Sub(start)
		w.AddEmitTime(elapsed)
		emitDurationSeconds.Observe(elapsed.Seconds())
	}
	return nil
}

// check validates desc and resolves its observable store.
func (e *Emitter) check(w *ecs.World, desc *ecs.EventDesc) (*Observable, error) {
	switch {
	case w == nil:
		return nil, ecs.NewInvalidArgument("emit: world is nil")
	case desc == nil:
		return nil, ecs.NewInvalidArgument("emit: descriptor is nil")
	case desc.Event == 0:
		return nil, ecs.NewInvalidArgument("emit: event is not set")
	case desc.Event == ecs.Wildcard:
		return nil, ecs.NewInvalidArgument("emit: event must not be a wildcard")
	case len(desc.IDs) == 0:
		return nil, ecs.NewInvalidArgument("emit: id set is empty")
	case desc.Table == nil:
		return nil, ecs.NewInvalidArgument("emit: table is nil")
	}

	n := desc.Table.Count()
	if desc.Offset < 0 || desc.Count < 0 || desc.Offset > n || desc.Offset+desc.Count > n {
		return nil, ecs.NewInvalidArgument("emit: rows [%d, %d+%d) out of range for table of %d rows",
			desc.Offset, desc.Offset, desc.Count, n)
	}

	switch o := desc.Observable.(type) {
	case *Observable:
		if o != nil {
			return o, nil
		}
	case *ecs.World:
		if o != nil && e.obs != nil {
			return e.obs, nil
		}
	}
	return nil, ecs.NewInvalidArgument("emit: observable is not reachable from the descriptor")
}

func eventLabel(event ecs.Entity) string {
	switch event {
	case ecs.OnAdd:
		return "OnAdd"
	case ecs.OnRemove:
		return "OnRemove"
	case ecs.OnSet:
		return "OnSet"
	case ecs.UnSet:
		return "UnSet"
	}
	return "custom"
}
