package ecs

import (
	"fmt"
	"log/slog"
	"time"
)

// WorldFlags configure world-wide behavior.
type WorldFlags uint32

const (
	// FlagMeasureSystemTime enables wall-clock accounting of emissions.
	FlagMeasureSystemTime WorldFlags = 1 << iota
)

// Info holds world statistics.
type Info struct {
	// EmitTimeTotal accumulates the wall-clock time spent in Emit while
	// FlagMeasureSystemTime is set.
	EmitTimeTotal time.Duration

	// EventID is the current value of the world event counter.
	EventID uint64

	EntityCount int
	TableCount  int
	IDCount     int
}

// World is the entity store.
//
// INVARIANTS:
//   - Every live entity has exactly one Record whose Table/Row point at it
//   - Tables are unique per id composition and never reuse ids
//   - Every table is registered in the IDRecord of each of its ids and of
//     the wildcard patterns matching them
//   - Structural changes are rejected while an emission is in progress
type World struct {
	log   *slog.Logger
	flags WorldFlags
	now   func() time.Time

	clock *Clock
	info  Info

	entities   map[Entity]*Record
	lastEntity Entity
	names      map[string]Entity
	nameOf     map[Entity]string

	typeInfo map[Entity]*TypeInfo
	acyclic  map[Entity]bool
	events   map[Entity]bool

	root        *Table
	tables      map[string]*Table
	tableList   []*Table
	nextTableID uint64

	ids idArena

	emitter   Emitter
	listeners []StructureListener
	stage     *Stage
	emitDepth int
}

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger used for diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		w.log = l
	}
}

// WithTimeSource overrides the wall clock used for emission timing.
func WithTimeSource(now func() time.Time) Option {
	return func(w *World) {
		w.now = now
	}
}

// WithMeasureTime enables or disables emission time accounting.
func WithMeasureTime(enabled bool) Option {
	return func(w *World) {
		if enabled {
			w.flags |= FlagMeasureSystemTime
		} else {
			w.flags &^= FlagMeasureSystemTime
		}
	}
}

// WithEmitter injects the emitter that receives storage events.
func WithEmitter(e Emitter) Option {
	return func(w *World) {
		w.emitter = e
	}
}

var builtinNames = []struct {
	e    Entity
	name string
}{
	{Wildcard, "Wildcard"},
	{OnAdd, "OnAdd"},
	{OnRemove, "OnRemove"},
	{OnSet, "OnSet"},
	{UnSet, "UnSet"},
	{ChildOf, "ChildOf"},
	{IsA, "IsA"},
}

// New creates a World with the builtin entities.
func New(opts ...Option) *World {
	w := &World{
		log:      slog.Default(),
		now:      time.Now,
		clock:    NewClock(),
		entities: make(map[Entity]*Record),
		names:    make(map[string]Entity),
		nameOf:   make(map[Entity]string),
		typeInfo: make(map[Entity]*TypeInfo),
		acyclic:  make(map[Entity]bool),
		events:   make(map[Entity]bool),
		tables:   make(map[string]*Table),
		ids:      newIDArena(),
	}
	w.stage = &Stage{world: w}

	for _, opt := range opts {
		opt(w)
	}

	w.root = w.createTable(nil)
	for _, b := range builtinNames {
		w.placeEntity(b.e, b.name)
	}
	for _, e := range []Entity{OnAdd, OnRemove, OnSet, UnSet} {
		w.events[e] = true
	}
	w.acyclic[ChildOf] = true
	w.acyclic[IsA] = true
	w.lastEntity = firstUserEntity - 1

	return w
}

// SetEmitter replaces the emitter. Used when the emitter needs the world
// to exist before it can be constructed.
func (w *World) SetEmitter(e Emitter) {
	w.emitter = e
}

// AddStructureListener registers a listener for structural changes.
func (w *World) AddStructureListener(l StructureListener) {
	w.listeners = append(w.listeners, l)
}

// Logger returns the world's logger.
func (w *World) Logger() *slog.Logger {
	return w.log
}

// Flags returns the world flags.
func (w *World) Flags() WorldFlags {
	return w.flags
}

// Now reads the world's wall clock.
func (w *World) Now() time.Time {
	return w.now()
}

// Stage returns the default stage.
func (w *World) Stage() *Stage {
	return w.stage
}

// NextEventID advances the world event counter and returns the new value.
func (w *World) NextEventID() uint64 {
	return w.clock.Next()
}

// EventID returns the current value of the world event counter.
func (w *World) EventID() uint64 {
	return w.clock.Current()
}

// AddEmitTime accumulates emission time into the world statistics.
func (w *World) AddEmitTime(d time.Duration) {
	w.info.EmitTimeTotal += d
}

// Info returns a snapshot of the world statistics.
func (w *World) Info() Info {
	info := w.info
	info.EventID = w.clock.Current()
	info.EntityCount = len(w.entities)
	info.TableCount = len(w.tableList)
	info.IDCount = w.ids.count()
	return info
}

// Tables returns every table in creation order. Callers must not modify it.
func (w *World) Tables() []*Table {
	return w.tableList
}

// Emitting reports whether an emission is in progress.
func (w *World) Emitting() bool {
	return w.emitDepth > 0
}

// Emit hands a caller-built descriptor to the emitter. Used for user
// events; storage operations emit their own lifecycle events.
func (w *World) Emit(desc *EventDesc) error {
	return w.EmitStage(w.stage, desc)
}

// EmitStage is Emit with an explicit stage.
func (w *World) EmitStage(stage *Stage, desc *EventDesc) error {
	if w.emitter == nil {
		return nil
	}
	if stage == nil {
		stage = w.stage
	}
	w.emitDepth++
	defer func() { w.emitDepth-- }()
	return w.emitter.Emit(w, stage, desc)
}

// emit sends a lifecycle event raised by a storage operation.
func (w *World) emit(event Entity, ids []ID, t *Table, other *Table, offset, count int) error {
	return w.Emit(&EventDesc{
		Event:      event,
		IDs:        ids,
		Table:      t,
		OtherTable: other,
		Offset:     offset,
		Count:      count,
		Observable: w,
	})
}

// Fini tears down the world. It fails with an internal error when
// observers are still registered with the emitter's observable store.
func (w *World) Fini() error {
	if w.emitter != nil {
		if err := w.emitter.Fini(); err != nil {
			return fmt.Errorf("world fini: %w", err)
		}
	}
	w.log.Debug("world finalized",
		"entities", len(w.entities),
		"tables", len(w.tableList),
		"event_id", w.clock.Current(),
	)
	return nil
}

func (w *World) checkMutable(op string) error {
	if w.emitDepth > 0 {
		return &Error{
			Code:    ErrCodeInvalidOperation,
			Message: fmt.Sprintf("%s not allowed while notifying observers", op),
		}
	}
	return nil
}

func (w *World) notifyStructure() {
	for _, l := range w.listeners {
		l.Invalidate()
	}
}

// placeEntity puts a new entity into the root table.
func (w *World) placeEntity(e Entity, name string) *Record {
	r := &Record{Table: w.root}
	r.Row = w.root.appendRow(e, r)
	w.entities[e] = r
	if name != "" {
		w.names[name] = e
		w.nameOf[e] = name
	}
	if w.root.Count() == 1 {
		w.tableFilled(w.root)
	}
	return r
}

func (w *World) allocEntity() Entity {
	w.lastEntity++
	return w.lastEntity
}

// NewEntity creates an entity. The name is optional but must be unique.
func (w *World) NewEntity(name string) (Entity, error) {
	if err := w.checkMutable("new entity"); err != nil {
		return 0, err
	}
	if name != "" {
		if _, exists := w.names[name]; exists {
			return 0, &Error{Code: ErrCodeAlreadyExists, Message: fmt.Sprintf("entity %q already exists", name)}
		}
	}
	e := w.allocEntity()
	w.placeEntity(e, name)
	return e, nil
}

// Component creates a component entity. Components with hasValue carry a
// value per entity, the others are tags.
func (w *World) Component(name string, hasValue bool) (Entity, error) {
	e, err := w.NewEntity(name)
	if err != nil {
		return 0, err
	}
	w.typeInfo[e] = &TypeInfo{Name: name, HasValue: hasValue}
	return e, nil
}

// Relationship creates a relationship entity. Acyclic relationships
// propagate notifications from targets to their dependents.
func (w *World) Relationship(name string, acyclic bool) (Entity, error) {
	e, err := w.NewEntity(name)
	if err != nil {
		return 0, err
	}
	if acyclic {
		w.acyclic[e] = true
	}
	return e, nil
}

// Event creates a user-defined event kind.
func (w *World) Event(name string) (Entity, error) {
	e, err := w.NewEntity(name)
	if err != nil {
		return 0, err
	}
	w.events[e] = true
	return e, nil
}

// IsEvent reports whether e is a builtin or user event kind.
func (w *World) IsEvent(e Entity) bool {
	return w.events[e]
}

// IsAcyclic reports whether the relationship is acyclic.
func (w *World) IsAcyclic(rel Entity) bool {
	return w.isAcyclic(rel)
}

func (w *World) isAcyclic(rel Entity) bool {
	return w.acyclic[rel]
}

// HasValue reports whether id carries a value.
func (w *World) HasValue(id ID) bool {
	if id.IsPair() {
		return false
	}
	ti := w.typeInfo[Entity(id)]
	return ti != nil && ti.HasValue
}

// Lookup resolves an entity by name.
func (w *World) Lookup(name string) (Entity, bool) {
	e, ok := w.names[name]
	return e, ok
}

// Name returns the entity name, or "".
func (w *World) Name(e Entity) string {
	return w.nameOf[e]
}

// Alive reports whether e is a live entity.
func (w *World) Alive(e Entity) bool {
	_, ok := w.entities[e]
	return ok
}

// Record returns the storage record of e, or nil.
func (w *World) Record(e Entity) *Record {
	return w.entities[e]
}

// EntityString formats an entity by name, falling back to its number.
func (w *World) EntityString(e Entity) string {
	if e == Wildcard {
		return "*"
	}
	if name, ok := w.nameOf[e]; ok {
		return name
	}
	return fmt.Sprintf("#%d", e)
}

// IDString formats an id using entity names, e.g. "(ChildOf,parent)".
func (w *World) IDString(id ID) string {
	if id.IsPair() {
		return fmt.Sprintf("(%s,%s)", w.EntityString(id.First()), w.EntityString(id.Second()))
	}
	return w.EntityString(Entity(id))
}

// TypeString formats the id composition of a table.
func (w *World) TypeString(t *Table) string {
	s := "["
	for i, id := range t.typ {
		if i > 0 {
			s += ", "
		}
		s += w.IDString(id)
	}
	return s + "]"
}
