package ecs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emitted is a copy of one descriptor received by recordingEmitter.
type emitted struct {
	event     Entity
	ids       []ID
	table     *Table
	other     *Table
	offset    int
	count     int
	nilRecord bool
}

// recordingEmitter records every descriptor instead of notifying observers.
type recordingEmitter struct {
	events []emitted
	onEmit func(w *World, desc *EventDesc)
	finErr error
}

func (r *recordingEmitter) Emit(w *World, _ *Stage, desc *EventDesc) error {
	e := emitted{
		event:  desc.Event,
		ids:    append([]ID(nil), desc.IDs...),
		table:  desc.Table,
		other:  desc.OtherTable,
		offset: desc.Offset,
		count:  desc.Count,
	}
	if desc.Offset < desc.Table.Count() {
		e.nilRecord = desc.Table.Records()[desc.Offset] == nil
	}
	r.events = append(r.events, e)
	if r.onEmit != nil {
		r.onEmit(w, desc)
	}
	return nil
}

func (r *recordingEmitter) Fini() error {
	return r.finErr
}

func (r *recordingEmitter) kinds() []Entity {
	out := make([]Entity, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

func setupWorld(t *testing.T) (*World, *recordingEmitter) {
	t.Helper()
	rec := &recordingEmitter{}
	w := New(WithEmitter(rec))
	return w, rec
}

func mustEntity(t *testing.T, w *World, name string) Entity {
	t.Helper()
	e, err := w.NewEntity(name)
	require.NoError(t, err)
	return e
}

func TestClock_Next_Incrementing(t *testing.T) {
	c := NewClock()
	assert.Equal(t, uint64(0), c.Current())
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(2), c.Current())
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1000), c.Current())
}

func TestPair_Encoding(t *testing.T) {
	id := Pair(ChildOf, 100)

	assert.True(t, id.IsPair())
	assert.Equal(t, ChildOf, id.First())
	assert.Equal(t, Entity(100), id.Second())
	assert.Equal(t, Entity(0), id.Entity())
	assert.False(t, id.IsWildcard())

	assert.False(t, ID(100).IsPair())
	assert.Equal(t, Entity(100), ID(100).Entity())
}

func TestID_Match(t *testing.T) {
	concrete := Pair(ChildOf, 100)

	assert.True(t, Pair(ChildOf, Wildcard).Match(concrete))
	assert.True(t, Pair(Wildcard, 100).Match(concrete))
	assert.True(t, Pair(Wildcard, Wildcard).Match(concrete))
	assert.False(t, Pair(IsA, Wildcard).Match(concrete))
	assert.False(t, ID(Wildcard).Match(concrete))
	assert.True(t, ID(Wildcard).Match(ID(100)))
	assert.False(t, ID(101).Match(ID(100)))
}

func TestWildcardsOf(t *testing.T) {
	assert.Equal(t, []ID{ID(Wildcard)}, WildcardsOf(ID(100)))
	assert.Equal(t, []ID{
		Pair(ChildOf, Wildcard),
		Pair(Wildcard, 100),
		Pair(Wildcard, Wildcard),
	}, WildcardsOf(Pair(ChildOf, 100)))
	assert.Nil(t, WildcardsOf(Pair(ChildOf, Wildcard)))
}

func TestWorld_Builtins(t *testing.T) {
	w := New()

	e, ok := w.Lookup("ChildOf")
	require.True(t, ok)
	assert.Equal(t, ChildOf, e)
	assert.True(t, w.IsAcyclic(ChildOf))
	assert.True(t, w.IsAcyclic(IsA))
	assert.True(t, w.IsEvent(OnAdd))
	assert.True(t, w.IsEvent(UnSet))
	assert.Equal(t, "(ChildOf,*)", w.IDString(Pair(ChildOf, Wildcard)))
}

func TestWorld_NewEntity_DuplicateName(t *testing.T) {
	w := New()
	a := mustEntity(t, w, "a")
	assert.GreaterOrEqual(t, a, firstUserEntity)

	_, err := w.NewEntity("a")
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))

	anon1 := mustEntity(t, w, "")
	anon2 := mustEntity(t, w, "")
	assert.NotEqual(t, anon1, anon2)
	assert.Equal(t, "", w.Name(anon1))
}

func TestWorld_Add_EmitsOnAdd(t *testing.T) {
	w, rec := setupWorld(t)
	tag := mustEntity(t, w, "Tag")
	e := mustEntity(t, w, "e")

	require.NoError(t, w.Add(e, tag.ID()))

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, OnAdd, got.event)
	assert.Equal(t, []ID{tag.ID()}, got.ids)
	assert.True(t, got.table.Has(tag.ID()))
	assert.Equal(t, 1, got.count)
	assert.Equal(t, w.Record(e).Row, got.offset)
	assert.True(t, w.Has(e, tag.ID()))

	// Adding again is a no-op.
	require.NoError(t, w.Add(e, tag.ID()))
	assert.Len(t, rec.events, 1)
}

func TestWorld_Add_InvalidID(t *testing.T) {
	w, rec := setupWorld(t)
	e := mustEntity(t, w, "e")

	err := w.Add(e, Pair(ChildOf, Wildcard))
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))

	err = w.Add(e, 0)
	assert.True(t, IsInvalidArgument(err))

	err = w.Add(e, ID(5000))
	assert.True(t, IsNotFound(err))

	err = w.Add(Entity(5000), ChildOf.ID())
	assert.True(t, IsNotFound(err))

	assert.Empty(t, rec.events)
}

func TestWorld_Set_EmitsOnAddThenOnSet(t *testing.T) {
	w, rec := setupWorld(t)
	pos, err := w.Component("Position", true)
	require.NoError(t, err)
	e := mustEntity(t, w, "e")

	require.NoError(t, w.Set(e, pos.ID(), 10))
	assert.Equal(t, []Entity{OnAdd, OnSet}, rec.kinds())

	v, ok := w.Get(e, pos.ID())
	require.True(t, ok)
	assert.Equal(t, 10, v)

	require.NoError(t, w.Set(e, pos.ID(), 20))
	assert.Equal(t, []Entity{OnAdd, OnSet, OnSet}, rec.kinds())
	v, _ = w.Get(e, pos.ID())
	assert.Equal(t, 20, v)
}

func TestWorld_Set_Tag(t *testing.T) {
	w, _ := setupWorld(t)
	tag, err := w.Component("Tag", false)
	require.NoError(t, err)
	e := mustEntity(t, w, "e")

	err = w.Set(e, tag.ID(), 1)
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}

func TestWorld_Remove_EmitsBeforeMove(t *testing.T) {
	w, rec := setupWorld(t)
	pos, _ := w.Component("Position", true)
	vel, _ := w.Component("Velocity", true)
	e := mustEntity(t, w, "e")
	require.NoError(t, w.Set(e, pos.ID(), 1))
	require.NoError(t, w.Set(e, vel.ID(), 2))
	rec.events = nil

	require.NoError(t, w.Remove(e, pos.ID()))

	assert.Equal(t, []Entity{UnSet, OnRemove}, rec.kinds())
	for _, got := range rec.events {
		assert.True(t, got.table.Has(pos.ID()), "emitted while the entity still has the id")
		assert.False(t, got.other.Has(pos.ID()))
	}
	assert.False(t, w.Has(e, pos.ID()))

	v, ok := w.Get(e, vel.ID())
	require.True(t, ok)
	assert.Equal(t, 2, v, "values survive the move")
}

func TestWorld_AcyclicTargetFlag(t *testing.T) {
	w, _ := setupWorld(t)
	parent := mustEntity(t, w, "parent")
	child := mustEntity(t, w, "child")

	require.NoError(t, w.Add(child, Pair(ChildOf, parent)))

	r := w.Record(parent)
	assert.NotZero(t, r.Flags&RowObservedAcyclic)
	assert.Equal(t, 1, r.Table.ObservedCount())

	// The flag travels with the entity.
	tag := mustEntity(t, w, "Tag")
	require.NoError(t, w.Add(parent, tag.ID()))
	r = w.Record(parent)
	assert.NotZero(t, r.Flags&RowObservedAcyclic)
	assert.Equal(t, 1, r.Table.ObservedCount())

	require.NoError(t, w.Remove(child, Pair(ChildOf, parent)))
	assert.Zero(t, r.Flags&RowObservedAcyclic)
	assert.Equal(t, 0, r.Table.ObservedCount())
}

func TestWorld_NonAcyclicTargetNotFlagged(t *testing.T) {
	w, _ := setupWorld(t)
	likes, err := w.Relationship("Likes", false)
	require.NoError(t, err)
	a := mustEntity(t, w, "a")
	b := mustEntity(t, w, "b")

	require.NoError(t, w.Add(a, Pair(likes, b)))

	assert.Zero(t, w.Record(b).Flags&RowObservedAcyclic)
	idr := w.IDRecord(Pair(likes, b))
	require.NotNil(t, idr)
	assert.Zero(t, idr.Flags()&IDAcyclic)
	assert.Equal(t, IDHandle(0), w.IDRecord(Pair(Wildcard, b)).AcyclicNext())
}

func TestWorld_AcyclicSiblingList(t *testing.T) {
	w, _ := setupWorld(t)
	dependsOn, err := w.Relationship("DependsOn", true)
	require.NoError(t, err)
	target := mustEntity(t, w, "target")
	a := mustEntity(t, w, "a")
	b := mustEntity(t, w, "b")

	require.NoError(t, w.Add(a, Pair(ChildOf, target)))
	require.NoError(t, w.Add(b, Pair(dependsOn, target)))
	require.NoError(t, w.Add(b, Pair(IsA, target)))

	head := w.IDRecord(Pair(Wildcard, target))
	require.NotNil(t, head)

	var rels []Entity
	for h := head.AcyclicNext(); h != 0; {
		r := w.IDRecordAt(h)
		require.NotNil(t, r)
		rels = append(rels, r.ID().First())
		h = r.AcyclicNext()
	}
	assert.Equal(t, []Entity{ChildOf, dependsOn, IsA}, rels, "siblings in link order")
}

// siblings walks the (*, target) list and returns the relationship names.
func siblings(t *testing.T, w *World, target Entity) []string {
	t.Helper()
	head := w.IDRecord(Pair(Wildcard, target))
	require.NotNil(t, head)
	var names []string
	for h := head.AcyclicNext(); h != 0; {
		r := w.IDRecordAt(h)
		require.NotNil(t, r, "dangling sibling handle %d", h)
		names = append(names, w.Name(r.ID().First()))
		h = r.AcyclicNext()
	}
	return names
}

func TestWorld_AcyclicSiblingUnlink(t *testing.T) {
	w, _ := setupWorld(t)
	target := mustEntity(t, w, "target")
	likes, err := w.Relationship("Likes", false)
	require.NoError(t, err)
	fan := mustEntity(t, w, "fan")
	// A non-acyclic pair keeps the (*, target) head alive while the list is empty.
	require.NoError(t, w.Add(fan, Pair(likes, target)))

	rels := map[string]Entity{}
	link := func(t *testing.T, name string) {
		rel, err := w.Relationship(name, true)
		require.NoError(t, err)
		rels[name] = rel
		require.NoError(t, w.Add(mustEntity(t, w, name+"_src"), Pair(rel, target)))
	}
	unlink := func(t *testing.T, name string) {
		require.NoError(t, w.Delete(rels[name]))
		assert.Nil(t, w.IDRecord(Pair(rels[name], target)), "%s pair released", name)
	}

	steps := []struct {
		name  string
		apply func(t *testing.T)
		want  []string
	}{
		{"link three", func(t *testing.T) {
			link(t, "DependsOn")
			link(t, "Requires")
			link(t, "Follows")
		}, []string{"DependsOn", "Requires", "Follows"}},
		{"remove middle", func(t *testing.T) { unlink(t, "Requires") }, []string{"DependsOn", "Follows"}},
		{"remove tail", func(t *testing.T) { unlink(t, "Follows") }, []string{"DependsOn"}},
		{"append after tail removal", func(t *testing.T) { link(t, "After") }, []string{"DependsOn", "After"}},
		{"remove first", func(t *testing.T) { unlink(t, "DependsOn") }, []string{"After"}},
		{"remove last", func(t *testing.T) { unlink(t, "After") }, nil},
		{"relink empty list", func(t *testing.T) {
			link(t, "Before")
			link(t, "Then")
		}, []string{"Before", "Then"}},
	}
	for _, step := range steps {
		step.apply(t)
		assert.Equal(t, step.want, siblings(t, w, target), step.name)

		head := w.IDRecord(Pair(Wildcard, target))
		require.NotNil(t, head, step.name)
		if len(step.want) == 0 {
			assert.Equal(t, IDHandle(0), head.acyclicTail, step.name)
			continue
		}
		last := w.IDRecord(Pair(rels[step.want[len(step.want)-1]], target))
		require.NotNil(t, last, step.name)
		assert.Equal(t, last.handle, head.acyclicTail, "%s: tail", step.name)
		assert.Equal(t, IDHandle(0), last.AcyclicNext(), step.name)
	}
}

func TestWorld_Delete_ReleasesReferences(t *testing.T) {
	w, rec := setupWorld(t)
	dependsOn, _ := w.Relationship("DependsOn", true)
	parent := mustEntity(t, w, "parent")
	child := mustEntity(t, w, "child")
	require.NoError(t, w.Add(child, Pair(ChildOf, parent)))
	require.NoError(t, w.Add(child, Pair(dependsOn, parent)))
	rec.events = nil

	require.NoError(t, w.Delete(parent))

	assert.False(t, w.Alive(parent))
	assert.False(t, w.Has(child, Pair(ChildOf, parent)))
	assert.False(t, w.Has(child, Pair(dependsOn, parent)))
	assert.Equal(t, []Entity{OnRemove, OnRemove}, rec.kinds())

	assert.Nil(t, w.IDRecord(Pair(ChildOf, parent)))
	assert.Nil(t, w.IDRecord(Pair(dependsOn, parent)))
	assert.Nil(t, w.IDRecord(Pair(Wildcard, parent)))
	for _, table := range w.Tables() {
		assert.False(t, typeRefers(table.Type(), parent))
	}

	_, ok := w.Lookup("parent")
	assert.False(t, ok)
}

func TestWorld_Delete_EmitsOwnIDs(t *testing.T) {
	w, rec := setupWorld(t)
	pos, _ := w.Component("Position", true)
	tag := mustEntity(t, w, "Tag")
	e := mustEntity(t, w, "e")
	require.NoError(t, w.Set(e, pos.ID(), 1))
	require.NoError(t, w.Add(e, tag.ID()))
	rec.events = nil

	require.NoError(t, w.Delete(e))

	require.Len(t, rec.events, 2)
	assert.Equal(t, UnSet, rec.events[0].event)
	assert.Equal(t, []ID{pos.ID()}, rec.events[0].ids)
	assert.Equal(t, OnRemove, rec.events[1].event)
	assert.ElementsMatch(t, []ID{pos.ID(), tag.ID()}, rec.events[1].ids)
}

func TestWorld_Delete_Builtin(t *testing.T) {
	w := New()
	err := w.Delete(ChildOf)
	require.Error(t, err)
	assert.True(t, IsInvalidOperation(err))
}

func TestWorld_MutationDuringEmitRejected(t *testing.T) {
	w, rec := setupWorld(t)
	tag := mustEntity(t, w, "Tag")
	other := mustEntity(t, w, "Other")
	e := mustEntity(t, w, "e")

	var inner error
	rec.onEmit = func(w *World, _ *EventDesc) {
		assert.True(t, w.Emitting())
		inner = w.Add(e, other.ID())
	}

	require.NoError(t, w.Add(e, tag.ID()))
	require.Error(t, inner)
	assert.True(t, IsInvalidOperation(inner))
	assert.False(t, w.Emitting())
	assert.False(t, w.Has(e, other.ID()))
}

func TestWorld_BulkNew_RecordsPublishedAfterEmit(t *testing.T) {
	w, rec := setupWorld(t)
	tag := mustEntity(t, w, "Tag")

	entities, err := w.BulkNew(3, tag.ID())
	require.NoError(t, err)
	require.Len(t, entities, 3)

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, OnAdd, got.event)
	assert.Equal(t, 3, got.count)
	assert.True(t, got.nilRecord, "records are not published during the emission")

	for i, e := range entities {
		r := w.Record(e)
		require.NotNil(t, r)
		assert.Equal(t, got.offset+i, r.Row)
		assert.Same(t, got.table, r.Table)
	}
}

func TestWorld_BulkNew_InvalidCount(t *testing.T) {
	w, _ := setupWorld(t)
	_, err := w.BulkNew(0)
	assert.True(t, IsInvalidArgument(err))
}

func TestIDRecord_TableCounts(t *testing.T) {
	w, _ := setupWorld(t)
	pos, _ := w.Component("Position", true)
	e := mustEntity(t, w, "e")

	require.NoError(t, w.Set(e, pos.ID(), 1))
	idr := w.IDRecord(pos.ID())
	require.NotNil(t, idr)
	assert.Equal(t, 1, idr.TableCount())
	assert.Equal(t, 0, idr.EmptyTableCount())
	require.NotNil(t, idr.TypeInfo())
	assert.Equal(t, "Position", idr.TypeInfo().Name)

	require.NoError(t, w.Remove(e, pos.ID()))
	assert.Equal(t, 1, idr.TableCount())
	assert.Equal(t, 1, idr.EmptyTableCount())
}

func TestIDRecord_InheritsWildcardFlags(t *testing.T) {
	w, _ := setupWorld(t)
	parent := mustEntity(t, w, "parent")
	child := mustEntity(t, w, "child")

	w.EnsureIDRecord(Pair(ChildOf, Wildcard)).SetFlags(IDHasOnAdd)
	require.NoError(t, w.Add(child, Pair(ChildOf, parent)))

	idr := w.IDRecord(Pair(ChildOf, parent))
	require.NotNil(t, idr)
	assert.NotZero(t, idr.Flags()&IDHasOnAdd)
	assert.Zero(t, idr.Flags()&IDHasOnRemove)
}

func TestIDRecord_KeepAlive(t *testing.T) {
	w := New()
	target := mustEntity(t, w, "target")

	idr := w.EnsureIDRecord(Pair(ChildOf, target))
	w.KeepAlive(idr)
	require.NotNil(t, w.IDRecord(Pair(Wildcard, target)))

	w.ReleaseIDRecord(idr)
	assert.Nil(t, w.IDRecord(Pair(ChildOf, target)))
	assert.Nil(t, w.IDRecord(Pair(Wildcard, target)))
	assert.NotNil(t, w.IDRecord(Pair(Wildcard, Wildcard)))
}

func TestWorld_Fini(t *testing.T) {
	w, rec := setupWorld(t)
	require.NoError(t, w.Fini())

	rec.finErr = NewInternal("observers left")
	err := w.Fini()
	require.Error(t, err)
	assert.True(t, IsInternal(err))
}

func TestWorld_Info(t *testing.T) {
	w, _ := setupWorld(t)
	before := w.Info()

	mustEntity(t, w, "e")
	assert.Equal(t, before.EntityCount+1, w.Info().EntityCount)

	w.NextEventID()
	assert.Equal(t, before.EventID+1, w.Info().EventID)
}
