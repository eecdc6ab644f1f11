package observable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/engine"
	"github.com/benjamind/flecs/internal/observer"
	"github.com/benjamind/flecs/internal/testutil"
)

type scene struct {
	eng *engine.Engine
	w   *ecs.World
	rec *testutil.Recorder
	pos ecs.Entity
}

func newScene(t *testing.T) *scene {
	t.Helper()
	eng, err := engine.New()
	require.NoError(t, err)
	pos, err := eng.World().Component("Position", true)
	require.NoError(t, err)
	return &scene{eng: eng, w: eng.World(), rec: testutil.NewRecorder(), pos: pos}
}

func (s *scene) entity(t *testing.T, name string) ecs.Entity {
	t.Helper()
	e, err := s.w.NewEntity(name)
	require.NoError(t, err)
	return e
}

func (s *scene) childOf(t *testing.T, child, parent ecs.Entity) {
	t.Helper()
	require.NoError(t, s.w.Add(child, ecs.Pair(ecs.ChildOf, parent)))
}

func (s *scene) observe(t *testing.T, name string, event ecs.Entity, id ecs.ID, trav ecs.Entity) uint64 {
	t.Helper()
	h, err := s.eng.Observe(observer.Desc{
		Name:     name,
		Event:    event,
		ID:       id,
		Trav:     trav,
		Callback: s.rec.Callback(name),
	})
	require.NoError(t, err)
	return h
}

func entitiesOf(calls []testutil.Call) [][]ecs.Entity {
	out := make([][]ecs.Entity, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Entities)
	}
	return out
}

// hierarchy builds
//
//	parent
//	├── mid
//	│   └── grandchild
//	└── leaf (owns Position)
//	    └── below
type hierarchy struct {
	parent, mid, grandchild, leaf, below ecs.Entity
}

func (s *scene) hierarchy(t *testing.T) hierarchy {
	t.Helper()
	h := hierarchy{
		parent:     s.entity(t, "parent"),
		mid:        s.entity(t, "mid"),
		grandchild: s.entity(t, "grandchild"),
		leaf:       s.entity(t, "leaf"),
		below:      s.entity(t, "below"),
	}
	s.childOf(t, h.mid, h.parent)
	s.childOf(t, h.grandchild, h.mid)
	require.NoError(t, s.w.Set(h.leaf, s.pos.ID(), 99))
	s.childOf(t, h.leaf, h.parent)
	s.childOf(t, h.below, h.leaf)
	return h
}

func TestCascade_ReachesDescendants(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	s.observe(t, "self", ecs.OnSet, s.pos.ID(), 0)
	s.observe(t, "up", ecs.OnSet, s.pos.ID(), ecs.ChildOf)

	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 10))

	self := s.rec.For("self")
	require.Len(t, self, 1)
	assert.Equal(t, []ecs.Entity{h.parent}, self[0].Entities)
	assert.Equal(t, ecs.Entity(0), self[0].Source)
	assert.Equal(t, []any{10}, self[0].Value)

	up := s.rec.For("up")
	require.Len(t, up, 2)
	assert.ElementsMatch(t, [][]ecs.Entity{{h.mid}, {h.grandchild}}, entitiesOf(up))
	for _, c := range up {
		assert.Equal(t, h.parent, c.Source, "source is the entity the event happened on")
		assert.Equal(t, 10, c.Value)
		assert.Equal(t, -1, c.Column)
		assert.Equal(t, s.pos.ID(), c.ID)
		assert.Equal(t, ecs.OnSet, c.Event)
	}
}

func TestCascade_StopsAtTablesOwningTheID(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	s.observe(t, "up", ecs.OnSet, s.pos.ID(), ecs.ChildOf)

	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 10))

	for _, c := range s.rec.For("up") {
		assert.NotContains(t, c.Entities, h.leaf, "leaf owns Position")
		assert.NotContains(t, c.Entities, h.below, "below inherits from leaf, not parent")
	}
}

func TestCascade_EachRelationshipNotifiesOnce(t *testing.T) {
	s := newScene(t)
	dependsOn, err := s.w.Relationship("DependsOn", true)
	require.NoError(t, err)
	parent := s.entity(t, "parent")
	both := s.entity(t, "both")
	s.childOf(t, both, parent)
	require.NoError(t, s.w.Add(both, ecs.Pair(dependsOn, parent)))

	s.observe(t, "child", ecs.OnSet, s.pos.ID(), ecs.ChildOf)
	s.observe(t, "dep", ecs.OnSet, s.pos.ID(), dependsOn)

	require.NoError(t, s.w.Set(parent, s.pos.ID(), 1))

	child := s.rec.For("child")
	dep := s.rec.For("dep")
	require.Len(t, child, 1)
	require.Len(t, dep, 1)
	assert.Equal(t, []ecs.Entity{both}, child[0].Entities)
	assert.Equal(t, []ecs.Entity{both}, dep[0].Entities)
	assert.Same(t, child[0].Table, dep[0].Table)
	assert.Less(t, child[0].EventID, dep[0].EventID, "relationships in link order")
}

func TestCascade_SurvivesSiblingUnlink(t *testing.T) {
	s := newScene(t)
	target := s.entity(t, "target")

	type link struct {
		rel      ecs.Entity
		src      ecs.Entity
		observer uint64
	}
	links := map[string]link{}
	add := func(t *testing.T, name string) {
		rel, err := s.w.Relationship(name, true)
		require.NoError(t, err)
		src := s.entity(t, name+"_src")
		require.NoError(t, s.w.Add(src, ecs.Pair(rel, target)))
		links[name] = link{rel: rel, src: src, observer: s.observe(t, name, ecs.OnSet, s.pos.ID(), rel)}
	}
	drop := func(t *testing.T, name string) {
		l := links[name]
		require.NoError(t, s.eng.Unobserve(l.observer))
		require.NoError(t, s.w.Delete(l.rel))
		delete(links, name)
	}

	steps := []struct {
		name  string
		apply func(t *testing.T)
		want  []string
	}{
		{"three relationships", func(t *testing.T) {
			add(t, "DependsOn")
			add(t, "Requires")
			add(t, "Follows")
		}, []string{"DependsOn", "Requires", "Follows"}},
		{"middle removed", func(t *testing.T) { drop(t, "Requires") }, []string{"DependsOn", "Follows"}},
		{"tail removed", func(t *testing.T) { drop(t, "Follows") }, []string{"DependsOn"}},
		{"relinked after tail", func(t *testing.T) { add(t, "After") }, []string{"DependsOn", "After"}},
	}
	for i, step := range steps {
		step.apply(t)
		s.rec.Reset()
		require.NoError(t, s.w.Set(target, s.pos.ID(), i))

		calls := s.rec.Calls()
		got := make([]string, 0, len(calls))
		for _, c := range calls {
			got = append(got, c.Observer)
			assert.Equal(t, []ecs.Entity{links[c.Observer].src}, c.Entities, step.name)
			assert.Equal(t, target, c.Source, step.name)
		}
		assert.Equal(t, step.want, got, "%s: one notification per linked relationship, in link order", step.name)
	}
}

func TestCascade_EventIDsIncrease(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	s.observe(t, "self", ecs.OnSet, s.pos.ID(), 0)
	s.observe(t, "up", ecs.OnSet, s.pos.ID(), ecs.ChildOf)

	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 1))
	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 2))

	calls := s.rec.Calls()
	require.Len(t, calls, 6)
	for i := 1; i < len(calls); i++ {
		assert.Greater(t, calls[i].EventID, calls[i-1].EventID)
	}
	assert.Equal(t, calls[len(calls)-1].EventID, s.w.EventID())
}

func TestCascade_RemoveSeesInheritedValue(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 7))
	s.observe(t, "unset", ecs.UnSet, s.pos.ID(), ecs.ChildOf)
	s.observe(t, "removed", ecs.OnRemove, s.pos.ID(), ecs.ChildOf)

	require.NoError(t, s.w.Remove(h.parent, s.pos.ID()))

	unset := s.rec.For("unset")
	removed := s.rec.For("removed")
	require.Len(t, unset, 2)
	require.Len(t, removed, 2)
	for _, c := range append(unset, removed...) {
		assert.Equal(t, 7, c.Value, "source still owns the value during the event")
	}
	assert.Less(t, unset[1].EventID, removed[0].EventID)
}

func TestCascade_GatedIDIsNotTraversed(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	s.observe(t, "up-add", ecs.OnAdd, s.pos.ID(), ecs.ChildOf)
	before := s.eng.Cache().Len()

	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 1))
	addCalls := len(s.rec.For("up-add"))

	// Only OnAdd is flagged: the OnSet emission must not build a cache
	// entry of its own.
	assert.Equal(t, 2, addCalls)
	assert.LessOrEqual(t, s.eng.Cache().Len(), before+1)
}

func TestDirect_EveryMatchingObserverOnce(t *testing.T) {
	s := newScene(t)
	tagA := s.entity(t, "TagA")
	tagB := s.entity(t, "TagB")
	s.observe(t, "a", ecs.OnAdd, tagA.ID(), 0)
	s.observe(t, "b", ecs.OnAdd, tagB.ID(), 0)
	s.observe(t, "any", ecs.OnAdd, ecs.ID(ecs.Wildcard), 0)

	ents, err := s.w.BulkNew(3, tagA.ID(), tagB.ID())
	require.NoError(t, err)

	a := s.rec.For("a")
	b := s.rec.For("b")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, 3, a[0].Count)
	assert.Equal(t, ents, a[0].Entities)
	assert.Equal(t, ents, b[0].Entities)

	anyCalls := s.rec.For("any")
	require.Len(t, anyCalls, 2)
	assert.Equal(t, tagA.ID(), anyCalls[0].ID)
	assert.Equal(t, tagB.ID(), anyCalls[1].ID)
}

func TestDirect_PairWildcardObserver(t *testing.T) {
	s := newScene(t)
	parent := s.entity(t, "parent")
	child := s.entity(t, "child")
	s.observe(t, "children", ecs.OnAdd, ecs.Pair(ecs.ChildOf, ecs.Wildcard), 0)

	s.childOf(t, child, parent)

	calls := s.rec.For("children")
	require.Len(t, calls, 1)
	assert.Equal(t, ecs.Pair(ecs.ChildOf, parent), calls[0].ID)
	assert.Equal(t, []ecs.Entity{child}, calls[0].Entities)
}

func TestGate_ClearedWhenLastObserverLeaves(t *testing.T) {
	s := newScene(t)
	h := s.hierarchy(t)
	self := s.observe(t, "self", ecs.OnSet, s.pos.ID(), 0)
	up := s.observe(t, "up", ecs.OnSet, s.pos.ID(), ecs.ChildOf)

	idr := s.w.IDRecord(s.pos.ID())
	require.NotNil(t, idr)
	assert.NotZero(t, idr.Flags()&ecs.IDHasOnSet)

	require.NoError(t, s.eng.Unobserve(self))
	assert.NotZero(t, idr.Flags()&ecs.IDHasOnSet, "up still observes")

	require.NoError(t, s.eng.Unobserve(up))
	assert.Zero(t, idr.Flags()&ecs.IDHasOnSet)

	require.NoError(t, s.w.Set(h.parent, s.pos.ID(), 1))
	assert.Empty(t, s.rec.Calls())
	require.NoError(t, s.eng.Fini())
}

func TestTraversal_RequiresAcyclicRelationship(t *testing.T) {
	s := newScene(t)
	likes, err := s.w.Relationship("Likes", false)
	require.NoError(t, err)
	a := s.entity(t, "a")
	b := s.entity(t, "b")
	require.NoError(t, s.w.Add(a, ecs.Pair(likes, b)))

	assert.Zero(t, s.w.Record(b).Flags&ecs.RowObservedAcyclic)

	_, err = s.eng.Observe(observer.Desc{
		Name:     "bad",
		Event:    ecs.OnSet,
		ID:       s.pos.ID(),
		Trav:     likes,
		Callback: s.rec.Callback("bad"),
	})
	require.Error(t, err)
	assert.True(t, ecs.IsInvalidArgument(err))
}

func TestCallback_CannotMutate(t *testing.T) {
	s := newScene(t)
	tag := s.entity(t, "Tag")
	other := s.entity(t, "Other")
	e := s.entity(t, "e")

	var mutateErr error
	_, err := s.eng.Observe(observer.Desc{
		Name:  "mutator",
		Event: ecs.OnAdd,
		ID:    tag.ID(),
		Callback: func(it *ecs.Iter) {
			mutateErr = it.World.Add(it.Entities()[0], other.ID())
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.w.Add(e, tag.ID()))
	require.Error(t, mutateErr)
	assert.True(t, ecs.IsInvalidOperation(mutateErr))
	assert.False(t, s.w.Has(e, other.ID()))
}
