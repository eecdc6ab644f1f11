// Package trav memoizes downward relationship traversals.
//
// A traversal answers: starting at a target entity and following an acyclic
// relationship towards the entities that point at it, which tables are
// reached? Each answer is cached per (relationship, target, notified id)
// and dropped whenever the world reports a structural change.
package trav

import (
	"fmt"

	"github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/benjamind/flecs/internal/ecs"
)

// DefaultSize is the number of traversals kept when no size is given.
const DefaultSize = 1024

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flecs_trav_cache_lookups_total",
		Help: "Cumulative number of traversal cache lookups, by result.",
	}, []string{"result"})
	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flecs_trav_cache_invalidations_total",
		Help: "Cumulative number of traversal cache purges caused by structural changes.",
	})

	lookupHits   = lookupsTotal.WithLabelValues("hit")
	lookupMisses = lookupsTotal.WithLabelValues("miss")
)

type key struct {
	rel    ecs.Entity
	target ecs.Entity
	with   ecs.ID
}

// Cache is the reachability cache of a world. It implements
// observable.Traversal and ecs.StructureListener.
type Cache struct {
	world *ecs.World
	cache *lru.Cache
}

// New creates a Cache holding up to size traversals and registers it with
// the world for invalidation.
func New(w *ecs.World, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("trav cache: %w", err)
	}
	c := &Cache{world: w, cache: cache}
	w.AddStructureListener(c)
	return c, nil
}

// Down returns the tables reachable from target through rel, or nil when
// none are.
//
// Every element carries target as its source, including tables reached
// through intermediate entities. An element is a leaf when its table owns
// the id of with: those entities shadow the value inherited from target,
// so the walk does not continue below them.
func (c *Cache) Down(rel, target ecs.Entity, with *ecs.IDRecord) *ecs.TravDown {
	k := key{rel: rel, target: target, with: with.ID()}
	if v, ok := c.cache.Get(k); ok {
		lookupHits.Inc()
		return v.(*ecs.TravDown)
	}
	lookupMisses.Inc()

	down := c.build(k)
	c.cache.Add(k, down)
	return down
}

// build walks breadth-first from the target. Tables are visited once per
// traversal even when reachable through several entities.
func (c *Cache) build(k key) *ecs.TravDown {
	var elems []ecs.TravElem
	seen := make(map[*ecs.Table]bool)
	visited := map[ecs.Entity]bool{k.target: true}
	queue := []ecs.Entity{k.target}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		idr := c.world.IDRecord(ecs.Pair(k.rel, cur))
		if idr == nil {
			continue
		}
		for _, tr := range idr.Tables() {
			t := tr.Table
			if seen[t] {
				continue
			}
			seen[t] = true

			leaf := t.Has(k.with)
			elems = append(elems, ecs.TravElem{Table: t, Source: k.target, Leaf: leaf})
			if leaf || t.ObservedCount() == 0 {
				continue
			}

			entities := t.Entities()
			for row, r := range t.Records() {
				if r == nil || r.Flags&ecs.RowObservedAcyclic == 0 {
					continue
				}
				if e := entities[row]; !visited[e] {
					visited[e] = true
					queue = append(queue, e)
				}
			}
		}
	}

	if len(elems) == 0 {
		return nil
	}
	return &ecs.TravDown{Elems: elems}
}

// Invalidate drops every cached traversal.
func (c *Cache) Invalidate() {
	if c.cache.Len() == 0 {
		return
	}
	c.cache.Purge()
	invalidationsTotal.Inc()
}

// Len returns the number of cached traversals.
func (c *Cache) Len() int {
	return c.cache.Len()
}
