// Package engine wires a world to its notification core.
//
// An Engine owns one ecs.World together with:
//   - the observable.Observable registry and its observable.Emitter
//   - the observer.Dispatcher that registers and matches observers
//   - the trav.Cache reachability cache, invalidated by the world
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// A World is not safe for concurrent mutation. Callers that already own the
// world's goroutine use World() directly. Callers on other goroutines submit
// Commands with Enqueue or Do; Run applies them one at a time on the single
// goroutine that owns the world, so every emission and cascade runs to
// completion before the next mutation starts.
//
// Event Counter:
// Every notification pass is stamped with the next value of the world's
// monotonic event counter. NEVER use wall-clock timestamps for ordering;
// wall-clock time is only used for emission time accounting.
//
// Teardown:
// Fini tears down the observable registry. Observers must be unregistered
// first; any that remain make Fini fail with an internal error.
package engine
