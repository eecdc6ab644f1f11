package observable

import "github.com/benjamind/flecs/internal/ecs"

// IsBuiltinEvent reports whether event is one of the four lifecycle events
// tracked by id gating flags.
func IsBuiltinEvent(event ecs.Entity) bool {
	return ecs.EventFlag(event) != 0
}

// HasObservers reports whether any observer could match idr for event.
//
// Only the builtin lifecycle events are gated. For any other event it
// returns true and leaves matching to the dispatcher. False positives are
// allowed, false negatives are not.
func HasObservers(idr *ecs.IDRecord, event ecs.Entity, builtin bool) bool {
	if !builtin {
		return true
	}
	flags := idr.Flags()
	if flags&ecs.IDEventMask == 0 {
		return false
	}
	return flags&ecs.EventFlag(event) != 0
}
