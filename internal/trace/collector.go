package trace

import (
	"fmt"

	"github.com/benjamind/flecs/internal/ecs"
)

// Collector turns observer invocations into Notifications. Names are
// resolved while the iterator is still valid.
type Collector struct {
	world *ecs.World
	runID string
	seq   int64
	notes []Notification
}

// NewCollector creates a collector for notifications of w under runID.
func NewCollector(w *ecs.World, runID string) *Collector {
	return &Collector{world: w, runID: runID}
}

// Callback returns an observer callback recording under the observer name.
func (c *Collector) Callback(observer string) func(it *ecs.Iter) {
	return func(it *ecs.Iter) {
		c.seq++
		w := c.world
		n := Notification{
			RunID:    c.runID,
			Seq:      c.seq,
			EventID:  it.EventID,
			Event:    w.EntityString(it.Event),
			Observer: observer,
			Term:     w.IDString(it.ID()),
			Offset:   it.Offset,
			Count:    it.Count,
		}
		if it.Table != nil {
			n.Table = w.TypeString(it.Table)
		}
		if src := it.Source(); src != 0 {
			n.Source = w.EntityString(src)
		}
		for _, e := range it.Entities() {
			n.Entities = append(n.Entities, w.EntityString(e))
		}
		if len(it.Ptrs) > 0 {
			n.Value = formatValue(it.Ptrs[0])
		}
		n.ID = MustNotificationID(&n)
		c.notes = append(c.notes, n)
	}
}

// Notifications returns the recorded notifications in invocation order.
func (c *Collector) Notifications() []Notification {
	return append([]Notification(nil), c.notes...)
}

// Len returns the number of recorded notifications.
func (c *Collector) Len() int {
	return len(c.notes)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		if len(val) == 0 {
			return ""
		}
		return fmt.Sprint(val)
	default:
		return fmt.Sprint(val)
	}
}
