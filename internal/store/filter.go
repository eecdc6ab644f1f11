package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/benjamind/flecs/internal/trace"
)

// Filter selects notifications of one run. Empty fields match anything.
type Filter struct {
	RunID    string
	Observer string
	Event    string
	// Source matches cascaded notifications emitted on the named entity.
	Source string
	// EventID matches the notifications of a single emission. Zero matches
	// all emissions.
	EventID uint64
}

const notificationColumns = `id, run_id, seq, event_id, event, observer, id_term, table_type, source, row_offset, row_count, entities, value`

// compile builds a parameterized query for f. Values are never
// interpolated, and every query orders by seq with the id as tiebreaker.
func (f Filter) compile() (string, []any, error) {
	if f.RunID == "" {
		return "", nil, fmt.Errorf("filter: run id is required")
	}

	conds := []string{"run_id = ?"}
	params := []any{f.RunID}
	add := func(column string, value any) {
		conds = append(conds, column+" = ?")
		params = append(params, value)
	}
	if f.Observer != "" {
		add("observer", f.Observer)
	}
	if f.Event != "" {
		add("event", f.Event)
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if f.EventID != 0 {
		add("event_id", int64(f.EventID))
	}

	query := fmt.Sprintf("SELECT %s FROM notifications WHERE %s ORDER BY seq ASC, id COLLATE BINARY ASC",
		notificationColumns, strings.Join(conds, " AND "))
	return query, params, nil
}

// ReadFilteredNotifications returns the notifications matching f, in the
// same order as ReadNotifications.
func (s *Store) ReadFilteredNotifications(ctx context.Context, f Filter) ([]trace.Notification, error) {
	query, params, err := f.compile()
	if err != nil {
		return nil, err
	}
	return s.readNotifications(ctx, query, params...)
}
