package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/benjamind/flecs/internal/trace"
)

// ReadRun retrieves a single run by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (trace.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, pass, event_counter, emit_time_ns, notifications, digest
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns every run in the order it was first written.
//
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]trace.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, pass, event_counter, emit_time_ns, notifications, digest
		FROM runs
		ORDER BY created_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []trace.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadNotifications returns the notifications of a run ordered by seq ASC,
// id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the run has no notifications.
func (s *Store) ReadNotifications(ctx context.Context, runID string) ([]trace.Notification, error) {
	return s.readNotifications(ctx, `
		SELECT id, run_id, seq, event_id, event, observer, id_term, table_type, source, row_offset, row_count, entities, value
		FROM notifications
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
}

// ReadObserverNotifications returns the notifications of one observer in a
// run, in the same order as ReadNotifications.
func (s *Store) ReadObserverNotifications(ctx context.Context, runID, observer string) ([]trace.Notification, error) {
	return s.ReadFilteredNotifications(ctx, Filter{RunID: runID, Observer: observer})
}

func (s *Store) readNotifications(ctx context.Context, query string, args ...any) ([]trace.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notes := []trace.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notes, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (trace.Run, error) {
	var (
		run          trace.Run
		pass         int
		eventCounter int64
	)
	err := sc.Scan(&run.ID, &run.Scenario, &pass, &eventCounter, &run.EmitTimeNS, &run.Notifications, &run.Digest)
	if err == sql.ErrNoRows {
		return trace.Run{}, err
	}
	if err != nil {
		return trace.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Pass = pass == 1
	run.EventCounter = uint64(eventCounter)
	return run, nil
}

func scanNotification(sc scanner) (trace.Notification, error) {
	var (
		n        trace.Notification
		eventID  int64
		entities string
	)
	err := sc.Scan(&n.ID, &n.RunID, &n.Seq, &eventID, &n.Event, &n.Observer, &n.Term,
		&n.Table, &n.Source, &n.Offset, &n.Count, &entities, &n.Value)
	if err != nil {
		return trace.Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	n.EventID = uint64(eventID)
	if n.Entities, err = unmarshalEntities(entities); err != nil {
		return trace.Notification{}, err
	}
	return n, nil
}
