package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/benjamind/flecs/internal/trace"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteRun inserts a run record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency - duplicate ids are silently ignored.
func (s *Store) WriteRun(ctx context.Context, run trace.Run) error {
	if err := insertRun(ctx, s.db, run); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteNotification inserts a notification. The notification id is computed
// when empty. Uses ON CONFLICT(id) DO NOTHING for idempotency.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteNotification(ctx context.Context, n trace.Notification) error {
	if err := insertNotification(ctx, s.db, n); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// WriteTrace writes a run and its notifications in one transaction.
func (s *Store) WriteTrace(ctx context.Context, run trace.Run, notes []trace.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write trace: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	for _, n := range notes {
		if err := insertNotification(ctx, tx, n); err != nil {
			return fmt.Errorf("write trace: notification %d: %w", n.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write trace: commit: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, ex execer, run trace.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO runs
		(id, scenario, pass, event_counter, emit_time_ns, notifications, digest, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM runs))
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Scenario,
		boolToInt(run.Pass),
		int64(run.EventCounter),
		run.EmitTimeNS,
		run.Notifications,
		run.Digest,
	)
	return err
}

func insertNotification(ctx context.Context, ex execer, n trace.Notification) error {
	if n.ID == "" {
		id, err := trace.NotificationID(&n)
		if err != nil {
			return err
		}
		n.ID = id
	}

	entities, err := marshalEntities(n.Entities)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO notifications
		(id, run_id, seq, event_id, event, observer, id_term, table_type, source, row_offset, row_count, entities, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		n.ID,
		n.RunID,
		n.Seq,
		int64(n.EventID),
		n.Event,
		n.Observer,
		n.Term,
		n.Table,
		n.Source,
		n.Offset,
		n.Count,
		entities,
		n.Value,
	)
	return err
}
