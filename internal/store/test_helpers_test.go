package store

import (
	"path/filepath"
	"testing"

	"github.com/benjamind/flecs/internal/trace"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run with minimal required fields.
func createTestRun(id, scenario string) trace.Run {
	return trace.Run{
		ID:           id,
		Scenario:     scenario,
		Pass:         true,
		EventCounter: 4,
		Digest:       "test-digest",
	}
}

// createTestNotification creates a notification with its id computed.
func createTestNotification(runID, observer string, seq int64) trace.Notification {
	n := trace.Notification{
		RunID:    runID,
		Seq:      seq,
		EventID:  uint64(seq) + 1,
		Event:    "OnSet",
		Observer: observer,
		Term:     "Position",
		Table:    "[(ChildOf,parent)]",
		Source:   "parent",
		Count:    1,
		Entities: []string{"child"},
		Value:    "10",
	}
	n.ID = trace.MustNotificationID(&n)
	return n
}
