package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamind/flecs/internal/trace"
)

func executeTrace(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}

func TestTraceEmptyDatabase(t *testing.T) {
	buf, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No runs recorded.")
}

func TestTraceListRuns(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ run-1  cascade_childof  2 notifications, 5 events")
}

func TestTraceListRunsJSON(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "json", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []trace.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "run-1", resp.Data[0].ID)
}

func TestTraceRun(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "text", "--db", dbPath, "--run", "run-1")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run: run-1 (cascade_childof)")
	assert.Contains(t, output, "=== Notifications ===")
	assert.Contains(t, output, "self Position on [Position] [parent] = [20]")
	assert.Contains(t, output, "up Position on [(ChildOf,parent)] [child] from parent = 20")
	assert.Contains(t, output, "Notifications: 2 (1 cascaded)")
	assert.Contains(t, output, "OnSet: 2")
}

func TestTraceRunJSON(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "json", "--db", dbPath, "--run", "run-1")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.Run.ID)
	require.Len(t, resp.Data.Notifications, 2)
	assert.Equal(t, int64(1), resp.Data.Notifications[0].Seq)
	assert.Equal(t, 2, resp.Data.Stats.Total)
	assert.Equal(t, map[string]int{"self": 1, "up": 1}, resp.Data.Stats.ByObserver)
}

func TestTraceObserverFilter(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "json", "--db", dbPath, "--run", "run-1", "--observer", "up")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Notifications, 1)
	assert.Equal(t, "up", resp.Data.Notifications[0].Observer)
	assert.Equal(t, 1, resp.Data.Stats.Cascaded)
}

func TestTraceSourceFilter(t *testing.T) {
	path := writeScenarioFile(t, t.TempDir(), "cascade.yaml", cascadeScenario)
	dbPath := recordRun(t, path, "run-1")

	buf, err := executeTrace(t, "text", "--db", dbPath, "--run", "run-1", "--event", "OnSet", "--source", "parent")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "from parent")
	assert.NotContains(t, buf.String(), "[Position] [parent]")
	assert.Contains(t, buf.String(), "Notifications: 1 (1 cascaded)")
}

func TestTraceRunNotFound(t *testing.T) {
	_, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "trace.db"), "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found: missing")
}

func TestTraceStats(t *testing.T) {
	stats := traceStats([]trace.Notification{
		{Event: "OnAdd", Observer: "a"},
		{Event: "OnSet", Observer: "a", Source: "p"},
		{Event: "OnSet", Observer: "b"},
	})
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Cascaded)
	assert.Equal(t, map[string]int{"OnAdd": 1, "OnSet": 2}, stats.ByEvent)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, stats.ByObserver)
}
