package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamind/flecs/internal/engine"
	"github.com/benjamind/flecs/internal/store"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_CascadeScenario(t *testing.T) {
	result, err := Run(loadTestScenario(t, "cascade_childof"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "golden-cascade", result.RunID)
	assert.Equal(t, uint64(5), result.EventCounter)
	require.Len(t, result.Trace, 2)

	up := result.Trace[1]
	assert.Equal(t, "up", up.Observer)
	assert.Equal(t, "parent", up.Source)
	assert.Equal(t, []string{"child"}, up.Entities)
	assert.NotEmpty(t, up.ID, "ids survive the store round trip")
}

func TestRun_RemovalScenario(t *testing.T) {
	result, err := Run(loadTestScenario(t, "gated_removal"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 4)
	assert.Equal(t, uint64(10), result.EventCounter)
}

func TestRun_MeasureTime(t *testing.T) {
	result, err := Run(loadTestScenario(t, "timed"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 4*time.Microsecond, result.EmitTime)
}

func TestRun_NoTimeWithoutMeasure(t *testing.T) {
	result, err := Run(loadTestScenario(t, "cascade_childof"))
	require.NoError(t, err)
	assert.Zero(t, result.EmitTime)
}

func TestRun_FailingAssertion(t *testing.T) {
	s := loadTestScenario(t, "cascade_childof")
	s.Assertions = []Assertion{{Type: AssertNotNotified, Observer: "up"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "not_notified")
}

func TestRun_UnexpectedStepError(t *testing.T) {
	s := loadTestScenario(t, "cascade_childof")
	s.Steps = append(s.Steps, Step{Op: OpAdd, Entity: "missing", ID: "Position"})

	result, err := Run(s)
	require.NoError(t, err, "step failures fail the result, not the run")
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] add")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := loadTestScenario(t, "cascade_childof")
	s.Steps[0].ExpectError = "INVALID_ARGUMENT"

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "step succeeded")
}

func TestRun_SetOnTagFails(t *testing.T) {
	s := loadTestScenario(t, "timed")
	s.Steps = []Step{{Op: OpSet, Entity: "e", ID: "Enemy", Value: 1, ExpectError: "INVALID_ARGUMENT"}}
	s.Assertions = []Assertion{{Type: AssertNotNotified, Observer: "added"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Scenario)
	}{
		{"bad schema", func(s *Scenario) { s.Schema = "system: Move: {}" }},
		{"reserved schema name", func(s *Scenario) { s.Schema = "tag: ChildOf: {}" }},
		{"unknown entity in setup", func(s *Scenario) { s.Entities[1].Add = []string{"(ChildOf, nobody)"} }},
		{"unknown observer event", func(s *Scenario) { s.Observers[0].Event = "Position" }},
		{"duplicate entity", func(s *Scenario) { s.Entities[1].Name = "parent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadTestScenario(t, "cascade_childof")
			tt.mutate(s)
			_, err := Run(s)
			assert.Error(t, err)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(loadTestScenario(t, "custom_event_depth"))
	require.NoError(t, err)
	second, err := Run(loadTestScenario(t, "custom_event_depth"))
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_WithStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer st.Close()

	gen := engine.NewFixedGenerator("run-a", "run-b")
	for i := 0; i < 2; i++ {
		_, err := Run(loadTestScenario(t, "cascade_childof"), WithStore(st), WithRunIDGenerator(gen))
		require.NoError(t, err)
	}

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Equal(t, "cascade_childof", runs[0].Scenario)
	assert.True(t, runs[0].Pass)
	assert.Equal(t, 2, runs[0].Notifications)
	assert.NotEqual(t, runs[0].Digest, runs[1].Digest, "run id is part of every notification")
}

func TestParseID(t *testing.T) {
	s := loadTestScenario(t, "cascade_childof")
	s.Steps = []Step{
		{Op: OpAdd, Entity: "child", ID: "(ChildOf,parent"},
	}
	s.Steps[0].ExpectError = "NOT_FOUND"
	s.Assertions = []Assertion{{Type: AssertNotNotified, Observer: "up"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "an unterminated pair is looked up as a name: %v", result.Errors)
}
