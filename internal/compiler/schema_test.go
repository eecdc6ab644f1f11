package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamind/flecs/internal/ecs"
)

func TestCompileString_Basic(t *testing.T) {
	s, err := CompileString(`
		component: {
			Position: {}
			Marker: value: false
		}
		tag: Enemy: {}
		relationship: {
			DependsOn: acyclic: true
			Likes: {}
		}
		event: Clicked: {}
	`, "schema.cue")
	require.NoError(t, err)

	assert.Equal(t, []Component{
		{Name: "Position", Value: true},
		{Name: "Marker", Value: false},
		{Name: "Enemy", Value: false},
	}, s.Components)
	assert.Equal(t, []Relationship{
		{Name: "DependsOn", Acyclic: true},
		{Name: "Likes", Acyclic: false},
	}, s.Relationships)
	assert.Equal(t, []string{"Clicked"}, s.Events)
	assert.Equal(t, 6, s.Len())
}

func TestCompileString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"unknown section", `system: Move: {}`, "system"},
		{"unknown field", `component: Position: size: 4`, "component.Position.size"},
		{"tag with fields", `tag: Enemy: value: true`, "tag.Enemy.value"},
		{"non-bool acyclic", `relationship: DependsOn: acyclic: "yes"`, "relationship.DependsOn.acyclic"},
		{"definition not a struct", `event: Clicked: 1`, "event.Clicked"},
		{"section not a struct", `component: "Position"`, "component"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "schema.cue")
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileString_SyntaxErrorHasPosition(t *testing.T) {
	_, err := CompileString("component: {\n  Position: {\n", "broken.cue")
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
	assert.Contains(t, ce.Error(), "broken.cue")
}

func TestValidate(t *testing.T) {
	s := &Schema{
		Components: []Component{
			{Name: "Position", Value: true},
			{Name: "Position"},
			{Name: "ChildOf"},
		},
		Relationships: []Relationship{{Name: "bad-name"}},
	}

	errs := Validate(s)
	require.Len(t, errs, 3)
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Equal(t, "tag.Position", errs[0].Field)
	assert.Equal(t, ErrReservedName, errs[1].Code)
	assert.Equal(t, ErrInvalidName, errs[2].Code)
}

func TestValidate_Empty(t *testing.T) {
	errs := Validate(&Schema{})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrEmptySchema, errs[0].Code)
}

func TestApply(t *testing.T) {
	s, err := CompileString(`
		component: Position: {}
		tag: Enemy: {}
		relationship: DependsOn: acyclic: true
		event: Clicked: {}
	`, "schema.cue")
	require.NoError(t, err)
	require.Empty(t, Validate(s))

	w := ecs.New()
	names, err := Apply(s, w)
	require.NoError(t, err)

	assert.True(t, w.HasValue(names["Position"].ID()))
	assert.False(t, w.HasValue(names["Enemy"].ID()))
	assert.True(t, w.IsAcyclic(names["DependsOn"]))
	assert.True(t, w.IsEvent(names["Clicked"]))
	assert.Equal(t, ecs.ChildOf, names["ChildOf"])

	_, err = Apply(s, w)
	assert.True(t, ecs.IsAlreadyExists(err), "names are unique per world")
}
