package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/model"
	"github.com/scribeflow/scribeflow/tool"
)

func TestStepBudgetDefaults(t *testing.T) {
	def := &Definition{Name: "a"}
	assert.Equal(t, DefaultSteps, def.StepBudget())

	def.Steps = 3
	assert.Equal(t, 3, def.StepBudget())

	def.Steps = -1
	assert.Equal(t, DefaultSteps, def.StepBudget())
}

func TestToolLookupAndDefinitions(t *testing.T) {
	search := tool.NewSearchTool(&tool.StaticRetriever{}, 5)
	def := &Definition{Name: "a", Tools: []tool.Tool{search}}

	got, ok := def.Tool("search")
	require.True(t, ok)
	assert.Equal(t, "search", got.Name())

	_, ok = def.Tool("missing")
	assert.False(t, ok)

	defs := def.ToolDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "search", defs[0].Name)
	assert.NotEmpty(t, defs[0].Description)
	assert.Contains(t, defs[0].Parameters, "properties")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("plan"))

	r.Register(&Definition{Name: "plan", Model: model.NewMockModel("m")})
	r.Register(&Definition{Name: "writer", Model: model.NewMockModel("m")})

	def, ok := r.Get("plan")
	require.True(t, ok)
	assert.Equal(t, "plan", def.Name)
	assert.True(t, r.Has("writer"))
	assert.ElementsMatch(t, []string{"plan", "writer"}, r.Names())

	// Re-registering replaces.
	r.Register(&Definition{Name: "plan", Steps: 2})
	def, _ = r.Get("plan")
	assert.Equal(t, 2, def.Steps)
}
