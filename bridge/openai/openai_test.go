package openai

import (
	"testing"

	"github.com/soulstack/soulmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTool(t *testing.T) {
	descriptor := core.FunctionDescriptor{
		Name:        "greet",
		Description: "Greets a being by name",
		Parameters: []core.ParameterSpec{
			{Name: "name", TypeTag: "string", Required: true},
			{Name: "shout", TypeTag: "boolean"},
		},
	}

	tool := Tool(descriptor)

	assert.Equal(t, "function", string(tool.Type))
	assert.Equal(t, "greet", tool.Function.Name)
	assert.Equal(t, "Greets a being by name", tool.Function.Description.Value)

	parameters := map[string]any(tool.Function.Parameters)
	assert.Equal(t, "object", parameters["type"])
	assert.Equal(t, []string{"name"}, parameters["required"])

	properties, ok := parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "string"}, properties["name"])
	assert.Equal(t, map[string]any{"type": "boolean"}, properties["shout"])
}

func TestToolNoRequired(t *testing.T) {
	tool := Tool(core.FunctionDescriptor{
		Name:       "roll",
		Parameters: []core.ParameterSpec{{Name: "sides", TypeTag: "integer"}},
	})

	parameters := map[string]any(tool.Function.Parameters)
	_, hasRequired := parameters["required"]
	assert.False(t, hasRequired)
}

func TestToolsOrdering(t *testing.T) {
	descriptors := map[string]core.FunctionDescriptor{
		"b_fn": {Name: "b_fn"},
		"a_fn": {Name: "a_fn"},
	}

	tools := Tools(descriptors)

	require.Len(t, tools, 2)
	assert.Equal(t, "a_fn", tools[0].Function.Name)
	assert.Equal(t, "b_fn", tools[1].Function.Name)
}
