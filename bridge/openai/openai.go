// Package openai translates function descriptors into OpenAI
// chat-completion tool definitions.
package openai

import (
	"github.com/openai/openai-go"
	"github.com/soulstack/soulmesh/bridge"
	"github.com/soulstack/soulmesh/core"
)

// Tool converts a single descriptor into a chat-completion tool param.
func Tool(descriptor core.FunctionDescriptor) openai.ChatCompletionToolParam {
	properties, required := bridge.ObjectSchema(descriptor)
	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        descriptor.Name,
			Description: openai.String(descriptor.Description),
			Parameters:  parameters,
		},
	}
}

// Tools converts a descriptor set into tool params ordered by function name.
func Tools(descriptors map[string]core.FunctionDescriptor) []openai.ChatCompletionToolParam {
	names := bridge.SortedNames(descriptors)
	tools := make([]openai.ChatCompletionToolParam, 0, len(names))
	for _, name := range names {
		tools = append(tools, Tool(descriptors[name]))
	}
	return tools
}
