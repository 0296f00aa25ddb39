// Package anthropic translates function descriptors into Anthropic tool
// parameters so discovered soul functions can be offered to Claude models
// as callable tools. It is a pure schema translator: no client, no network.
package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/soulstack/soulmesh/bridge"
	"github.com/soulstack/soulmesh/core"
)

// Tool converts a single descriptor into an Anthropic tool parameter.
func Tool(descriptor core.FunctionDescriptor) anthropic.ToolUnionParam {
	properties, required := bridge.ObjectSchema(descriptor)

	inputSchema := anthropic.ToolInputSchemaParam{
		Type:       constant.Object("object"),
		Properties: properties,
	}
	if len(required) > 0 {
		inputSchema.Required = required
	}

	tool := anthropic.ToolUnionParamOfTool(inputSchema, descriptor.Name)
	if descriptor.Description != "" && tool.OfTool != nil {
		tool.OfTool.Description = anthropic.String(descriptor.Description)
	}
	return tool
}

// Tools converts a descriptor set into Anthropic tool parameters, ordered
// by name for stable request payloads.
func Tools(descriptors map[string]core.FunctionDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(descriptors))
	for _, name := range bridge.SortedNames(descriptors) {
		out = append(out, Tool(descriptors[name]))
	}
	return out
}
