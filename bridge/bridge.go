// Package bridge holds the JSON-schema rendering shared by the provider
// specific tool translators. Bridges depend only on the stable
// FunctionDescriptor shape, never on store internals.
package bridge

import (
	"sort"

	"github.com/soulstack/soulmesh/core"
)

// ObjectSchema renders the descriptor's parameters as JSON-schema object
// properties plus the list of required property names, in declaration order.
func ObjectSchema(descriptor core.FunctionDescriptor) (map[string]any, []string) {
	properties := make(map[string]any, len(descriptor.Parameters))
	var required []string
	for _, p := range descriptor.Parameters {
		prop := map[string]any{}
		if jsonType := JSONType(p.TypeTag); jsonType != "" {
			prop["type"] = jsonType
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return properties, required
}

// JSONType maps a schema type tag onto its JSON-schema type name. The "any"
// tag returns "" so the property carries no type constraint.
func JSONType(typeTag string) string {
	switch typeTag {
	case "integer":
		return "integer"
	case "float":
		return "number"
	case "string":
		return "string"
	case "boolean":
		return "boolean"
	case "table", "map":
		return "object"
	default:
		return ""
	}
}

// SortedNames returns the descriptor names in lexical order for stable
// request payloads.
func SortedNames(descriptors map[string]core.FunctionDescriptor) []string {
	names := make([]string, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
