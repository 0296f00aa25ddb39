package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Genesis carries the identity metadata of a genotype: what the entity is
// called, what kind of entity it is and where it came from. ParentHash is
// populated by the soul store when a genotype is produced by evolution.
type Genesis struct {
	Name        string `json:"name"`
	Kind        string `json:"kind,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	ParentHash  string `json:"parent_hash,omitempty"`
}

// AttributeSpec declares a single attribute of a genotype: its type tag,
// optional default, whether it is required and optional constraints
// (min/max, min_length/max_length, pattern, enum).
type AttributeSpec struct {
	Type        string         `json:"type"`
	Default     any            `json:"default,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Description string         `json:"description,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Genotype is the declarative definition submitted to create a soul. It is a
// value type: callers construct it, the soul store hashes and persists it,
// and it is never mutated after submission. ModuleSource, when present,
// contains Lua source whose top-level functions become callable through the
// function registry.
type Genotype struct {
	Genesis      Genesis                  `json:"genesis"`
	Attributes   map[string]AttributeSpec `json:"attributes,omitempty"`
	ModuleSource string                   `json:"module_source,omitempty"`
}

// Clone returns a deep copy of the genotype. Attribute defaults and
// constraints are copied through JSON round-tripping so nested maps and
// slices diverge safely.
func (g Genotype) Clone() Genotype {
	out := Genotype{
		Genesis:      g.Genesis,
		ModuleSource: g.ModuleSource,
	}
	if g.Attributes != nil {
		out.Attributes = make(map[string]AttributeSpec, len(g.Attributes))
		for name, spec := range g.Attributes {
			out.Attributes[name] = spec.clone()
		}
	}
	return out
}

func (s AttributeSpec) clone() AttributeSpec {
	out := s
	out.Default = deepCopyValue(s.Default)
	if s.Constraints != nil {
		cp := deepCopyValue(s.Constraints)
		out.Constraints, _ = cp.(map[string]any)
	}
	return out
}

// deepCopyValue copies arbitrary JSON-shaped values. Scalars are returned as
// is; maps and slices are copied recursively. Values that do not survive a
// JSON round trip are returned unchanged.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int64, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var cp any
		if err := json.Unmarshal(raw, &cp); err != nil {
			return val
		}
		return cp
	}
}

// ApplyChange sets a dotted-path field on the genotype, e.g.
// "genesis.description", "attributes.age.default" or "module_source".
// Unknown top-level segments produce an error so callers notice typos
// instead of silently evolving identical content.
func (g *Genotype) ApplyChange(path string, value any) error {
	segments := strings.Split(path, ".")
	switch segments[0] {
	case "genesis":
		if len(segments) != 2 {
			return fmt.Errorf("genesis change %q: expected genesis.<field>", path)
		}
		return g.Genesis.set(segments[1], value)
	case "attributes":
		if len(segments) < 2 {
			return fmt.Errorf("attribute change %q: expected attributes.<name>[.<field>]", path)
		}
		return g.applyAttributeChange(segments[1:], value)
	case "module_source":
		if len(segments) != 1 {
			return fmt.Errorf("module_source change %q: no sub-fields", path)
		}
		src, ok := value.(string)
		if !ok {
			return fmt.Errorf("module_source change: expected string, got %T", value)
		}
		g.ModuleSource = src
		return nil
	default:
		return fmt.Errorf("unknown genotype path %q", path)
	}
}

func (gen *Genesis) set(field string, value any) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("genesis.%s: expected string, got %T", field, value)
	}
	switch field {
	case "name":
		gen.Name = str
	case "kind":
		gen.Kind = str
	case "version":
		gen.Version = str
	case "description":
		gen.Description = str
	case "parent_hash":
		gen.ParentHash = str
	default:
		return fmt.Errorf("unknown genesis field %q", field)
	}
	return nil
}

func (g *Genotype) applyAttributeChange(segments []string, value any) error {
	name := segments[0]
	if g.Attributes == nil {
		g.Attributes = map[string]AttributeSpec{}
	}
	spec := g.Attributes[name]
	if len(segments) == 1 {
		// Whole-spec replacement: nil removes the attribute, a map is
		// decoded into an AttributeSpec.
		if value == nil {
			delete(g.Attributes, name)
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		var next AttributeSpec
		if err := json.Unmarshal(raw, &next); err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		g.Attributes[name] = next
		return nil
	}
	if len(segments) != 2 {
		return fmt.Errorf("attribute change: expected attributes.%s.<field>", name)
	}
	switch segments[1] {
	case "type":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("attributes.%s.type: expected string, got %T", name, value)
		}
		spec.Type = str
	case "default":
		spec.Default = deepCopyValue(value)
	case "required":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("attributes.%s.required: expected bool, got %T", name, value)
		}
		spec.Required = b
	case "description":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("attributes.%s.description: expected string, got %T", name, value)
		}
		spec.Description = str
	case "constraints":
		cp := deepCopyValue(value)
		m, ok := cp.(map[string]any)
		if !ok && value != nil {
			return fmt.Errorf("attributes.%s.constraints: expected map, got %T", name, value)
		}
		spec.Constraints = m
	default:
		return fmt.Errorf("unknown attribute field %q", segments[1])
	}
	g.Attributes[name] = spec
	return nil
}
