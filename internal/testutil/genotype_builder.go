package testutil

import (
	"github.com/soulstack/soulmesh/core"
)

// GenotypeBuilder helps construct genotypes with fluent chaining for tests.
// Example:
//
//	g := NewGenotypeBuilder("person").Attr("age", "integer", Required()).Source(src).Build()
type GenotypeBuilder struct {
	genesis    core.Genesis
	attributes map[string]core.AttributeSpec
	source     string
}

// AttrOption mutates a single attribute spec during Attr.
type AttrOption func(spec *core.AttributeSpec)

// Required marks the attribute as required.
func Required() AttrOption {
	return func(spec *core.AttributeSpec) { spec.Required = true }
}

// Default sets the attribute's default value.
func Default(v any) AttrOption {
	return func(spec *core.AttributeSpec) { spec.Default = v }
}

// Constraint adds one constraint entry (e.g. "min", "pattern", "enum").
func Constraint(key string, v any) AttrOption {
	return func(spec *core.AttributeSpec) {
		if spec.Constraints == nil {
			spec.Constraints = map[string]any{}
		}
		spec.Constraints[key] = v
	}
}

// NewGenotypeBuilder creates a builder for a genotype with the given name.
// Use chainable methods (Version, Kind, Attr, Source) then call Build.
func NewGenotypeBuilder(name string) *GenotypeBuilder {
	return &GenotypeBuilder{
		genesis:    core.Genesis{Name: name},
		attributes: map[string]core.AttributeSpec{},
	}
}

// Version sets the genesis version (chainable).
func (b *GenotypeBuilder) Version(v string) *GenotypeBuilder {
	b.genesis.Version = v
	return b
}

// Kind sets the genesis kind (chainable).
func (b *GenotypeBuilder) Kind(k string) *GenotypeBuilder {
	b.genesis.Kind = k
	return b
}

// Description sets the genesis description (chainable).
func (b *GenotypeBuilder) Description(d string) *GenotypeBuilder {
	b.genesis.Description = d
	return b
}

// Attr declares an attribute with the given type tag (chainable).
func (b *GenotypeBuilder) Attr(name, typeTag string, optFns ...AttrOption) *GenotypeBuilder {
	spec := core.AttributeSpec{Type: typeTag}
	for _, fn := range optFns {
		fn(&spec)
	}
	b.attributes[name] = spec
	return b
}

// Source sets the genotype's module source (chainable).
func (b *GenotypeBuilder) Source(src string) *GenotypeBuilder {
	b.source = src
	return b
}

// Build returns the assembled genotype.
func (b *GenotypeBuilder) Build() core.Genotype {
	g := core.Genotype{
		Genesis:      b.genesis,
		ModuleSource: b.source,
	}
	if len(b.attributes) > 0 {
		g.Attributes = make(map[string]core.AttributeSpec, len(b.attributes))
		for name, spec := range b.attributes {
			g.Attributes[name] = spec
		}
	}
	return g
}
