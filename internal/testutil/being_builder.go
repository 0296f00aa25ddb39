package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/soulstack/soulmesh/core"
)

// BeingBuilder helps construct beings with fluent chaining for tests.
// Example:
//
//	b := NewBeingBuilder(soulHash).Alias("alice").Data("age", int64(30)).Build()
//
// Chain only the parts you need; an ID and timestamps are generated when
// not overridden.
type BeingBuilder struct {
	id       string
	soulHash core.ContentHash
	alias    string
	data     map[string]any
	created  time.Time
}

// NewBeingBuilder creates a builder for a being bound to the given soul hash.
func NewBeingBuilder(soulHash core.ContentHash) *BeingBuilder {
	return &BeingBuilder{soulHash: soulHash, data: map[string]any{}}
}

// ID overrides the auto-generated being ID (chainable).
func (b *BeingBuilder) ID(id string) *BeingBuilder { b.id = id; return b }

// Alias sets the being's alias (chainable).
func (b *BeingBuilder) Alias(alias string) *BeingBuilder { b.alias = alias; return b }

// Data sets one data key/value pair (chainable).
func (b *BeingBuilder) Data(key string, val any) *BeingBuilder {
	b.data[key] = val
	return b
}

// CreatedAt overrides the creation timestamp, useful for ordering tests
// (chainable).
func (b *BeingBuilder) CreatedAt(t time.Time) *BeingBuilder { b.created = t; return b }

// Build returns a *core.Being with revision zero.
func (b *BeingBuilder) Build() *core.Being {
	id := b.id
	if id == "" {
		id = uuid.NewString()
	}
	created := b.created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	being := &core.Being{
		ID:        id,
		SoulHash:  b.soulHash,
		Alias:     b.alias,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for k, v := range b.data {
		if being.Data == nil {
			being.Data = map[string]any{}
		}
		being.Data[k] = v
	}
	return being
}
