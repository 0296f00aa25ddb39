package core

import "time"

// Well-known relation types. The set is open: callers may introduce their
// own types, these are the ones the core itself creates or interprets.
const (
	// RelationEvolution links a parent soul hash to the soul it evolved into.
	RelationEvolution = "evolution"
	// RelationAuthorship links a creating entity to what it created.
	RelationAuthorship = "authorship"
	// RelationEmbodiment links a being to the soul it instantiates.
	RelationEmbodiment = "embodiment"
)

// Direction selects which edges of an entity a relationship query returns.
type Direction int

const (
	// DirectionOutbound returns edges whose source is the entity.
	DirectionOutbound Direction = iota
	// DirectionInbound returns edges whose target is the entity.
	DirectionInbound
	// DirectionBoth returns edges touching the entity on either end.
	DirectionBoth
)

// Relationship is a typed directed edge between two entity identifiers
// (soul hashes or being IDs). Strength is a weight in [0,1]; Metadata is an
// open key/value bag. Relationships are append-mostly: created alongside
// operations that express structural facts and removed when an endpoint is
// deleted or explicitly revoked.
type Relationship struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType string         `json:"relation_type"`
	Strength     float64        `json:"strength"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		cp := deepCopyValue(r.Metadata)
		out.Metadata, _ = cp.(map[string]any)
	}
	return &out
}
