package core

import "context"

// SoulBackend persists immutable soul rows keyed by content hash.
// Implementations must be safe for concurrent use.
type SoulBackend interface {
	// InsertSoul atomically inserts the soul unless a row for its hash
	// already exists. It returns the stored soul and whether this call
	// created it. Concurrent inserts of identical content must converge to
	// exactly one row; a check-then-insert race is not an acceptable
	// implementation.
	InsertSoul(ctx context.Context, soul *Soul) (*Soul, bool, error)

	// GetSoul returns the soul for the hash or ErrSoulNotFound.
	GetSoul(ctx context.Context, hash ContentHash) (*Soul, error)
}

// AliasBackend persists mutable alias → hash bindings with full history.
type AliasBackend interface {
	// BindAlias points the alias at the hash, appending to its history.
	// Rebinding is serialized per alias key and never discards history.
	BindAlias(ctx context.Context, alias string, hash ContentHash) (*AliasBinding, error)

	// GetAlias returns the binding for the alias or ErrAliasNotFound.
	GetAlias(ctx context.Context, alias string) (*AliasBinding, error)
}

// BeingBackend persists mutable being rows. Updates use optimistic
// concurrency: an update only applies when the caller holds the current
// revision, otherwise ErrConflict is returned.
type BeingBackend interface {
	// InsertBeing stores a new being row. A non-empty alias must be unique
	// across beings (ErrDuplicateAlias otherwise).
	InsertBeing(ctx context.Context, being *Being) error

	// UpdateBeing replaces the row if the stored revision matches
	// expectedRevision, returning ErrConflict on mismatch and
	// ErrBeingNotFound if the row is gone.
	UpdateBeing(ctx context.Context, being *Being, expectedRevision int64) error

	// GetBeing returns the being for the id or ErrBeingNotFound.
	GetBeing(ctx context.Context, id string) (*Being, error)

	// GetBeingByAlias returns the being carrying the alias or ErrBeingNotFound.
	GetBeingByAlias(ctx context.Context, alias string) (*Being, error)

	// ListBeingsBySoul returns all beings bound to the soul hash, oldest first.
	ListBeingsBySoul(ctx context.Context, hash ContentHash) ([]*Being, error)

	// DeleteBeing removes the row or returns ErrBeingNotFound.
	DeleteBeing(ctx context.Context, id string) error
}

// RelationBackend persists typed directed edges between entity identifiers.
type RelationBackend interface {
	// InsertRelationship stores a new edge.
	InsertRelationship(ctx context.Context, rel *Relationship) error

	// GetRelationshipsBetween returns edges from source to target,
	// optionally filtered by relation type ("" matches all), oldest first.
	GetRelationshipsBetween(ctx context.Context, sourceID, targetID, relationType string) ([]*Relationship, error)

	// GetRelationshipsFor returns edges touching the entity in the given
	// direction, optionally filtered by relation type, oldest first.
	GetRelationshipsFor(ctx context.Context, entityID string, direction Direction, relationType string) ([]*Relationship, error)

	// DeleteRelationship removes the edge or returns ErrRelationshipNotFound.
	DeleteRelationship(ctx context.Context, id string) error

	// DeleteRelationshipsFor removes every edge touching the entity,
	// returning how many were removed. Used for endpoint cleanup.
	DeleteRelationshipsFor(ctx context.Context, entityID string) (int, error)
}

// Storage aggregates every backend the stores need. Any relational or
// embedded engine exposing insert-if-absent, keyed lookup, secondary-index
// lookup, history append and filtered scan can satisfy it.
type Storage interface {
	SoulBackend
	AliasBackend
	BeingBackend
	RelationBackend

	// Close releases backend resources.
	Close() error
}
