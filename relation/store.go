// Package relation implements the typed-edge store connecting souls and
// beings. It enforces endpoint existence and per-type self-loop rules; it
// carries no other business meaning.
package relation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
	"github.com/soulstack/soulmesh/metrics"
)

// ErrSelfLoop is returned when source and target are the same entity and
// the relation type does not allow it.
var ErrSelfLoop = errors.New("self-loop not allowed for relation type")

// Backend is the slice of storage the relation store needs. Soul and being
// backends resolve endpoint references.
type Backend interface {
	core.SoulBackend
	core.BeingBackend
	core.RelationBackend
}

// Options configures the relation store.
type Options struct {
	// SelfLoopTypes lists relation types permitted to connect an entity to
	// itself. Empty by default.
	SelfLoopTypes []string

	// Logger receives store operation logs. Defaults to NoOp.
	Logger logging.Logger

	// Metrics records operation outcomes. Defaults to NoOp.
	Metrics metrics.Recorder
}

// Store creates and queries relationships.
type Store struct {
	backend   Backend
	selfLoops map[string]bool
	logger    logging.Logger
	metrics   metrics.Recorder
}

// New constructs a relation store over the backend.
func New(backend Backend, optFns ...func(o *Options)) *Store {
	opts := Options{
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NoOpRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpRecorder{}
	}
	selfLoops := make(map[string]bool, len(opts.SelfLoopTypes))
	for _, relType := range opts.SelfLoopTypes {
		selfLoops[relType] = true
	}
	return &Store{
		backend:   backend,
		selfLoops: selfLoops,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Create records a typed edge from source to target. Both endpoints must
// reference an existing soul hash or being id. Strength is clamped to
// [0, 1].
func (s *Store) Create(ctx context.Context, sourceID, targetID, relationType string, strength float64, metadata map[string]any) (*core.Relationship, error) {
	start := time.Now()
	rel, err := s.create(ctx, sourceID, targetID, relationType, strength, metadata)
	s.metrics.RecordOperation("relation", "create", time.Since(start), err == nil)
	return rel, err
}

func (s *Store) create(ctx context.Context, sourceID, targetID, relationType string, strength float64, metadata map[string]any) (*core.Relationship, error) {
	if relationType == "" {
		return nil, errors.New("relation type is required")
	}
	if sourceID == targetID && !s.selfLoops[relationType] {
		return nil, fmt.Errorf("%w: %s", ErrSelfLoop, relationType)
	}
	if err := s.checkEndpoint(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceID, err)
	}
	if sourceID != targetID {
		if err := s.checkEndpoint(ctx, targetID); err != nil {
			return nil, fmt.Errorf("target %s: %w", targetID, err)
		}
	}

	rel := &core.Relationship{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		TargetID:     targetID,
		RelationType: relationType,
		Strength:     clampStrength(strength),
		CreatedAt:    time.Now().UTC(),
	}
	if metadata != nil {
		rel.Metadata = metadata
	}

	if err := s.backend.InsertRelationship(ctx, rel); err != nil {
		return nil, err
	}
	s.logger.Debug("relationship created", "id", rel.ID, "type", relationType,
		"source", sourceID, "target", targetID)
	return rel.Clone(), nil
}

// checkEndpoint accepts an id naming either a stored soul or a stored being.
func (s *Store) checkEndpoint(ctx context.Context, id string) error {
	_, err := s.backend.GetSoul(ctx, core.ContentHash(id))
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrSoulNotFound) {
		return err
	}
	_, err = s.backend.GetBeing(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrBeingNotFound) {
		return err
	}
	return core.ErrEntityNotFound
}

// GetBetween returns edges from source to target, optionally filtered by
// relation type, oldest first.
func (s *Store) GetBetween(ctx context.Context, sourceID, targetID, relationType string) ([]*core.Relationship, error) {
	return s.backend.GetRelationshipsBetween(ctx, sourceID, targetID, relationType)
}

// GetFor returns edges touching the entity in the given direction,
// optionally filtered by relation type, oldest first.
func (s *Store) GetFor(ctx context.Context, entityID string, direction core.Direction, relationType string) ([]*core.Relationship, error) {
	return s.backend.GetRelationshipsFor(ctx, entityID, direction, relationType)
}

// Delete removes the edge or returns core.ErrRelationshipNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.DeleteRelationship(ctx, id)
}

// DeleteFor removes every edge touching the entity, returning how many
// were removed.
func (s *Store) DeleteFor(ctx context.Context, entityID string) (int, error) {
	return s.backend.DeleteRelationshipsFor(ctx, entityID)
}

func clampStrength(strength float64) float64 {
	switch {
	case strength < 0:
		return 0
	case strength > 1:
		return 1
	default:
		return strength
	}
}
