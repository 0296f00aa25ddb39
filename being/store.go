// Package being implements the mutable data-instance store. Beings bind
// validated, coerced data to a specific soul version and support optimistic
// concurrent updates.
package being

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
	"github.com/soulstack/soulmesh/metrics"
	"github.com/soulstack/soulmesh/schema"
)

// Backend is the slice of storage the being store needs.
type Backend interface {
	core.SoulBackend
	core.BeingBackend
	core.RelationBackend
}

// Options configures the being store.
type Options struct {
	// Coercer validates data against soul attribute schemas. Defaults to a
	// strict coercer.
	Coercer *schema.Coercer

	// Logger receives store operation logs. Defaults to NoOp.
	Logger logging.Logger

	// Metrics records operation outcomes. Defaults to NoOp.
	Metrics metrics.Recorder

	// MaxUpdateRetries bounds how often an optimistic update is retried
	// after losing a revision race.
	MaxUpdateRetries int
}

// CreateOptions configures a single Create call.
type CreateOptions struct {
	// Alias gives the being a unique human-readable name.
	Alias string

	// Transient skips persistence: the returned being carries coerced data
	// for in-process use only.
	Transient bool
}

// WithAlias names the created being. Aliases are unique across beings.
func WithAlias(alias string) func(o *CreateOptions) {
	return func(o *CreateOptions) {
		o.Alias = alias
	}
}

// AsTransient returns a coerced being without writing a storage row.
func AsTransient() func(o *CreateOptions) {
	return func(o *CreateOptions) {
		o.Transient = true
	}
}

// Store creates, loads and updates beings.
type Store struct {
	backend    Backend
	coercer    *schema.Coercer
	logger     logging.Logger
	metrics    metrics.Recorder
	maxRetries int
}

// New constructs a being store over the backend.
func New(backend Backend, optFns ...func(o *Options)) *Store {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		Metrics:          metrics.NoOpRecorder{},
		MaxUpdateRetries: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Coercer == nil {
		opts.Coercer = schema.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpRecorder{}
	}
	if opts.MaxUpdateRetries < 1 {
		opts.MaxUpdateRetries = 1
	}
	return &Store{
		backend:    backend,
		coercer:    opts.Coercer,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		maxRetries: opts.MaxUpdateRetries,
	}
}

// Create validates and coerces data against the soul's attributes and
// persists a new being bound to that soul. With AsTransient the coerced
// being is returned without any storage write.
func (s *Store) Create(ctx context.Context, soul *core.Soul, data map[string]any, optFns ...func(o *CreateOptions)) (*core.Being, error) {
	start := time.Now()
	being, err := s.create(ctx, soul, data, optFns...)
	s.metrics.RecordOperation("being", "create", time.Since(start), err == nil)
	return being, err
}

func (s *Store) create(ctx context.Context, soul *core.Soul, data map[string]any, optFns ...func(o *CreateOptions)) (*core.Being, error) {
	opts := CreateOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if soul == nil {
		return nil, errors.New("create being: soul is nil")
	}

	coerced, errs := s.coercer.ValidateAndCoerce(data, soul.Genotype.Attributes)
	if len(errs) > 0 {
		return nil, schema.Errors(errs)
	}

	now := time.Now().UTC()
	being := &core.Being{
		ID:        uuid.NewString(),
		SoulHash:  soul.Hash,
		Alias:     opts.Alias,
		Data:      coerced,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if opts.Transient {
		return being, nil
	}

	if _, err := s.backend.GetSoul(ctx, soul.Hash); err != nil {
		return nil, fmt.Errorf("resolving soul %s: %w", soul.Hash, err)
	}
	if err := s.backend.InsertBeing(ctx, being); err != nil {
		return nil, err
	}
	being.MarkPersistent()

	// Structural fact: this being instantiates that soul.
	embodiment := &core.Relationship{
		ID:           uuid.NewString(),
		SourceID:     being.ID,
		TargetID:     string(soul.Hash),
		RelationType: core.RelationEmbodiment,
		Strength:     1.0,
		CreatedAt:    now,
	}
	if err := s.backend.InsertRelationship(ctx, embodiment); err != nil {
		return nil, fmt.Errorf("recording embodiment edge: %w", err)
	}

	s.logger.Debug("being created", "id", being.ID, "soul", soul.Hash, "alias", opts.Alias)
	return being, nil
}

// GetOrCreate returns the being matching the unique key, shallow-merging
// the supplied data over the stored data (caller wins) when a match exists,
// or creates a new persistent being otherwise.
func (s *Store) GetOrCreate(ctx context.Context, soul *core.Soul, key core.UniqueKey, data map[string]any) (*core.Being, error) {
	start := time.Now()
	being, err := s.getOrCreate(ctx, soul, key, data)
	s.metrics.RecordOperation("being", "get_or_create", time.Since(start), err == nil)
	return being, err
}

func (s *Store) getOrCreate(ctx context.Context, soul *core.Soul, key core.UniqueKey, data map[string]any) (*core.Being, error) {
	if soul == nil {
		return nil, errors.New("get or create being: soul is nil")
	}

	existing, err := s.findByKey(ctx, soul, key)
	if err != nil && !errors.Is(err, core.ErrBeingNotFound) {
		return nil, err
	}
	if existing != nil {
		if len(data) == 0 {
			return existing, nil
		}
		return s.Update(ctx, existing, data)
	}

	var createOpts []func(o *CreateOptions)
	if key.Kind == core.UniqueByAlias {
		createOpts = append(createOpts, WithAlias(key.Alias))
	}
	return s.create(ctx, soul, data, createOpts...)
}

func (s *Store) findByKey(ctx context.Context, soul *core.Soul, key core.UniqueKey) (*core.Being, error) {
	switch key.Kind {
	case core.UniqueByAlias:
		if key.Alias == "" {
			return nil, errors.New("alias key requires a non-empty alias")
		}
		return s.backend.GetBeingByAlias(ctx, key.Alias)
	case core.UniqueBySoulSingleton:
		beings, err := s.backend.ListBeingsBySoul(ctx, soul.Hash)
		if err != nil {
			return nil, err
		}
		if len(beings) == 0 {
			return nil, core.ErrBeingNotFound
		}
		return beings[0], nil
	default:
		return nil, fmt.Errorf("unknown unique key kind %d", key.Kind)
	}
}

// Update shallow-merges data over the being's current data (caller wins),
// re-validates the merge against the bound soul's schema and persists it
// under optimistic concurrency. Lost races are retried against fresh state
// a bounded number of times. Transient beings are updated in memory only.
func (s *Store) Update(ctx context.Context, being *core.Being, data map[string]any) (*core.Being, error) {
	start := time.Now()
	updated, err := s.update(ctx, being, data)
	s.metrics.RecordOperation("being", "update", time.Since(start), err == nil)
	return updated, err
}

func (s *Store) update(ctx context.Context, being *core.Being, data map[string]any) (*core.Being, error) {
	if being == nil {
		return nil, errors.New("update being: being is nil")
	}

	soul, err := s.backend.GetSoul(ctx, being.SoulHash)
	if err != nil {
		return nil, fmt.Errorf("resolving soul %s: %w", being.SoulHash, err)
	}

	if !being.Persistent() {
		merged := mergeData(being.Data, data)
		coerced, errs := s.coercer.ValidateAndCoerce(merged, soul.Genotype.Attributes)
		if len(errs) > 0 {
			return nil, schema.Errors(errs)
		}
		next := being.Clone()
		next.Data = coerced
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	}

	current := being
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		merged := mergeData(current.Data, data)
		coerced, errs := s.coercer.ValidateAndCoerce(merged, soul.Genotype.Attributes)
		if len(errs) > 0 {
			return nil, schema.Errors(errs)
		}

		next := current.Clone()
		next.Data = coerced
		next.UpdatedAt = time.Now().UTC()
		next.Revision = current.Revision + 1

		err := s.backend.UpdateBeing(ctx, next, current.Revision)
		if err == nil {
			next.MarkPersistent()
			return next, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return nil, err
		}

		// Lost the race; reload and merge against the winner's state.
		current, err = s.backend.GetBeing(ctx, being.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("being update retrying after conflict", "id", being.ID, "attempt", attempt+1)
	}
	return nil, core.ErrConflict
}

// Load returns the being for the id or core.ErrBeingNotFound.
func (s *Store) Load(ctx context.Context, id string) (*core.Being, error) {
	return s.backend.GetBeing(ctx, id)
}

// LoadByAlias returns the being carrying the alias or core.ErrBeingNotFound.
func (s *Store) LoadByAlias(ctx context.Context, alias string) (*core.Being, error) {
	return s.backend.GetBeingByAlias(ctx, alias)
}

// ListBySoul returns every being bound to the soul hash, oldest first.
func (s *Store) ListBySoul(ctx context.Context, soulHash core.ContentHash) ([]*core.Being, error) {
	return s.backend.ListBeingsBySoul(ctx, soulHash)
}

// Delete removes the being and every relationship touching it.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.delete(ctx, id)
	s.metrics.RecordOperation("being", "delete", time.Since(start), err == nil)
	return err
}

func (s *Store) delete(ctx context.Context, id string) error {
	if err := s.backend.DeleteBeing(ctx, id); err != nil {
		return err
	}
	removed, err := s.backend.DeleteRelationshipsFor(ctx, id)
	if err != nil {
		return fmt.Errorf("revoking relationships for %s: %w", id, err)
	}
	s.logger.Debug("being deleted", "id", id, "relationships_removed", removed)
	return nil
}

// mergeData shallow-merges overlay over base, caller wins on key collisions.
func mergeData(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
