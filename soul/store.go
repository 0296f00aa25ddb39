// Package soul implements the content-addressed soul store: creation with
// hash dedup, alias binding, evolution and lineage walks.
package soul

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/hash"
	"github.com/soulstack/soulmesh/logging"
	"github.com/soulstack/soulmesh/metrics"
)

// Backend is the slice of storage the soul store needs.
type Backend interface {
	core.SoulBackend
	core.AliasBackend
	core.RelationBackend
}

// Options configures the soul store.
type Options struct {
	// Logger receives store operation logs. Defaults to NoOp.
	Logger logging.Logger

	// Metrics records operation outcomes. Defaults to NoOp.
	Metrics metrics.Recorder
}

// CreateOptions configures a single Create or Evolve call.
type CreateOptions struct {
	// Alias binds a human-readable name to the resulting soul's hash.
	Alias string
}

// WithAlias binds the alias to the created soul's hash, rebinding it if the
// alias already points elsewhere.
func WithAlias(alias string) func(o *CreateOptions) {
	return func(o *CreateOptions) {
		o.Alias = alias
	}
}

// Store creates and resolves souls. Souls are immutable after creation;
// identical canonical content always converges to one stored row, so two
// callers submitting the same genotype share a soul.
type Store struct {
	backend Backend
	logger  logging.Logger
	metrics metrics.Recorder
}

// New constructs a soul store over the backend.
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
	return &Store{backend: backend, logger: opts.Logger, metrics: opts.Metrics}
}

// Create hashes the genotype and persists a soul for it unless one already
// exists, in which case the existing soul is returned. Either way, an alias
// given via WithAlias ends up bound to the resulting hash.
func (s *Store) Create(ctx context.Context, genotype core.Genotype, optFns ...func(o *CreateOptions)) (*core.Soul, error) {
	start := time.Now()
	soul, err := s.create(ctx, genotype, optFns...)
	s.metrics.RecordOperation("soul", "create", time.Since(start), err == nil)
	return soul, err
}

func (s *Store) create(ctx context.Context, genotype core.Genotype, optFns ...func(o *CreateOptions)) (*core.Soul, error) {
	opts := CreateOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if genotype.Genesis.Name == "" {
		return nil, errors.New("genotype genesis.name is required")
	}

	contentHash, err := hash.Genotype(genotype)
	if err != nil {
		return nil, fmt.Errorf("hashing genotype: %w", err)
	}

	soul := &core.Soul{
		Hash:      contentHash,
		Genotype:  genotype.Clone(),
		CreatedAt: time.Now().UTC(),
	}

	stored, created, err := s.backend.InsertSoul(ctx, soul)
	if err != nil {
		return nil, fmt.Errorf("inserting soul: %w", err)
	}
	if created {
		s.logger.Debug("soul created", "hash", stored.Hash, "name", genotype.Genesis.Name)
	} else {
		s.logger.Debug("soul create deduplicated", "hash", stored.Hash)
	}

	if opts.Alias != "" {
		if _, err := s.backend.BindAlias(ctx, opts.Alias, stored.Hash); err != nil {
			return nil, fmt.Errorf("binding alias %q: %w", opts.Alias, err)
		}
	}
	return stored, nil
}

// Evolve applies dotted-path changes to a copy of the base soul's genotype
// and persists the result as a new soul, recording an evolution edge from
// the base hash to the new hash. The evolved genotype carries the base hash
// as genesis.parent_hash. If the changes collapse back to existing content
// the call dedups exactly like Create and records no edge.
func (s *Store) Evolve(ctx context.Context, base *core.Soul, changes map[string]any, optFns ...func(o *CreateOptions)) (*core.Soul, error) {
	start := time.Now()
	soul, err := s.evolve(ctx, base, changes, optFns...)
	s.metrics.RecordOperation("soul", "evolve", time.Since(start), err == nil)
	return soul, err
}

func (s *Store) evolve(ctx context.Context, base *core.Soul, changes map[string]any, optFns ...func(o *CreateOptions)) (*core.Soul, error) {
	if base == nil {
		return nil, errors.New("evolve: base soul is nil")
	}

	next := base.Genotype.Clone()

	// Deterministic application order keeps error reporting stable when
	// several paths are invalid.
	paths := make([]string, 0, len(changes))
	for path := range changes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := next.ApplyChange(path, changes[path]); err != nil {
			return nil, fmt.Errorf("applying change: %w", err)
		}
	}
	next.Genesis.ParentHash = string(base.Hash)

	evolved, err := s.create(ctx, next, optFns...)
	if err != nil {
		return nil, err
	}

	if evolved.Hash == base.Hash {
		// Changes collapsed to identical content.
		return evolved, nil
	}

	existing, err := s.backend.GetRelationshipsBetween(ctx, string(base.Hash), string(evolved.Hash), core.RelationEvolution)
	if err != nil {
		return nil, fmt.Errorf("checking evolution edge: %w", err)
	}
	if len(existing) == 0 {
		rel := &core.Relationship{
			ID:           uuid.NewString(),
			SourceID:     string(base.Hash),
			TargetID:     string(evolved.Hash),
			RelationType: core.RelationEvolution,
			Strength:     1.0,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.backend.InsertRelationship(ctx, rel); err != nil {
			return nil, fmt.Errorf("recording evolution edge: %w", err)
		}
	}

	s.logger.Info("soul evolved", "base", base.Hash, "hash", evolved.Hash)
	return evolved, nil
}

// GetByHash returns the soul for the hash or core.ErrSoulNotFound.
func (s *Store) GetByHash(ctx context.Context, h core.ContentHash) (*core.Soul, error) {
	return s.backend.GetSoul(ctx, h)
}

// GetByAlias resolves the alias to its current hash and returns that soul.
func (s *Store) GetByAlias(ctx context.Context, alias string) (*core.Soul, error) {
	binding, err := s.backend.GetAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	return s.backend.GetSoul(ctx, binding.CurrentHash)
}

// ResolveAlias returns the alias binding with its full rebind history.
func (s *Store) ResolveAlias(ctx context.Context, alias string) (*core.AliasBinding, error) {
	return s.backend.GetAlias(ctx, alias)
}

// Lineage returns the ancestor chain of the soul, root first and ending
// with the given hash. The walk follows genesis.parent_hash and tolerates
// cycles and dangling parents.
func (s *Store) Lineage(ctx context.Context, h core.ContentHash) ([]core.ContentHash, error) {
	if _, err := s.backend.GetSoul(ctx, h); err != nil {
		return nil, err
	}

	var chain []core.ContentHash
	seen := map[core.ContentHash]bool{}
	current := h
	for current != "" && !seen[current] {
		soul, err := s.backend.GetSoul(ctx, current)
		if errors.Is(err, core.ErrSoulNotFound) {
			// Dangling parent reference; stop at the last real ancestor.
			break
		}
		if err != nil {
			return nil, err
		}
		seen[current] = true
		chain = append(chain, current)
		current = core.ContentHash(soul.Genotype.Genesis.ParentHash)
	}

	// Collected child-first; callers get root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
