package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soulstack/soulmesh/core"
)

// InMemoryStore is a volatile core.Storage implementation keeping all rows
// in process-local maps. It is safe for concurrent access and best suited
// for tests, examples and transient computation. Every returned record is
// cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	souls         map[core.ContentHash]*core.Soul
	aliases       map[string]*core.AliasBinding
	beings        map[string]*core.Being
	beingAliases  map[string]string // alias -> being id
	relationships map[string]*core.Relationship
	relOrder      []string // insertion order for deterministic scans
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		souls:         make(map[core.ContentHash]*core.Soul),
		aliases:       make(map[string]*core.AliasBinding),
		beings:        make(map[string]*core.Being),
		beingAliases:  make(map[string]string),
		relationships: make(map[string]*core.Relationship),
	}
}

// InsertSoul inserts the soul unless its hash is already present. The
// lookup and insert happen under one write lock, so concurrent inserts of
// identical content converge to a single row.
func (s *InMemoryStore) InsertSoul(_ context.Context, soul *core.Soul) (*core.Soul, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.souls[soul.Hash]; ok {
		return existing.Clone(), false, nil
	}
	s.souls[soul.Hash] = soul.Clone()
	return soul.Clone(), true, nil
}

// GetSoul returns the soul for the hash or core.ErrSoulNotFound.
func (s *InMemoryStore) GetSoul(_ context.Context, hash core.ContentHash) (*core.Soul, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	soul, ok := s.souls[hash]
	if !ok {
		return nil, core.ErrSoulNotFound
	}
	return soul.Clone(), nil
}

// BindAlias points the alias at the hash, appending to its history. The
// write lock serializes rebinding per alias key.
func (s *InMemoryStore) BindAlias(_ context.Context, alias string, hash core.ContentHash) (*core.AliasBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.aliases[alias]
	if !ok {
		binding = &core.AliasBinding{Alias: alias}
		s.aliases[alias] = binding
	}
	if binding.CurrentHash != hash {
		binding.CurrentHash = hash
		binding.History = append(binding.History, core.AliasEvent{Hash: hash, BoundAt: time.Now().UTC()})
	} else if len(binding.History) == 0 {
		binding.History = append(binding.History, core.AliasEvent{Hash: hash, BoundAt: time.Now().UTC()})
	}
	return binding.Clone(), nil
}

// GetAlias returns the binding for the alias or core.ErrAliasNotFound.
func (s *InMemoryStore) GetAlias(_ context.Context, alias string) (*core.AliasBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	binding, ok := s.aliases[alias]
	if !ok {
		return nil, core.ErrAliasNotFound
	}
	return binding.Clone(), nil
}

// InsertBeing stores a new being row, enforcing alias uniqueness.
func (s *InMemoryStore) InsertBeing(_ context.Context, being *core.Being) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if being.Alias != "" {
		if _, taken := s.beingAliases[being.Alias]; taken {
			return core.ErrDuplicateAlias
		}
		s.beingAliases[being.Alias] = being.ID
	}
	s.beings[being.ID] = being.Clone()
	return nil
}

// UpdateBeing replaces the row when the stored revision matches, returning
// core.ErrConflict on a lost race.
func (s *InMemoryStore) UpdateBeing(_ context.Context, being *core.Being, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.beings[being.ID]
	if !ok {
		return core.ErrBeingNotFound
	}
	if stored.Revision != expectedRevision {
		return core.ErrConflict
	}
	if stored.Alias != being.Alias {
		if being.Alias != "" {
			if owner, taken := s.beingAliases[being.Alias]; taken && owner != being.ID {
				return core.ErrDuplicateAlias
			}
			s.beingAliases[being.Alias] = being.ID
		}
		if stored.Alias != "" {
			delete(s.beingAliases, stored.Alias)
		}
	}
	s.beings[being.ID] = being.Clone()
	return nil
}

// GetBeing returns the being for the id or core.ErrBeingNotFound.
func (s *InMemoryStore) GetBeing(_ context.Context, id string) (*core.Being, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	being, ok := s.beings[id]
	if !ok {
		return nil, core.ErrBeingNotFound
	}
	return being.Clone(), nil
}

// GetBeingByAlias returns the being carrying the alias or core.ErrBeingNotFound.
func (s *InMemoryStore) GetBeingByAlias(_ context.Context, alias string) (*core.Being, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.beingAliases[alias]
	if !ok {
		return nil, core.ErrBeingNotFound
	}
	being, ok := s.beings[id]
	if !ok {
		return nil, core.ErrBeingNotFound
	}
	return being.Clone(), nil
}

// ListBeingsBySoul returns all beings bound to the soul hash, oldest first.
func (s *InMemoryStore) ListBeingsBySoul(_ context.Context, hash core.ContentHash) ([]*core.Being, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Being
	for _, being := range s.beings {
		if being.SoulHash == hash {
			out = append(out, being.Clone())
		}
	}
	sortBeingsByCreation(out)
	return out, nil
}

// DeleteBeing removes the row or returns core.ErrBeingNotFound.
func (s *InMemoryStore) DeleteBeing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	being, ok := s.beings[id]
	if !ok {
		return core.ErrBeingNotFound
	}
	if being.Alias != "" {
		delete(s.beingAliases, being.Alias)
	}
	delete(s.beings, id)
	return nil
}

// InsertRelationship stores a new edge.
func (s *InMemoryStore) InsertRelationship(_ context.Context, rel *core.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[rel.ID] = rel.Clone()
	s.relOrder = append(s.relOrder, rel.ID)
	return nil
}

// GetRelationshipsBetween returns edges from source to target, optionally
// filtered by relation type, oldest first.
func (s *InMemoryStore) GetRelationshipsBetween(_ context.Context, sourceID, targetID, relationType string) ([]*core.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Relationship
	for _, id := range s.relOrder {
		rel, ok := s.relationships[id]
		if !ok {
			continue
		}
		if rel.SourceID != sourceID || rel.TargetID != targetID {
			continue
		}
		if relationType != "" && rel.RelationType != relationType {
			continue
		}
		out = append(out, rel.Clone())
	}
	return out, nil
}

// GetRelationshipsFor returns edges touching the entity in the given
// direction, optionally filtered by relation type, oldest first.
func (s *InMemoryStore) GetRelationshipsFor(_ context.Context, entityID string, direction core.Direction, relationType string) ([]*core.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Relationship
	for _, id := range s.relOrder {
		rel, ok := s.relationships[id]
		if !ok {
			continue
		}
		if relationType != "" && rel.RelationType != relationType {
			continue
		}
		match := false
		switch direction {
		case core.DirectionOutbound:
			match = rel.SourceID == entityID
		case core.DirectionInbound:
			match = rel.TargetID == entityID
		case core.DirectionBoth:
			match = rel.SourceID == entityID || rel.TargetID == entityID
		}
		if match {
			out = append(out, rel.Clone())
		}
	}
	return out, nil
}

// DeleteRelationship removes the edge or returns core.ErrRelationshipNotFound.
func (s *InMemoryStore) DeleteRelationship(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[id]; !ok {
		return core.ErrRelationshipNotFound
	}
	delete(s.relationships, id)
	return nil
}

// DeleteRelationshipsFor removes every edge touching the entity.
func (s *InMemoryStore) DeleteRelationshipsFor(_ context.Context, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rel := range s.relationships {
		if rel.SourceID == entityID || rel.TargetID == entityID {
			delete(s.relationships, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func sortBeingsByCreation(beings []*core.Being) {
	sort.SliceStable(beings, func(i, j int) bool {
		return beings[i].CreatedAt.Before(beings[j].CreatedAt)
	})
}
