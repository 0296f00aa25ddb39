package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/internal/testutil"
	"github.com/soulstack/soulmesh/storage/storagetest"
)

func testSoul(hash string, name string) *core.Soul {
	return &core.Soul{
		Hash: core.ContentHash(hash),
		Genotype: core.Genotype{
			Genesis: core.Genesis{Name: name},
			Attributes: map[string]core.AttributeSpec{
				"level": {Type: "integer", Default: 1},
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func testBeing(id, soulHash, alias string) *core.Being {
	return testutil.NewBeingBuilder(core.ContentHash(soulHash)).
		ID(id).
		Alias(alias).
		Data("level", int64(1)).
		Build()
}

func TestInMemoryStore_InsertSoul(t *testing.T) {
	t.Run("inserts and reports created", func(t *testing.T) {
		store := NewInMemoryStore()
		soul := testSoul("aaa", "wolf")

		got, created, err := store.InsertSoul(context.Background(), soul)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, soul.Hash, got.Hash)
	})

	t.Run("duplicate hash returns existing row", func(t *testing.T) {
		store := NewInMemoryStore()
		first := testSoul("aaa", "wolf")
		_, _, err := store.InsertSoul(context.Background(), first)
		require.NoError(t, err)

		again := testSoul("aaa", "wolf")
		got, created, err := store.InsertSoul(context.Background(), again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.CreatedAt, got.CreatedAt)
	})

	t.Run("concurrent identical inserts converge to one row", func(t *testing.T) {
		store := NewInMemoryStore()
		ctx := context.Background()

		var wg sync.WaitGroup
		createdCount := make(chan bool, 32)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := store.InsertSoul(ctx, testSoul("aaa", "wolf"))
				assert.NoError(t, err)
				createdCount <- created
			}()
		}
		wg.Wait()
		close(createdCount)

		wins := 0
		for created := range createdCount {
			if created {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("returned soul is a copy", func(t *testing.T) {
		store := NewInMemoryStore()
		got, _, err := store.InsertSoul(context.Background(), testSoul("aaa", "wolf"))
		require.NoError(t, err)

		got.Genotype.Genesis.Name = "mutated"
		reloaded, err := store.GetSoul(context.Background(), "aaa")
		require.NoError(t, err)
		assert.Equal(t, "wolf", reloaded.Genotype.Genesis.Name)
	})
}

func TestInMemoryStore_GetSoul(t *testing.T) {
	store := NewInMemoryStore()
	_, _, err := store.InsertSoul(context.Background(), testSoul("aaa", "wolf"))
	require.NoError(t, err)

	got, err := store.GetSoul(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, "wolf", got.Genotype.Genesis.Name)

	_, err = store.GetSoul(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSoulNotFound)
}

func TestInMemoryStore_Aliases(t *testing.T) {
	t.Run("bind and resolve", func(t *testing.T) {
		store := NewInMemoryStore()
		binding, err := store.BindAlias(context.Background(), "wolf", "aaa")
		require.NoError(t, err)
		assert.Equal(t, core.ContentHash("aaa"), binding.CurrentHash)
		require.Len(t, binding.History, 1)

		got, err := store.GetAlias(context.Background(), "wolf")
		require.NoError(t, err)
		assert.Equal(t, core.ContentHash("aaa"), got.CurrentHash)
	})

	t.Run("rebind appends history", func(t *testing.T) {
		store := NewInMemoryStore()
		_, err := store.BindAlias(context.Background(), "wolf", "aaa")
		require.NoError(t, err)
		binding, err := store.BindAlias(context.Background(), "wolf", "bbb")
		require.NoError(t, err)

		assert.Equal(t, core.ContentHash("bbb"), binding.CurrentHash)
		require.Len(t, binding.History, 2)
		assert.Equal(t, core.ContentHash("aaa"), binding.History[0].Hash)
		assert.Equal(t, core.ContentHash("bbb"), binding.History[1].Hash)
	})

	t.Run("rebinding same hash keeps history", func(t *testing.T) {
		store := NewInMemoryStore()
		_, err := store.BindAlias(context.Background(), "wolf", "aaa")
		require.NoError(t, err)
		binding, err := store.BindAlias(context.Background(), "wolf", "aaa")
		require.NoError(t, err)
		assert.Len(t, binding.History, 1)
	})

	t.Run("unknown alias", func(t *testing.T) {
		store := NewInMemoryStore()
		_, err := store.GetAlias(context.Background(), "nope")
		assert.ErrorIs(t, err, core.ErrAliasNotFound)
	})
}

func TestInMemoryStore_Beings(t *testing.T) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertBeing(ctx, testBeing("b1", "aaa", "alpha")))

		got, err := store.GetBeing(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "alpha", got.Alias)

		byAlias, err := store.GetBeingByAlias(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, "b1", byAlias.ID)
	})

	t.Run("duplicate alias rejected", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertBeing(ctx, testBeing("b1", "aaa", "alpha")))
		err := store.InsertBeing(ctx, testBeing("b2", "aaa", "alpha"))
		assert.ErrorIs(t, err, core.ErrDuplicateAlias)
	})

	t.Run("update requires matching revision", func(t *testing.T) {
		store := NewInMemoryStore()
		being := testBeing("b1", "aaa", "")
		require.NoError(t, store.InsertBeing(ctx, being))

		next := being.Clone()
		next.Data["level"] = int64(2)
		next.Revision = 1
		require.NoError(t, store.UpdateBeing(ctx, next, 0))

		stale := being.Clone()
		stale.Data["level"] = int64(9)
		err := store.UpdateBeing(ctx, stale, 0)
		assert.ErrorIs(t, err, core.ErrConflict)
	})

	t.Run("update reindexes alias", func(t *testing.T) {
		store := NewInMemoryStore()
		being := testBeing("b1", "aaa", "alpha")
		require.NoError(t, store.InsertBeing(ctx, being))

		next := being.Clone()
		next.Alias = "beta"
		next.Revision = 1
		require.NoError(t, store.UpdateBeing(ctx, next, 0))

		_, err := store.GetBeingByAlias(ctx, "alpha")
		assert.ErrorIs(t, err, core.ErrBeingNotFound)
		got, err := store.GetBeingByAlias(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, "b1", got.ID)
	})

	t.Run("update to taken alias rejected", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertBeing(ctx, testBeing("b1", "aaa", "alpha")))
		other := testBeing("b2", "aaa", "beta")
		require.NoError(t, store.InsertBeing(ctx, other))

		next := other.Clone()
		next.Alias = "alpha"
		err := store.UpdateBeing(ctx, next, 0)
		assert.ErrorIs(t, err, core.ErrDuplicateAlias)
	})

	t.Run("update missing being", func(t *testing.T) {
		store := NewInMemoryStore()
		err := store.UpdateBeing(ctx, testBeing("ghost", "aaa", ""), 0)
		assert.ErrorIs(t, err, core.ErrBeingNotFound)
	})

	t.Run("list by soul oldest first", func(t *testing.T) {
		store := NewInMemoryStore()
		older := testBeing("b1", "aaa", "")
		older.CreatedAt = time.Now().UTC().Add(-time.Hour)
		newer := testBeing("b2", "aaa", "")
		elsewhere := testBeing("b3", "bbb", "")
		require.NoError(t, store.InsertBeing(ctx, newer))
		require.NoError(t, store.InsertBeing(ctx, older))
		require.NoError(t, store.InsertBeing(ctx, elsewhere))

		got, err := store.ListBeingsBySoul(ctx, "aaa")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b1", got[0].ID)
		assert.Equal(t, "b2", got[1].ID)
	})

	t.Run("delete frees alias", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertBeing(ctx, testBeing("b1", "aaa", "alpha")))
		require.NoError(t, store.DeleteBeing(ctx, "b1"))

		_, err := store.GetBeing(ctx, "b1")
		assert.ErrorIs(t, err, core.ErrBeingNotFound)
		require.NoError(t, store.InsertBeing(ctx, testBeing("b2", "aaa", "alpha")))
	})

	t.Run("delete missing being", func(t *testing.T) {
		store := NewInMemoryStore()
		err := store.DeleteBeing(ctx, "ghost")
		assert.ErrorIs(t, err, core.ErrBeingNotFound)
	})

	t.Run("stored data is isolated from caller", func(t *testing.T) {
		store := NewInMemoryStore()
		being := testBeing("b1", "aaa", "")
		require.NoError(t, store.InsertBeing(ctx, being))

		being.Data["level"] = int64(99)
		got, err := store.GetBeing(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Data["level"])
	})
}

func TestInMemoryStore_Relationships(t *testing.T) {
	ctx := context.Background()

	rel := func(id, source, target, relType string) *core.Relationship {
		return &core.Relationship{
			ID:           id,
			SourceID:     source,
			TargetID:     target,
			RelationType: relType,
			Strength:     1.0,
			CreatedAt:    time.Now().UTC(),
		}
	}

	t.Run("between with type filter", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertRelationship(ctx, rel("r1", "a", "b", core.RelationEvolution)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r2", "a", "b", core.RelationAuthorship)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r3", "a", "c", core.RelationEvolution)))

		got, err := store.GetRelationshipsBetween(ctx, "a", "b", core.RelationEvolution)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].ID)

		all, err := store.GetRelationshipsBetween(ctx, "a", "b", "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("directional queries", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertRelationship(ctx, rel("r1", "a", "b", core.RelationAuthorship)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r2", "b", "c", core.RelationAuthorship)))

		out, err := store.GetRelationshipsFor(ctx, "b", core.DirectionOutbound, "")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "r2", out[0].ID)

		in, err := store.GetRelationshipsFor(ctx, "b", core.DirectionInbound, "")
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, "r1", in[0].ID)

		both, err := store.GetRelationshipsFor(ctx, "b", core.DirectionBoth, "")
		require.NoError(t, err)
		assert.Len(t, both, 2)
	})

	t.Run("insertion order preserved", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertRelationship(ctx, rel("r1", "a", "b", core.RelationEvolution)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r2", "a", "b", core.RelationEvolution)))

		got, err := store.GetRelationshipsBetween(ctx, "a", "b", "")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r1", got[0].ID)
		assert.Equal(t, "r2", got[1].ID)
	})

	t.Run("delete single edge", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertRelationship(ctx, rel("r1", "a", "b", core.RelationEvolution)))
		require.NoError(t, store.DeleteRelationship(ctx, "r1"))
		assert.ErrorIs(t, store.DeleteRelationship(ctx, "r1"), core.ErrRelationshipNotFound)
	})

	t.Run("delete all edges for entity", func(t *testing.T) {
		store := NewInMemoryStore()
		require.NoError(t, store.InsertRelationship(ctx, rel("r1", "a", "b", core.RelationAuthorship)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r2", "c", "a", core.RelationAuthorship)))
		require.NoError(t, store.InsertRelationship(ctx, rel("r3", "c", "d", core.RelationAuthorship)))

		removed, err := store.DeleteRelationshipsFor(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		left, err := store.GetRelationshipsFor(ctx, "c", core.DirectionOutbound, "")
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "r3", left[0].ID)
	})
}

func TestInMemoryStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) core.Storage {
		return NewInMemoryStore()
	})
}
