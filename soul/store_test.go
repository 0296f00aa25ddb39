package soul

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/hash"
	"github.com/soulstack/soulmesh/storage"
)

func calcGenotype() core.Genotype {
	return core.Genotype{
		Genesis: core.Genesis{Name: "calc", Version: "1.0"},
		Attributes: map[string]core.AttributeSpec{
			"x": {Type: "integer"},
		},
		ModuleSource: "function add(a, b) return a + b end",
	}
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("returns soul with content hash", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		soul, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)
		assert.True(t, hash.Valid(string(soul.Hash)))
		assert.Equal(t, "calc", soul.Genotype.Genesis.Name)
	})

	t.Run("identical content dedups to one soul", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		first, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)
		second, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		assert.Equal(t, first.Hash, second.Hash)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
	})

	t.Run("concurrent creates converge", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		hashes := make(chan core.ContentHash, 16)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				soul, err := store.Create(ctx, calcGenotype())
				assert.NoError(t, err)
				hashes <- soul.Hash
			}()
		}
		wg.Wait()
		close(hashes)

		first := <-hashes
		for h := range hashes {
			assert.Equal(t, first, h)
		}
	})

	t.Run("missing name rejected", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		_, err := store.Create(ctx, core.Genotype{})
		assert.ErrorContains(t, err, "genesis.name")
	})

	t.Run("alias bound to hash", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		soul, err := store.Create(ctx, calcGenotype(), WithAlias("calc"))
		require.NoError(t, err)

		got, err := store.GetByAlias(ctx, "calc")
		require.NoError(t, err)
		assert.Equal(t, soul.Hash, got.Hash)
	})

	t.Run("alias on dedup hit still rebinds", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		first, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)
		_, err = store.Create(ctx, calcGenotype(), WithAlias("calc"))
		require.NoError(t, err)

		binding, err := store.ResolveAlias(ctx, "calc")
		require.NoError(t, err)
		assert.Equal(t, first.Hash, binding.CurrentHash)
	})
}

func TestStore_Evolve(t *testing.T) {
	ctx := context.Background()

	t.Run("new content gets new hash and lineage", func(t *testing.T) {
		backend := storage.NewInMemoryStore()
		store := New(backend)
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		evolved, err := store.Evolve(ctx, base, map[string]any{
			"genesis.description": "v2",
		})
		require.NoError(t, err)

		assert.NotEqual(t, base.Hash, evolved.Hash)
		assert.Equal(t, "v2", evolved.Genotype.Genesis.Description)
		assert.Equal(t, string(base.Hash), evolved.Genotype.Genesis.ParentHash)

		chain, err := store.Lineage(ctx, evolved.Hash)
		require.NoError(t, err)
		assert.Equal(t, []core.ContentHash{base.Hash, evolved.Hash}, chain)
	})

	t.Run("records evolution edge", func(t *testing.T) {
		backend := storage.NewInMemoryStore()
		store := New(backend)
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)
		evolved, err := store.Evolve(ctx, base, map[string]any{"genesis.version": "2.0"})
		require.NoError(t, err)

		edges, err := backend.GetRelationshipsBetween(ctx, string(base.Hash), string(evolved.Hash), core.RelationEvolution)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, 1.0, edges[0].Strength)
	})

	t.Run("repeated evolve keeps one edge", func(t *testing.T) {
		backend := storage.NewInMemoryStore()
		store := New(backend)
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		changes := map[string]any{"genesis.version": "2.0"}
		evolved, err := store.Evolve(ctx, base, changes)
		require.NoError(t, err)
		again, err := store.Evolve(ctx, base, changes)
		require.NoError(t, err)
		assert.Equal(t, evolved.Hash, again.Hash)

		edges, err := backend.GetRelationshipsBetween(ctx, string(base.Hash), string(evolved.Hash), core.RelationEvolution)
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("collapsing changes dedup without edge", func(t *testing.T) {
		backend := storage.NewInMemoryStore()
		store := New(backend)
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		// Re-stating the existing version is not new content.
		same, err := store.Evolve(ctx, base, map[string]any{"genesis.version": "1.0"})
		require.NoError(t, err)
		assert.Equal(t, base.Hash, same.Hash)

		edges, err := backend.GetRelationshipsFor(ctx, string(base.Hash), core.DirectionBoth, core.RelationEvolution)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("attribute changes evolve content", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		evolved, err := store.Evolve(ctx, base, map[string]any{
			"attributes.x.default":  int64(7),
			"attributes.x.required": true,
		})
		require.NoError(t, err)
		assert.NotEqual(t, base.Hash, evolved.Hash)
		spec := evolved.Genotype.Attributes["x"]
		assert.Equal(t, int64(7), spec.Default)
		assert.True(t, spec.Required)
	})

	t.Run("invalid path rejected", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		base, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)

		_, err = store.Evolve(ctx, base, map[string]any{"bogus.path": 1})
		assert.ErrorContains(t, err, "unknown genotype path")
	})
}

func TestStore_Lineage(t *testing.T) {
	ctx := context.Background()

	t.Run("multi-step chain is root first", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		root, err := store.Create(ctx, calcGenotype())
		require.NoError(t, err)
		mid, err := store.Evolve(ctx, root, map[string]any{"genesis.version": "2.0"})
		require.NoError(t, err)
		tip, err := store.Evolve(ctx, mid, map[string]any{"genesis.version": "3.0"})
		require.NoError(t, err)

		chain, err := store.Lineage(ctx, tip.Hash)
		require.NoError(t, err)
		assert.Equal(t, []core.ContentHash{root.Hash, mid.Hash, tip.Hash}, chain)
	})

	t.Run("missing soul", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		_, err := store.Lineage(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrSoulNotFound)
	})

	t.Run("cycle terminates", func(t *testing.T) {
		backend := storage.NewInMemoryStore()
		store := New(backend)

		// Two rows pointing at each other, inserted behind the store's back.
		a := &core.Soul{
			Hash:      "aaa",
			Genotype:  core.Genotype{Genesis: core.Genesis{Name: "a", ParentHash: "bbb"}},
			CreatedAt: time.Now().UTC(),
		}
		b := &core.Soul{
			Hash:      "bbb",
			Genotype:  core.Genotype{Genesis: core.Genesis{Name: "b", ParentHash: "aaa"}},
			CreatedAt: time.Now().UTC(),
		}
		_, _, err := backend.InsertSoul(ctx, a)
		require.NoError(t, err)
		_, _, err = backend.InsertSoul(ctx, b)
		require.NoError(t, err)

		chain, err := store.Lineage(ctx, "aaa")
		require.NoError(t, err)
		assert.Equal(t, []core.ContentHash{"bbb", "aaa"}, chain)
	})
}

func TestStore_Resolution(t *testing.T) {
	ctx := context.Background()

	t.Run("alias history across rebinds", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		first, err := store.Create(ctx, calcGenotype(), WithAlias("calc"))
		require.NoError(t, err)
		second, err := store.Evolve(ctx, first, map[string]any{"genesis.version": "2.0"}, WithAlias("calc"))
		require.NoError(t, err)

		binding, err := store.ResolveAlias(ctx, "calc")
		require.NoError(t, err)
		assert.Equal(t, second.Hash, binding.CurrentHash)
		require.Len(t, binding.History, 2)
		assert.Equal(t, first.Hash, binding.History[0].Hash)

		// The previous version stays reachable by hash.
		old, err := store.GetByHash(ctx, first.Hash)
		require.NoError(t, err)
		assert.Equal(t, "1.0", old.Genotype.Genesis.Version)
	})

	t.Run("unknown alias", func(t *testing.T) {
		store := New(storage.NewInMemoryStore())
		_, err := store.GetByAlias(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrAliasNotFound)
	})
}
