// Package storagetest provides a conformance suite every core.Storage
// implementation must pass. Backend test files call Run with a factory
// producing a fresh, empty store per subtest.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/internal/testutil"
)

// Factory produces a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) core.Storage

// Run exercises the storage contract against the factory's stores.
func Run(t *testing.T, open Factory) {
	t.Run("soul insert is idempotent per hash", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		s := conformanceSoul("c01")

		_, created, err := store.InsertSoul(ctx, s)
		require.NoError(t, err)
		assert.True(t, created)

		_, created, err = store.InsertSoul(ctx, conformanceSoul("c01"))
		require.NoError(t, err)
		assert.False(t, created)

		got, err := store.GetSoul(ctx, s.Hash)
		require.NoError(t, err)
		assert.Equal(t, s.Genotype.Genesis.Name, got.Genotype.Genesis.Name)
	})

	t.Run("missing soul returns sentinel", func(t *testing.T) {
		store := open(t)
		_, err := store.GetSoul(context.Background(), core.ContentHash("c404"))
		assert.ErrorIs(t, err, core.ErrSoulNotFound)
	})

	t.Run("alias rebinds append history", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		first := conformanceSoul("c10")
		second := conformanceSoul("c11")
		_, _, err := store.InsertSoul(ctx, first)
		require.NoError(t, err)
		_, _, err = store.InsertSoul(ctx, second)
		require.NoError(t, err)

		_, err = store.BindAlias(ctx, "conf", first.Hash)
		require.NoError(t, err)
		binding, err := store.BindAlias(ctx, "conf", second.Hash)
		require.NoError(t, err)

		assert.Equal(t, second.Hash, binding.CurrentHash)
		require.Len(t, binding.History, 2)
		assert.Equal(t, first.Hash, binding.History[0].Hash)

		_, err = store.GetAlias(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrAliasNotFound)
	})

	t.Run("being lifecycle with revision guard", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		s := conformanceSoul("c20")
		_, _, err := store.InsertSoul(ctx, s)
		require.NoError(t, err)

		b := testutil.NewBeingBuilder(s.Hash).Alias("conf-being").Data("level", int64(1)).Build()
		require.NoError(t, store.InsertBeing(ctx, b))

		dup := testutil.NewBeingBuilder(s.Hash).Alias("conf-being").Build()
		assert.ErrorIs(t, store.InsertBeing(ctx, dup), core.ErrDuplicateAlias)

		loaded, err := store.GetBeingByAlias(ctx, "conf-being")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Data["level"])

		loaded.Data["level"] = int64(2)
		next := loaded.Clone()
		next.Revision = loaded.Revision + 1
		require.NoError(t, store.UpdateBeing(ctx, next, loaded.Revision))

		stale := next.Clone()
		stale.Revision = next.Revision + 1
		assert.ErrorIs(t, store.UpdateBeing(ctx, stale, loaded.Revision), core.ErrConflict)

		listed, err := store.ListBeingsBySoul(ctx, s.Hash)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, int64(2), listed[0].Data["level"])

		require.NoError(t, store.DeleteBeing(ctx, b.ID))
		_, err = store.GetBeing(ctx, b.ID)
		assert.ErrorIs(t, err, core.ErrBeingNotFound)
	})

	t.Run("relationship queries and cleanup", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		s := conformanceSoul("c30")
		_, _, err := store.InsertSoul(ctx, s)
		require.NoError(t, err)

		a := testutil.NewBeingBuilder(s.Hash).Build()
		b := testutil.NewBeingBuilder(s.Hash).Build()
		require.NoError(t, store.InsertBeing(ctx, a))
		require.NoError(t, store.InsertBeing(ctx, b))

		rel := &core.Relationship{
			ID:           "conf-rel-1",
			SourceID:     a.ID,
			TargetID:     b.ID,
			RelationType: "knows",
			Strength:     0.5,
		}
		require.NoError(t, store.InsertRelationship(ctx, rel))

		between, err := store.GetRelationshipsBetween(ctx, a.ID, b.ID, "knows")
		require.NoError(t, err)
		require.Len(t, between, 1)

		inbound, err := store.GetRelationshipsFor(ctx, b.ID, core.DirectionInbound, "")
		require.NoError(t, err)
		require.Len(t, inbound, 1)
		assert.Equal(t, a.ID, inbound[0].SourceID)

		outbound, err := store.GetRelationshipsFor(ctx, b.ID, core.DirectionOutbound, "")
		require.NoError(t, err)
		assert.Empty(t, outbound)

		removed, err := store.DeleteRelationshipsFor(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		assert.ErrorIs(t, store.DeleteRelationship(ctx, "conf-rel-1"), core.ErrRelationshipNotFound)
	})
}

func conformanceSoul(seed string) *core.Soul {
	g := testutil.NewGenotypeBuilder("conf-" + seed).
		Attr("level", "integer", testutil.Default(1)).
		Build()
	return &core.Soul{
		Hash:      core.ContentHash(seed),
		Genotype:  g,
		CreatedAt: time.Now().UTC(),
	}
}
