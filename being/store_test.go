package being

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/schema"
	soulstore "github.com/soulstack/soulmesh/soul"
	"github.com/soulstack/soulmesh/storage"
)

type fixture struct {
	backend *storage.InMemoryStore
	souls   *soulstore.Store
	beings  *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := storage.NewInMemoryStore()
	return &fixture{
		backend: backend,
		souls:   soulstore.New(backend),
		beings:  New(backend),
	}
}

func (f *fixture) personSoul(t *testing.T) *core.Soul {
	t.Helper()
	soul, err := f.souls.Create(context.Background(), core.Genotype{
		Genesis: core.Genesis{Name: "person"},
		Attributes: map[string]core.AttributeSpec{
			"age":  {Type: "integer", Required: true},
			"name": {Type: "string", Default: "unknown"},
		},
	})
	require.NoError(t, err)
	return soul
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("coerces and persists", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		being, err := f.beings.Create(ctx, soul, map[string]any{"age": "25"})
		require.NoError(t, err)

		assert.Equal(t, int64(25), being.Data["age"])
		assert.Equal(t, "unknown", being.Data["name"])
		assert.True(t, being.Persistent())

		loaded, err := f.beings.Load(ctx, being.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(25), loaded.Data["age"])
	})

	t.Run("missing required field rejected without a row", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		_, err := f.beings.Create(ctx, soul, map[string]any{})
		var verrs schema.Errors
		require.ErrorAs(t, err, &verrs)
		require.Len(t, verrs, 1)
		assert.Equal(t, "age", verrs[0].Field)

		beings, err := f.beings.ListBySoul(ctx, soul.Hash)
		require.NoError(t, err)
		assert.Empty(t, beings)
	})

	t.Run("unknown key rejected in strict mode", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		_, err := f.beings.Create(ctx, soul, map[string]any{"age": 1, "ghost": true})
		var verrs schema.Errors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "ghost", verrs[0].Field)
	})

	t.Run("transient being skips persistence", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 30}, AsTransient())
		require.NoError(t, err)
		assert.False(t, being.Persistent())
		assert.NotEmpty(t, being.ID)
		assert.Equal(t, int64(30), being.Data["age"])

		beings, err := f.beings.ListBySoul(ctx, soul.Hash)
		require.NoError(t, err)
		assert.Empty(t, beings)
	})

	t.Run("records embodiment edge", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 1})
		require.NoError(t, err)

		edges, err := f.backend.GetRelationshipsBetween(ctx, being.ID, string(soul.Hash), core.RelationEmbodiment)
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("duplicate alias rejected", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		_, err := f.beings.Create(ctx, soul, map[string]any{"age": 1}, WithAlias("alpha"))
		require.NoError(t, err)
		_, err = f.beings.Create(ctx, soul, map[string]any{"age": 2}, WithAlias("alpha"))
		assert.ErrorIs(t, err, core.ErrDuplicateAlias)
	})

	t.Run("two identical beings remain distinct rows", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		first, err := f.beings.Create(ctx, soul, map[string]any{"age": 1})
		require.NoError(t, err)
		second, err := f.beings.Create(ctx, soul, map[string]any{"age": 1})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates on alias miss", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		being, err := f.beings.GetOrCreate(ctx, soul, core.ByAlias("alpha"), map[string]any{"age": 5})
		require.NoError(t, err)
		assert.Equal(t, "alpha", being.Alias)
		assert.True(t, being.Persistent())
	})

	t.Run("merges caller-wins on alias hit", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		first, err := f.beings.Create(ctx, soul, map[string]any{"age": 5, "name": "rex"}, WithAlias("alpha"))
		require.NoError(t, err)

		merged, err := f.beings.GetOrCreate(ctx, soul, core.ByAlias("alpha"), map[string]any{"age": 6})
		require.NoError(t, err)
		assert.Equal(t, first.ID, merged.ID)
		assert.Equal(t, int64(6), merged.Data["age"])
		assert.Equal(t, "rex", merged.Data["name"])
	})

	t.Run("soul singleton", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		first, err := f.beings.GetOrCreate(ctx, soul, core.SoulSingleton(), map[string]any{"age": 5})
		require.NoError(t, err)
		second, err := f.beings.GetOrCreate(ctx, soul, core.SoulSingleton(), nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("invalid merge surfaces validation errors", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)

		_, err := f.beings.Create(ctx, soul, map[string]any{"age": 5}, WithAlias("alpha"))
		require.NoError(t, err)

		_, err = f.beings.GetOrCreate(ctx, soul, core.ByAlias("alpha"), map[string]any{"age": "not-a-number"})
		var verrs schema.Errors
		assert.ErrorAs(t, err, &verrs)
	})
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("merges and persists", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)
		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 5, "name": "rex"})
		require.NoError(t, err)

		updated, err := f.beings.Update(ctx, being, map[string]any{"age": "6"})
		require.NoError(t, err)
		assert.Equal(t, int64(6), updated.Data["age"])
		assert.Equal(t, "rex", updated.Data["name"])
		assert.Greater(t, updated.Revision, being.Revision)

		loaded, err := f.beings.Load(ctx, being.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), loaded.Data["age"])
	})

	t.Run("invalid merge rejected before write", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)
		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 5})
		require.NoError(t, err)

		_, err = f.beings.Update(ctx, being, map[string]any{"age": "nope"})
		var verrs schema.Errors
		require.ErrorAs(t, err, &verrs)

		loaded, err := f.beings.Load(ctx, being.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), loaded.Data["age"])
	})

	t.Run("retries a lost revision race", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)
		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 5})
		require.NoError(t, err)

		// A competing writer bumps the revision behind our back.
		_, err = f.beings.Update(ctx, being, map[string]any{"name": "other"})
		require.NoError(t, err)

		// Updating through the stale handle still succeeds via reload.
		updated, err := f.beings.Update(ctx, being, map[string]any{"age": 6})
		require.NoError(t, err)
		assert.Equal(t, int64(6), updated.Data["age"])
		assert.Equal(t, "other", updated.Data["name"])
	})

	t.Run("transient update stays in memory", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)
		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 5}, AsTransient())
		require.NoError(t, err)

		updated, err := f.beings.Update(ctx, being, map[string]any{"age": 6})
		require.NoError(t, err)
		assert.False(t, updated.Persistent())
		assert.Equal(t, int64(6), updated.Data["age"])

		beings, err := f.beings.ListBySoul(ctx, soul.Hash)
		require.NoError(t, err)
		assert.Empty(t, beings)
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes being and its relationships", func(t *testing.T) {
		f := newFixture(t)
		soul := f.personSoul(t)
		being, err := f.beings.Create(ctx, soul, map[string]any{"age": 5}, WithAlias("alpha"))
		require.NoError(t, err)

		require.NoError(t, f.beings.Delete(ctx, being.ID))

		_, err = f.beings.Load(ctx, being.ID)
		assert.ErrorIs(t, err, core.ErrBeingNotFound)

		edges, err := f.backend.GetRelationshipsFor(ctx, being.ID, core.DirectionBoth, "")
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("missing being", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.beings.Delete(ctx, "ghost"), core.ErrBeingNotFound)
	})
}
