package document_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/log"
	"github.com/quiverhq/quiver/internal/testutil"
)

func TestStore(t *testing.T) {
	db, cleanupDB := testutil.SetupTestDB(t)
	defer cleanupDB()

	ctx := context.Background()
	registry := kb.NewRegistry(db.Pool, log.NewNop())
	store := document.NewStore(db.Pool, log.NewNop())

	base, err := registry.Create(ctx, "docs", "")
	require.NoError(t, err)

	t.Run("create and get", func(t *testing.T) {
		doc, err := store.Create(ctx, base.ID, "guide.md")
		require.NoError(t, err)
		assert.Equal(t, document.StatusProcessing, doc.Status)
		assert.EqualValues(t, 0, doc.ChunkCount)

		got, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "guide.md", got.Filename)
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("delete tombstones and get reports gone", func(t *testing.T) {
		doc, err := store.Create(ctx, base.ID, "ephemeral.txt")
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, doc.ID))

		_, err = store.Get(ctx, doc.ID)
		assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

		err = store.Delete(ctx, doc.ID)
		assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
	})

	t.Run("mark failed records message", func(t *testing.T) {
		doc, err := store.Create(ctx, base.ID, "broken.html")
		require.NoError(t, err)

		require.NoError(t, store.MarkFailed(ctx, doc.ID, "embedding service unavailable"))

		got, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "embedding service unavailable", *got.ErrorMessage)
	})

	t.Run("mark failed loses to delete", func(t *testing.T) {
		doc, err := store.Create(ctx, base.ID, "raced.txt")
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, doc.ID))

		require.NoError(t, store.MarkFailed(ctx, doc.ID, "late failure"))

		_, err = store.Get(ctx, doc.ID)
		assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
	})

	t.Run("list hides tombstones and pages", func(t *testing.T) {
		other, err := registry.Create(ctx, "listing", "")
		require.NoError(t, err)

		for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
			_, err := store.Create(ctx, other.ID, name)
			require.NoError(t, err)
		}
		doomed, err := store.Create(ctx, other.ID, "d.txt")
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, doomed.ID))

		items, total, err := store.List(ctx, other.ID, document.ListFilter{Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, items, 3)

		items, total, err = store.List(ctx, other.ID, document.ListFilter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, items, 1)

		items, total, err = store.List(ctx, other.ID, document.ListFilter{Page: 1, PageSize: 10, Status: document.StatusDeleted})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, "d.txt", items[0].Filename)
	})
}

func TestStatusTransitionsTable(t *testing.T) {
	assert.True(t, document.StatusProcessing.CanTransition(document.StatusCompleted))
	assert.True(t, document.StatusProcessing.CanTransition(document.StatusFailed))
	assert.True(t, document.StatusCompleted.CanTransition(document.StatusDeleted))
	assert.True(t, document.StatusFailed.CanTransition(document.StatusDeleted))
	assert.False(t, document.StatusDeleted.CanTransition(document.StatusProcessing))
	assert.False(t, document.StatusCompleted.CanTransition(document.StatusProcessing))
	assert.False(t, document.StatusFailed.CanTransition(document.StatusCompleted))
}
