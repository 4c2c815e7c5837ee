package vectorstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/log"
	"github.com/quiverhq/quiver/internal/testutil"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

const dimension = 1024

// axisVector returns a unit vector pointing along the given axis,
// nudged slightly so vectors at neighboring axes have distinct cosine
// distances to axis 0.
func axisVector(axis int) []float32 {
	v := make([]float32, dimension)
	v[axis] = 1
	return v
}

// blendVector mixes axis 0 and the given axis; higher weight toward
// axis 0 means smaller cosine distance to axisVector(0).
func blendVector(axis int, weight float32) []float32 {
	v := make([]float32, dimension)
	v[0] = weight
	v[axis] = 1 - weight
	return v
}

func TestStore(t *testing.T) {
	db, cleanupDB := testutil.SetupTestDB(t)
	defer cleanupDB()

	ctx := context.Background()
	logger := log.NewNop()
	registry := kb.NewRegistry(db.Pool, logger)
	docs := document.NewStore(db.Pool, logger)
	store := vectorstore.NewStore(db.Pool, 80, logger)

	base, err := registry.Create(ctx, "vectors", "")
	require.NoError(t, err)

	t.Run("commit then query orders by distance", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "ordered.txt")
		require.NoError(t, err)

		records := []vectorstore.ChunkRecord{
			{Index: 0, Text: "far", Embedding: axisVector(5)},
			{Index: 1, Text: "near", Embedding: blendVector(5, 0.9)},
			{Index: 2, Text: "nearest", Embedding: axisVector(0)},
			{Index: 3, Text: "middle", Embedding: blendVector(5, 0.5)},
		}
		require.NoError(t, store.CommitDocument(ctx, doc.ID, base.ID, records))

		got, err := docs.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusCompleted, got.Status)
		assert.EqualValues(t, 4, got.ChunkCount)

		neighbors, err := store.NearestNeighbors(ctx, base.ID, axisVector(0), 3)
		require.NoError(t, err)
		require.Len(t, neighbors, 3)
		assert.Equal(t, "nearest", neighbors[0].Text)
		assert.Equal(t, "near", neighbors[1].Text)
		assert.Equal(t, "middle", neighbors[2].Text)
		assert.Less(t, neighbors[0].Distance, neighbors[1].Distance)
		assert.Less(t, neighbors[1].Distance, neighbors[2].Distance)
		assert.Equal(t, doc.ID, neighbors[0].DocumentID)
		assert.Equal(t, "ordered.txt", neighbors[0].Filename)
	})

	t.Run("processing and failed documents are invisible", func(t *testing.T) {
		other, err := registry.Create(ctx, "invisible", "")
		require.NoError(t, err)

		processing, err := docs.Create(ctx, other.ID, "processing.txt")
		require.NoError(t, err)
		// Insert a chunk outside CommitDocument to simulate a
		// mid-flight state; the row exists but the doc never completed.
		_, err = db.Pool.Exec(ctx,
			`INSERT INTO document_chunks (knowledge_base_id, document_id, chunk_index, chunk_text, metadata, embedding)
			 VALUES ($1, $2, 0, 'phantom', '{}', $3)`,
			other.ID, processing.ID, pgvector.NewVector(axisVector(0)))
		require.NoError(t, err)

		neighbors, err := store.NearestNeighbors(ctx, other.ID, axisVector(0), 10)
		require.NoError(t, err)
		assert.Empty(t, neighbors)
	})

	t.Run("disabled knowledge base yields no neighbors", func(t *testing.T) {
		paused, err := registry.Create(ctx, "paused", "")
		require.NoError(t, err)

		doc, err := docs.Create(ctx, paused.ID, "paused.txt")
		require.NoError(t, err)
		require.NoError(t, store.CommitDocument(ctx, doc.ID, paused.ID, []vectorstore.ChunkRecord{
			{Index: 0, Text: "hidden", Embedding: axisVector(0)},
		}))

		neighbors, err := store.NearestNeighbors(ctx, paused.ID, axisVector(0), 10)
		require.NoError(t, err)
		require.Len(t, neighbors, 1)

		// The store itself enforces the enabled restriction; callers
		// checking availability beforehand cannot race past it.
		status := kb.StatusDisabled
		_, err = registry.Update(ctx, paused.ID, kb.UpdateParams{Status: &status})
		require.NoError(t, err)

		neighbors, err = store.NearestNeighbors(ctx, paused.ID, axisVector(0), 10)
		require.NoError(t, err)
		assert.Empty(t, neighbors)

		status = kb.StatusEnabled
		_, err = registry.Update(ctx, paused.ID, kb.UpdateParams{Status: &status})
		require.NoError(t, err)

		neighbors, err = store.NearestNeighbors(ctx, paused.ID, axisVector(0), 10)
		require.NoError(t, err)
		assert.Len(t, neighbors, 1)
	})

	t.Run("commit rolls back when document left processing", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "gone.txt")
		require.NoError(t, err)
		require.NoError(t, docs.Delete(ctx, doc.ID))

		err = store.CommitDocument(ctx, doc.ID, base.ID, []vectorstore.ChunkRecord{
			{Index: 0, Text: "orphan", Embedding: axisVector(1)},
		})
		require.Error(t, err)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		n, err := store.DeleteByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("deletes are idempotent", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "twice.txt")
		require.NoError(t, err)
		require.NoError(t, store.CommitDocument(ctx, doc.ID, base.ID, []vectorstore.ChunkRecord{
			{Index: 0, Text: "once", Embedding: axisVector(2)},
		}))

		n, err := store.DeleteByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = store.DeleteByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		n, err = store.DeleteByKnowledgeBase(ctx, uuid.New())
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("delete by knowledge base clears everything", func(t *testing.T) {
		scoped, err := registry.Create(ctx, "scoped", "")
		require.NoError(t, err)

		doc, err := docs.Create(ctx, scoped.ID, "a.txt")
		require.NoError(t, err)
		require.NoError(t, store.CommitDocument(ctx, doc.ID, scoped.ID, []vectorstore.ChunkRecord{
			{Index: 0, Text: "one", Embedding: axisVector(3)},
			{Index: 1, Text: "two", Embedding: axisVector(4)},
		}))

		n, err := store.DeleteByKnowledgeBase(ctx, scoped.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		neighbors, err := store.NearestNeighbors(ctx, scoped.ID, axisVector(3), 10)
		require.NoError(t, err)
		assert.Empty(t, neighbors)
	})
}
