package ingest_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/gateway"
	"github.com/quiverhq/quiver/internal/ingest"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/log"
	"github.com/quiverhq/quiver/internal/testutil"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

const testDimension = 1024

func TestPipeline(t *testing.T) {
	db, cleanupDB := testutil.SetupTestDB(t)
	defer cleanupDB()

	ctx := context.Background()
	logger := log.NewNop()
	registry := kb.NewRegistry(db.Pool, logger)
	docs := document.NewStore(db.Pool, logger)
	store := vectorstore.NewStore(db.Pool, 40, logger)

	base, err := registry.Create(ctx, "pipeline", "")
	require.NoError(t, err)

	newPipeline := func(embedder gateway.Embedder) *ingest.Pipeline {
		return ingest.NewPipeline(docs, store, embedder, ingest.NewChunker(20, 4), logger)
	}

	t.Run("successful ingestion completes the document", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "guide.txt")
		require.NoError(t, err)

		content := strings.Repeat("deploying quiver to production requires a database ", 20)
		require.NoError(t, newPipeline(testutil.NewFakeEmbedder(testDimension)).Run(ctx, doc, []byte(content)))

		got, err := docs.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusCompleted, got.Status)
		assert.Greater(t, got.ChunkCount, int32(1))

		total, err := store.CountChunks(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, int64(got.ChunkCount))

		// Every chunk carries the originating filename in its metadata.
		var metadata map[string]any
		require.NoError(t, db.Pool.QueryRow(ctx,
			"SELECT metadata FROM document_chunks WHERE document_id = $1 AND chunk_index = 0",
			doc.ID).Scan(&metadata))
		assert.Equal(t, "guide.txt", metadata["source_filename"])
		assert.Equal(t, "txt", metadata["source_format"])
	})

	t.Run("image without OCR completes with zero chunks", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "diagram.png")
		require.NoError(t, err)

		require.NoError(t, newPipeline(testutil.NewFakeEmbedder(testDimension)).Run(ctx, doc, []byte{0x89, 0x50}))

		got, err := docs.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusCompleted, got.Status)
		assert.EqualValues(t, 0, got.ChunkCount)
	})

	t.Run("embedding failure marks the document failed", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "unlucky.txt")
		require.NoError(t, err)

		embedder := testutil.NewFakeEmbedder(testDimension)
		embedder.Err = gateway.ErrUnavailable

		err = newPipeline(embedder).Run(ctx, doc, []byte("some text to embed"))
		require.Error(t, err)

		got, err := docs.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.NotEmpty(t, *got.ErrorMessage)

		before, err := store.CountChunks(ctx)
		require.NoError(t, err)
		_, err = store.DeleteByDocument(ctx, doc.ID)
		require.NoError(t, err)
		after, err := store.CountChunks(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after, "failed ingestion must not leave chunks behind")
	})

	t.Run("unsupported type marks the document failed", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "report.pdf")
		require.NoError(t, err)

		err = newPipeline(testutil.NewFakeEmbedder(testDimension)).Run(ctx, doc, []byte("%PDF"))
		require.Error(t, err)
		assert.Equal(t, apperr.KindUnsupportedMedia, apperr.KindOf(err))

		got, err := docs.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusFailed, got.Status)
	})

	t.Run("concurrent delete wins over late commit", func(t *testing.T) {
		doc, err := docs.Create(ctx, base.ID, "raced.txt")
		require.NoError(t, err)
		require.NoError(t, docs.Delete(ctx, doc.ID))

		err = newPipeline(testutil.NewFakeEmbedder(testDimension)).Run(ctx, doc, []byte("too late"))
		require.Error(t, err)

		count, err := store.DeleteByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, count, "no chunks may land for a tombstoned document")
	})
}
