package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/cleanup"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/log"
	"github.com/quiverhq/quiver/internal/testutil"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

const dimension = 1024

func zeroVector() []float32 {
	v := make([]float32, dimension)
	v[0] = 1
	return v
}

func TestExecutor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	db, cleanupDB := testutil.SetupTestDB(t)
	defer cleanupDB()

	ctx := context.Background()
	logger := log.NewNop()
	registry := kb.NewRegistry(db.Pool, logger)
	docs := document.NewStore(db.Pool, logger)
	vectors := vectorstore.NewStore(db.Pool, 40, logger)
	store := cleanup.NewStore(db.Pool, logger)

	newExecutor := func() *cleanup.Executor {
		return cleanup.NewExecutor(store, db.Pool, cleanup.ExecutorConfig{
			MaxAttempts:  3,
			BackoffBase:  10 * time.Millisecond,
			ScanInterval: 10 * time.Millisecond,
		}, logger)
	}

	seedKB := func(t *testing.T, name string, docCount int) (uuid.UUID, *cleanup.Task) {
		t.Helper()
		base, err := registry.Create(ctx, name, "")
		require.NoError(t, err)
		for i := 0; i < docCount; i++ {
			doc, err := docs.Create(ctx, base.ID, "file.txt")
			require.NoError(t, err)
			require.NoError(t, vectors.CommitDocument(ctx, doc.ID, base.ID, []vectorstore.ChunkRecord{
				{Index: 0, Text: "content", Embedding: zeroVector()},
			}))
		}
		task, err := registry.Delete(ctx, base.ID)
		require.NoError(t, err)
		return base.ID, task
	}

	waitForStatus := func(t *testing.T, taskID uuid.UUID, want cleanup.Status) *cleanup.Task {
		t.Helper()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			task, err := store.Get(ctx, taskID)
			require.NoError(t, err)
			if task.Status == want {
				return task
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("task %s never reached status %s", taskID, want)
		return nil
	}

	t.Run("dispatch removes all rows and completes", func(t *testing.T) {
		kbID, task := seedKB(t, "cascade", 3)

		exec := newExecutor()
		exec.Dispatch(ctx, task.ID)
		done := waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec.Wait()

		require.NotNil(t, done.Progress.Total)
		assert.EqualValues(t, 4, *done.Progress.Total) // 3 documents + kb row
		assert.EqualValues(t, 4, done.Progress.Processed)
		pct := done.Progress.Percentage()
		require.NotNil(t, pct)
		assert.Equal(t, 1.0, *pct)

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx,
			"SELECT count(*) FROM knowledge_bases WHERE id = $1", kbID).Scan(&count))
		assert.Zero(t, count)
		require.NoError(t, db.Pool.QueryRow(ctx,
			"SELECT count(*) FROM documents WHERE knowledge_base_id = $1", kbID).Scan(&count))
		assert.Zero(t, count)
		require.NoError(t, db.Pool.QueryRow(ctx,
			"SELECT count(*) FROM cleanup_tasks WHERE id = $1", task.ID).Scan(&count))
		assert.Equal(t, 1, count, "the task row is the audit record and must survive")
	})

	t.Run("scan loop picks up pending tasks", func(t *testing.T) {
		_, task := seedKB(t, "recovered", 1)

		scanCtx, cancel := context.WithCancel(ctx)
		exec := newExecutor()
		exec.Start(scanCtx)

		waitForStatus(t, task.ID, cleanup.StatusCompleted)
		cancel()
		exec.Wait()
	})

	t.Run("empty knowledge base completes with total one", func(t *testing.T) {
		_, task := seedKB(t, "empty", 0)

		exec := newExecutor()
		exec.Dispatch(ctx, task.ID)
		done := waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec.Wait()

		require.NotNil(t, done.Progress.Total)
		assert.EqualValues(t, 1, *done.Progress.Total)
	})

	t.Run("retry on completed task conflicts", func(t *testing.T) {
		_, task := seedKB(t, "noretry", 0)

		exec := newExecutor()
		exec.Dispatch(ctx, task.ID)
		waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec.Wait()

		_, err := store.Retry(ctx, task.ID)
		require.Error(t, err)
		appErr := apperr.As(err)
		require.NotNil(t, appErr)
		assert.Equal(t, "CLEANUP_TASK_NOT_RETRYABLE", appErr.Code)
	})

	t.Run("retry on unknown task is not found", func(t *testing.T) {
		_, err := store.Retry(ctx, uuid.New())
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("failed task retries from scratch", func(t *testing.T) {
		_, task := seedKB(t, "eventually", 1)

		// Force failure by marking the task failed manually, then
		// retry it and let the executor finish the job.
		claimed, err := store.Claim(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.Fail(ctx, task.ID, "simulated crash"))

		retried, err := store.Retry(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, cleanup.StatusPending, retried.Status)
		assert.Nil(t, retried.Progress.Total)
		assert.Zero(t, retried.Progress.Processed)
		assert.Nil(t, retried.ErrorMessage)

		exec := newExecutor()
		exec.Dispatch(ctx, task.ID)
		waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec.Wait()
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		_, task := seedKB(t, "exclusive", 0)

		first, err := store.Claim(ctx, task.ID)
		require.NoError(t, err)
		second, err := store.Claim(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		require.NoError(t, store.Release(ctx, task.ID))
	})

	t.Run("release clears partial progress", func(t *testing.T) {
		_, task := seedKB(t, "parked", 2)

		claimed, err := store.Claim(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.SetTotal(ctx, task.ID, 3))
		require.NoError(t, store.SetProcessed(ctx, task.ID, 1))

		// Parking between attempts must not expose partial counters:
		// a pending task always reads as not-yet-started.
		require.NoError(t, store.Release(ctx, task.ID))
		parked, err := store.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, cleanup.StatusPending, parked.Status)
		assert.Zero(t, parked.Progress.Processed)
		assert.Nil(t, parked.Progress.Total)
		assert.Nil(t, parked.Progress.Percentage())
	})

	// blockDocumentDeletes installs a trigger that makes every document
	// row deletion raise, so executeOnce fails mid-cascade.
	blockDocumentDeletes := func(t *testing.T) {
		t.Helper()
		_, err := db.Pool.Exec(ctx, `
			CREATE OR REPLACE FUNCTION deny_document_delete() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'document delete blocked'; END
			$$ LANGUAGE plpgsql`)
		require.NoError(t, err)
		_, err = db.Pool.Exec(ctx, `
			CREATE TRIGGER deny_document_delete BEFORE DELETE ON documents
			FOR EACH ROW EXECUTE FUNCTION deny_document_delete()`)
		require.NoError(t, err)
	}
	unblockDocumentDeletes := func(t *testing.T) {
		t.Helper()
		_, err := db.Pool.Exec(ctx, "DROP TRIGGER IF EXISTS deny_document_delete ON documents")
		require.NoError(t, err)
	}

	t.Run("transient failure retries within one dispatch", func(t *testing.T) {
		_, task := seedKB(t, "transient", 1)

		blockDocumentDeletes(t)
		defer unblockDocumentDeletes(t)

		exec := cleanup.NewExecutor(store, db.Pool, cleanup.ExecutorConfig{
			MaxAttempts:  3,
			BackoffBase:  500 * time.Millisecond,
			ScanInterval: time.Hour,
		}, logger)
		exec.Dispatch(ctx, task.ID)

		// The first attempt fails and parks the task; lift the fault
		// during the backoff window so the next attempt succeeds.
		deadline := time.Now().Add(10 * time.Second)
		for {
			require.True(t, time.Now().Before(deadline), "task was never parked after the failed attempt")
			parked, err := store.Get(ctx, task.ID)
			require.NoError(t, err)
			if parked.Status == cleanup.StatusPending && parked.UpdatedAt.After(task.UpdatedAt) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		unblockDocumentDeletes(t)

		done := waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec.Wait()

		require.NotNil(t, done.Progress.Total)
		assert.EqualValues(t, 2, *done.Progress.Total) // 1 document + kb row
		assert.EqualValues(t, 2, done.Progress.Processed)
	})

	t.Run("persistent failure exhausts attempts then fails", func(t *testing.T) {
		_, task := seedKB(t, "exhausted", 1)

		blockDocumentDeletes(t)
		defer unblockDocumentDeletes(t)

		exec := newExecutor()
		exec.Dispatch(ctx, task.ID)
		failed := waitForStatus(t, task.ID, cleanup.StatusFailed)
		exec.Wait()

		require.NotNil(t, failed.ErrorMessage)
		assert.Contains(t, *failed.ErrorMessage, "document delete blocked")

		// Lifting the fault and retrying finishes the job.
		unblockDocumentDeletes(t)
		_, err := store.Retry(ctx, task.ID)
		require.NoError(t, err)
		exec2 := newExecutor()
		exec2.Dispatch(ctx, task.ID)
		waitForStatus(t, task.ID, cleanup.StatusCompleted)
		exec2.Wait()
	})
}
