package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/apperr"
)

// Executor runs cleanup tasks: it deletes every chunk and document of
// a deleted knowledge base, then the knowledge base row itself, with
// progress written back after each document. Tasks are retried with
// exponential backoff; after maxAttempts the task is failed and waits
// for a manual retry.
//
// Deletion order matters for crash safety: chunks before their
// document row, every document before the knowledge base row. A crash
// at any point leaves a state the next attempt can simply resume from,
// because each step is idempotent.
type Executor struct {
	store       *Store
	pool        *pgxpool.Pool
	maxAttempts int
	backoffBase time.Duration
	interval    time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	// MaxAttempts is the number of automatic attempts per wakeup
	// before a task is marked failed.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt; it doubles
	// each further attempt.
	BackoffBase time.Duration
	// ScanInterval is how often the executor looks for pending tasks
	// it was not dispatched directly, e.g. after a crash.
	ScanInterval time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(store *Store, pool *pgxpool.Pool, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	return &Executor{
		store:       store,
		pool:        pool,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		interval:    cfg.ScanInterval,
		logger:      logger,
	}
}

// Start launches the background scan loop. It returns immediately;
// call Wait after canceling ctx to drain in-flight work.
func (e *Executor) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.scanOnce(ctx)
			}
		}
	}()
}

// Wait blocks until all executor goroutines have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Dispatch runs one task asynchronously. Used right after a knowledge
// base delete so cleanup starts without waiting for the next scan.
func (e *Executor) Dispatch(ctx context.Context, taskID uuid.UUID) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runWithRetries(ctx, taskID)
	}()
}

// scanOnce claims and runs at most one pending task. One at a time
// keeps delete pressure on the database bounded.
func (e *Executor) scanOnce(ctx context.Context) {
	task, err := e.store.NextPending(ctx)
	if err != nil {
		e.logger.Error("cleanup scan failed", "error", err)
		return
	}
	if task == nil {
		return
	}
	e.runWithRetries(ctx, task.ID)
}

// runWithRetries drives one task through up to maxAttempts executions
// with exponential backoff between them. Between attempts the task
// parks in pending, so a crash during backoff is recovered by the
// scan loop.
func (e *Executor) runWithRetries(ctx context.Context, taskID uuid.UUID) {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		claimed, err := e.store.Claim(ctx, taskID)
		if err != nil {
			e.logger.Error("cleanup claim failed", "task_id", taskID, "error", err)
			return
		}
		if !claimed {
			// Someone else owns it, or it already finished.
			return
		}

		err = e.executeOnce(ctx, taskID)
		if err == nil {
			if err := e.store.Complete(ctx, taskID); err != nil {
				e.logger.Error("cleanup completion not recorded", "task_id", taskID, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			// Shutting down mid-task: park it for the next process.
			if relErr := e.store.Release(context.Background(), taskID); relErr != nil {
				e.logger.Error("cleanup release failed", "task_id", taskID, "error", relErr)
			}
			return
		}

		e.logger.Warn("cleanup attempt failed",
			"task_id", taskID, "attempt", attempt, "max_attempts", e.maxAttempts, "error", err)

		if attempt == e.maxAttempts {
			if failErr := e.store.Fail(ctx, taskID, err.Error()); failErr != nil {
				e.logger.Error("cleanup failure not recorded", "task_id", taskID, "error", failErr)
			}
			return
		}

		if relErr := e.store.Release(ctx, taskID); relErr != nil {
			e.logger.Error("cleanup release failed", "task_id", taskID, "error", relErr)
			return
		}

		backoff := e.backoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// executeOnce performs the actual deletion cascade for one claimed
// task. Total is the number of documents plus one for the knowledge
// base row.
func (e *Executor) executeOnce(ctx context.Context, taskID uuid.UUID) error {
	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	kbID := task.KnowledgeBaseID

	docIDs, err := e.documentIDs(ctx, kbID)
	if err != nil {
		return err
	}

	total := int64(len(docIDs)) + 1
	if err := e.store.SetTotal(ctx, taskID, total); err != nil {
		return err
	}

	var processed int64
	for _, docID := range docIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.deleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("deleting document %s: %w", docID, err)
		}
		processed++
		if err := e.store.SetProcessed(ctx, taskID, processed); err != nil {
			return err
		}
	}

	// The knowledge base row goes last so a crash always leaves the
	// tombstone in place while content may still exist.
	if _, err := e.pool.Exec(ctx, "DELETE FROM knowledge_bases WHERE id = $1", kbID); err != nil {
		return apperr.Internal(fmt.Errorf("deleting knowledge base row: %w", err))
	}
	processed++
	if err := e.store.SetProcessed(ctx, taskID, processed); err != nil {
		return err
	}

	e.logger.Info("cleanup task finished",
		"task_id", taskID, "knowledge_base_id", kbID, "documents", len(docIDs))
	return nil
}

func (e *Executor) documentIDs(ctx context.Context, kbID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := e.pool.Query(ctx,
		"SELECT id FROM documents WHERE knowledge_base_id = $1 ORDER BY created_at", kbID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing documents for cleanup: %w", err))
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal(fmt.Errorf("scanning document id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(fmt.Errorf("iterating document ids: %w", err))
	}
	return ids, nil
}

// deleteDocument removes one document's chunks and row atomically.
func (e *Executor) deleteDocument(ctx context.Context, docID uuid.UUID) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(fmt.Errorf("beginning document delete: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", docID); err != nil {
		return apperr.Internal(fmt.Errorf("deleting chunks: %w", err))
	}
	if _, err := tx.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID); err != nil {
		return apperr.Internal(fmt.Errorf("deleting document row: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(fmt.Errorf("committing document delete: %w", err))
	}
	return nil
}
