package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/apperr"
)

const taskColumns = "id, knowledge_base_id, status, processed, total, error_message, created_at, updated_at"

// Store persists cleanup tasks. Claiming is a guarded update so two
// executors scanning concurrently can never both own one task.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Get returns a cleanup task by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM cleanup_tasks WHERE id = $1", id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "CLEANUP_TASK_NOT_FOUND", "cleanup task not found")
		}
		return nil, apperr.Internal(fmt.Errorf("getting cleanup task: %w", err))
	}
	return task, nil
}

// Claim moves the task from pending to running. The guarded update is
// the ownership handoff: whoever flips the row runs the task.
func (s *Store) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET status = $2, updated_at = now() WHERE id = $1 AND status = $3",
		id, StatusRunning, StatusPending)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("claiming cleanup task: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// NextPending returns the oldest pending task, or nil when there is
// none. Ownership is only taken by a subsequent Claim, so a stale read
// here is harmless.
func (s *Store) NextPending(ctx context.Context) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM cleanup_tasks
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT 1`, StatusPending)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(fmt.Errorf("scanning for pending cleanup task: %w", err))
	}
	return task, nil
}

// Retry moves a failed task back to pending so the executor picks it
// up again from scratch. Only failed tasks are retryable; retrying a
// pending, running or completed task is a conflict.
func (s *Store) Retry(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE cleanup_tasks
		 SET status = $2, processed = 0, total = NULL, error_message = NULL, updated_at = now()
		 WHERE id = $1 AND status = $3
		 RETURNING `+taskColumns,
		id, StatusPending, StatusFailed)
	task, err := scanTask(row)
	if err == nil {
		s.logger.Info("cleanup task queued for retry", "id", id)
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Internal(fmt.Errorf("retrying cleanup task: %w", err))
	}

	// Distinguish not-found from not-retryable.
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperr.New(apperr.KindConflict, "CLEANUP_TASK_NOT_RETRYABLE",
		fmt.Sprintf("cleanup task is %s, only failed tasks can be retried", current.Status))
}

// Release moves a running task back to pending, used between retry
// attempts so a crash during the backoff window loses nothing. A
// pending task carries no progress: the next run restarts from scratch
// and recounts, so partial counters are cleared along with the status.
func (s *Store) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET status = $2, processed = 0, total = NULL, updated_at = now() WHERE id = $1 AND status = $3",
		id, StatusPending, StatusRunning)
	if err != nil {
		return apperr.Internal(fmt.Errorf("releasing cleanup task: %w", err))
	}
	return nil
}

// SetTotal records the unit count discovered at the start of a run.
func (s *Store) SetTotal(ctx context.Context, id uuid.UUID, total int64) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET total = $2, processed = 0, updated_at = now() WHERE id = $1",
		id, total)
	if err != nil {
		return apperr.Internal(fmt.Errorf("setting cleanup task total: %w", err))
	}
	return nil
}

// SetProcessed advances the progress counter.
func (s *Store) SetProcessed(ctx context.Context, id uuid.UUID, processed int64) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET processed = $2, updated_at = now() WHERE id = $1",
		id, processed)
	if err != nil {
		return apperr.Internal(fmt.Errorf("updating cleanup task progress: %w", err))
	}
	return nil
}

// Complete marks a running task completed.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET status = $2, error_message = NULL, updated_at = now() WHERE id = $1 AND status = $3",
		id, StatusCompleted, StatusRunning)
	if err != nil {
		return apperr.Internal(fmt.Errorf("completing cleanup task: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "ILLEGAL_STATE_TRANSITION", "cleanup task is not running")
	}
	return nil
}

// Fail marks a running task failed with the cause.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE cleanup_tasks SET status = $2, error_message = $3, updated_at = now() WHERE id = $1 AND status = $4",
		id, StatusFailed, message, StatusRunning)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failing cleanup task: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "ILLEGAL_STATE_TRANSITION", "cleanup task is not running")
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var status string
	if err := row.Scan(&t.ID, &t.KnowledgeBaseID, &status, &t.Progress.Processed, &t.Progress.Total,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return &t, nil
}
