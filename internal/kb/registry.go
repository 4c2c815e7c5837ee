package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/cleanup"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations (pgerrcode.UniqueViolation).
const uniqueViolation = "23505"

const kbColumns = "id, name, description, status, created_at, updated_at"

// Registry manages knowledge-base records. It owns the status state
// machine and rejects illegal transitions at this boundary rather than
// trusting callers to check first.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRegistry creates a Registry backed by the given pool.
func NewRegistry(pool *pgxpool.Pool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{pool: pool, logger: logger}
}

// Create inserts a new knowledge base in status enabled.
// A duplicate name is a conflict.
func (r *Registry) Create(ctx context.Context, name, description string) (*KnowledgeBase, error) {
	row := r.pool.QueryRow(ctx,
		"INSERT INTO knowledge_bases (name, description) VALUES ($1, $2) RETURNING "+kbColumns,
		name, description)

	kb, err := scanKB(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.KindConflict, "KNOWLEDGE_BASE_NAME_CONFLICT", "knowledge base name already exists").
				WithDetail("name", "CONFLICT", "name already in use")
		}
		return nil, apperr.Internal(fmt.Errorf("creating knowledge base: %w", err))
	}

	r.logger.Info("created knowledge base", "id", kb.ID, "name", kb.Name)
	return kb, nil
}

// Get returns a knowledge base by id, including disabled and deleted
// ones (audit trail). Unknown ids are not-found.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases WHERE id = $1", id)

	kb, err := scanKB(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "KNOWLEDGE_BASE_NOT_FOUND", "knowledge base not found")
		}
		return nil, apperr.Internal(fmt.Errorf("getting knowledge base: %w", err))
	}
	return kb, nil
}

// GetAvailable returns the knowledge base only if it exists and is
// enabled. The check order is load-bearing: existence first
// (not-found), then availability (unavailable).
func (r *Registry) GetAvailable(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error) {
	kb, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !kb.Status.Searchable() {
		return nil, apperr.New(apperr.KindUnavailable, "KNOWLEDGE_BASE_UNAVAILABLE", "knowledge base is not available").
			WithDetail("knowledge_base_id", "UNAVAILABLE", fmt.Sprintf("knowledge base status is %s", kb.Status))
	}
	return kb, nil
}

// List returns a page of knowledge bases plus the total count matching
// the filter, newest first.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]KnowledgeBase, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}

	where := "WHERE ($1 = '' OR name ILIKE '%' || $1 || '%') AND ($2 = '' OR status = $2)"

	var total int64
	err := r.pool.QueryRow(ctx,
		"SELECT count(*) FROM knowledge_bases "+where,
		filter.NameContains, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("counting knowledge bases: %w", err))
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases "+where+
			" ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		filter.NameContains, string(filter.Status),
		filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("listing knowledge bases: %w", err))
	}
	defer rows.Close()

	items := make([]KnowledgeBase, 0, filter.PageSize)
	for rows.Next() {
		kb, err := scanKB(rows)
		if err != nil {
			return nil, 0, apperr.Internal(fmt.Errorf("scanning knowledge base: %w", err))
		}
		items = append(items, *kb)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("iterating knowledge bases: %w", err))
	}

	return items, total, nil
}

// Update mutates name, description or status. Any mutation of a
// deleted knowledge base is a conflict, as is an illegal status
// transition. Moving to deleted goes through Delete, never Update.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*KnowledgeBase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("beginning update transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases WHERE id = $1 FOR UPDATE", id)
	current, err := scanKB(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "KNOWLEDGE_BASE_NOT_FOUND", "knowledge base not found")
		}
		return nil, apperr.Internal(fmt.Errorf("loading knowledge base: %w", err))
	}

	if current.Status == StatusDeleted {
		return nil, apperr.New(apperr.KindConflict, "KNOWLEDGE_BASE_DELETED", "knowledge base is deleted and cannot be modified")
	}

	if params.Name != nil {
		current.Name = *params.Name
	}
	if params.Description != nil {
		current.Description = *params.Description
	}
	if params.Status != nil {
		next := *params.Status
		if !next.Valid() {
			return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "unknown status").
				WithDetail("status", "INVALID", string(next))
		}
		if next == StatusDeleted {
			return nil, apperr.New(apperr.KindConflict, "KNOWLEDGE_BASE_DELETED", "use the delete endpoint to delete a knowledge base")
		}
		if next != current.Status && !current.Status.CanTransition(next) {
			return nil, apperr.New(apperr.KindConflict, "ILLEGAL_STATE_TRANSITION",
				fmt.Sprintf("cannot transition from %s to %s", current.Status, next))
		}
		current.Status = next
	}

	row = tx.QueryRow(ctx,
		"UPDATE knowledge_bases SET name = $2, description = $3, status = $4, updated_at = now() WHERE id = $1 RETURNING "+kbColumns,
		id, current.Name, current.Description, current.Status)
	updated, err := scanKB(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.KindConflict, "KNOWLEDGE_BASE_NAME_CONFLICT", "knowledge base name already exists").
				WithDetail("name", "CONFLICT", "name already in use")
		}
		return nil, apperr.Internal(fmt.Errorf("updating knowledge base: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(fmt.Errorf("committing update: %w", err))
	}

	r.logger.Info("updated knowledge base", "id", id, "status", updated.Status)
	return updated, nil
}

// Delete marks the knowledge base deleted and creates its cleanup task
// in the same transaction, so the tombstone and the pending job are
// never observed apart. Deleting an already-deleted knowledge base is
// idempotent: the existing task is returned instead of spawning a
// duplicate executor run.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) (*cleanup.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("beginning delete transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		"SELECT "+kbColumns+" FROM knowledge_bases WHERE id = $1 FOR UPDATE", id)
	current, err := scanKB(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "KNOWLEDGE_BASE_NOT_FOUND", "knowledge base not found")
		}
		return nil, apperr.Internal(fmt.Errorf("loading knowledge base: %w", err))
	}

	if current.Status == StatusDeleted {
		task, err := r.latestTask(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, apperr.New(apperr.KindConflict, "KNOWLEDGE_BASE_DELETED", "knowledge base already deleted")
		}
		return task, nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE knowledge_bases SET status = $2, updated_at = now() WHERE id = $1",
		id, StatusDeleted); err != nil {
		return nil, apperr.Internal(fmt.Errorf("marking knowledge base deleted: %w", err))
	}

	taskRow := tx.QueryRow(ctx,
		`INSERT INTO cleanup_tasks (knowledge_base_id)
		 VALUES ($1)
		 RETURNING id, knowledge_base_id, status, processed, total, error_message, created_at, updated_at`,
		id)
	task, err := scanTask(taskRow)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("creating cleanup task: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(fmt.Errorf("committing delete: %w", err))
	}

	r.logger.Info("deleted knowledge base", "id", id, "cleanup_task_id", task.ID)
	return task, nil
}

// CountActive returns the number of enabled knowledge bases (metrics).
func (r *Registry) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		"SELECT count(*) FROM knowledge_bases WHERE status = $1", StatusEnabled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active knowledge bases: %w", err)
	}
	return n, nil
}

// latestTask returns the newest cleanup task for the knowledge base,
// or nil when none exists.
func (r *Registry) latestTask(ctx context.Context, tx pgx.Tx, kbID uuid.UUID) (*cleanup.Task, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, knowledge_base_id, status, processed, total, error_message, created_at, updated_at
		 FROM cleanup_tasks WHERE knowledge_base_id = $1
		 ORDER BY created_at DESC LIMIT 1`, kbID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(fmt.Errorf("looking up cleanup task: %w", err))
	}
	return task, nil
}

// scanKB scans one knowledge-base row.
func scanKB(row pgx.Row) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	var status string
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &status, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
		return nil, err
	}
	kb.Status = Status(status)
	return &kb, nil
}

// scanTask scans one cleanup-task row.
func scanTask(row pgx.Row) (*cleanup.Task, error) {
	var t cleanup.Task
	var status string
	if err := row.Scan(&t.ID, &t.KnowledgeBaseID, &status, &t.Progress.Processed, &t.Progress.Total,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = cleanup.Status(status)
	return &t, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
