package document

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

const docColumns = "id, knowledge_base_id, filename, status, error_message, chunk_count, created_at, updated_at"

// Store persists document records. Chunk rows live in vectorstore; the
// one place this store touches them is the tombstone delete, which must
// remove chunks and flip the status atomically.
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

// Create inserts a new document in status processing.
func (s *Store) Create(ctx context.Context, kbID uuid.UUID, filename string) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO documents (knowledge_base_id, filename) VALUES ($1, $2) RETURNING "+docColumns,
		kbID, filename)

	doc, err := scanDocument(row)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("creating document: %w", err))
	}

	s.logger.Info("created document", "id", doc.ID, "knowledge_base_id", kbID, "filename", filename)
	return doc, nil
}

// Get returns a document by id. A tombstoned document is gone, which
// callers surface distinctly from never-existed.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+docColumns+" FROM documents WHERE id = $1", id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "DOCUMENT_NOT_FOUND", "document not found")
		}
		return nil, apperr.Internal(fmt.Errorf("getting document: %w", err))
	}
	if doc.Status == StatusDeleted {
		return nil, apperr.New(apperr.KindGone, "DOCUMENT_DELETED", "document has been deleted")
	}
	return doc, nil
}

// List returns a page of documents in a knowledge base plus the total
// count, newest first. Tombstones are hidden unless explicitly asked
// for via the status filter.
func (s *Store) List(ctx context.Context, kbID uuid.UUID, filter ListFilter) ([]Document, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}

	where := `WHERE knowledge_base_id = $1
	          AND (($2 = '' AND status <> 'deleted') OR status = $2)`

	var total int64
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM documents "+where,
		kbID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("counting documents: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+docColumns+" FROM documents "+where+
			" ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		kbID, string(filter.Status), filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("listing documents: %w", err))
	}
	defer rows.Close()

	items := make([]Document, 0, filter.PageSize)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, apperr.Internal(fmt.Errorf("scanning document: %w", err))
		}
		items = append(items, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal(fmt.Errorf("iterating documents: %w", err))
	}

	return items, total, nil
}

// Delete tombstones the document and removes its chunks in one
// transaction. Deleting an already-tombstoned document is gone, not a
// silent success, so clients learn the resource is unrecoverable.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(fmt.Errorf("beginning delete transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		"SELECT "+docColumns+" FROM documents WHERE id = $1 FOR UPDATE", id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "DOCUMENT_NOT_FOUND", "document not found")
		}
		return apperr.Internal(fmt.Errorf("loading document: %w", err))
	}
	if doc.Status == StatusDeleted {
		return apperr.New(apperr.KindGone, "DOCUMENT_DELETED", "document has been deleted")
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM document_chunks WHERE document_id = $1", id); err != nil {
		return apperr.Internal(fmt.Errorf("deleting document chunks: %w", err))
	}

	if _, err := tx.Exec(ctx,
		"UPDATE documents SET status = $2, chunk_count = 0, updated_at = now() WHERE id = $1",
		id, StatusDeleted); err != nil {
		return apperr.Internal(fmt.Errorf("tombstoning document: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(fmt.Errorf("committing delete: %w", err))
	}

	s.logger.Info("deleted document", "id", id, "knowledge_base_id", doc.KnowledgeBaseID)
	return nil
}

// MarkFailed records an ingestion failure. The update is guarded on
// status processing so a concurrent delete wins over a late failure.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = $2, error_message = $3, updated_at = now() WHERE id = $1 AND status = $4",
		id, StatusFailed, message, StatusProcessing)
	if err != nil {
		return apperr.Internal(fmt.Errorf("marking document failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("document no longer processing, failure not recorded", "id", id)
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var status string
	if err := row.Scan(&d.ID, &d.KnowledgeBaseID, &d.Filename, &status, &d.ErrorMessage,
		&d.ChunkCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	return &d, nil
}
