// Package vectorstore persists embedded chunks in PostgreSQL with
// pgvector and serves approximate nearest-neighbor queries over them.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/kb"
)

// ChunkRecord is one chunk ready to persist.
type ChunkRecord struct {
	Index     int
	Text      string
	Metadata  map[string]any
	Embedding []float32
}

// Neighbor is one nearest-neighbor hit. Distance is cosine distance in
// [0, 2]; smaller is closer.
type Neighbor struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Filename   string
	ChunkIndex int
	Text       string
	Distance   float64
}

// Store owns the document_chunks table.
type Store struct {
	pool     *pgxpool.Pool
	efSearch int
	logger   *slog.Logger
}

// NewStore creates a Store. efSearch is the query-time HNSW breadth,
// set per transaction so it never leaks onto pooled connections.
func NewStore(pool *pgxpool.Pool, efSearch int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if efSearch < 1 {
		efSearch = 40
	}
	return &Store{pool: pool, efSearch: efSearch, logger: logger}
}

// CommitDocument inserts all chunks and flips the document from
// processing to completed in one transaction. If the document left the
// processing state meanwhile (a concurrent delete), the whole commit
// rolls back, so no chunks of a tombstoned document ever land.
func (s *Store) CommitDocument(ctx context.Context, docID uuid.UUID, kbID uuid.UUID, chunks []ChunkRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal(fmt.Errorf("beginning commit transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, chunk := range chunks {
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO document_chunks (knowledge_base_id, document_id, chunk_index, chunk_text, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			kbID, docID, chunk.Index, chunk.Text, metadata, pgvector.NewVector(chunk.Embedding)); err != nil {
			return apperr.Internal(fmt.Errorf("inserting chunk %d: %w", chunk.Index, err))
		}
	}

	tag, err := tx.Exec(ctx,
		"UPDATE documents SET status = $2, chunk_count = $3, updated_at = now() WHERE id = $1 AND status = $4",
		docID, document.StatusCompleted, len(chunks), document.StatusProcessing)
	if err != nil {
		return apperr.Internal(fmt.Errorf("completing document: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "DOCUMENT_NOT_PROCESSING", "document is no longer processing")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(fmt.Errorf("committing chunks: %w", err))
	}

	s.logger.Info("committed document chunks", "document_id", docID, "chunks", len(chunks))
	return nil
}

// NearestNeighbors returns the limit closest chunks to the query
// vector within one knowledge base, ordered by cosine distance. Only
// chunks of completed documents in an enabled knowledge base
// participate; the restriction is enforced here, not left to callers,
// so a knowledge base disabled mid-request cannot leak results.
func (s *Store) NearestNeighbors(ctx context.Context, kbID uuid.UUID, query []float32, limit int) ([]Neighbor, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("beginning search transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// SET LOCAL scopes the breadth to this transaction. The parameter
	// is not bindable, but the value is a validated integer.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.efSearch)); err != nil {
		return nil, apperr.Internal(fmt.Errorf("setting ef_search: %w", err))
	}

	rows, err := tx.Query(ctx,
		`SELECT c.id, c.document_id, d.filename, c.chunk_index, c.chunk_text,
		        c.embedding <=> $2 AS distance
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN knowledge_bases kb ON kb.id = c.knowledge_base_id
		 WHERE c.knowledge_base_id = $1 AND d.status = $3 AND kb.status = $5
		 ORDER BY c.embedding <=> $2
		 LIMIT $4`,
		kbID, pgvector.NewVector(query), document.StatusCompleted, limit, kb.StatusEnabled)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("querying neighbors: %w", err))
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ChunkID, &n.DocumentID, &n.Filename, &n.ChunkIndex, &n.Text, &n.Distance); err != nil {
			return nil, apperr.Internal(fmt.Errorf("scanning neighbor: %w", err))
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(fmt.Errorf("iterating neighbors: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(fmt.Errorf("committing search transaction: %w", err))
	}
	return neighbors, nil
}

// DeleteByDocument removes all chunks of a document. Idempotent.
func (s *Store) DeleteByDocument(ctx context.Context, docID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", docID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("deleting chunks by document: %w", err))
	}
	return tag.RowsAffected(), nil
}

// DeleteByKnowledgeBase removes all chunks of a knowledge base.
// Idempotent; the cleanup executor leans on this after a retry.
func (s *Store) DeleteByKnowledgeBase(ctx context.Context, kbID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE knowledge_base_id = $1", kbID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("deleting chunks by knowledge base: %w", err))
	}
	return tag.RowsAffected(), nil
}

// CountChunks returns the total number of stored chunks (metrics).
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM document_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
