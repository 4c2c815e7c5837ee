package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/gateway"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

// embedBatchSize bounds how many chunk texts go to the model service
// in one request.
const embedBatchSize = 64

// Pipeline runs the full ingestion of one document: parse, chunk,
// embed, commit. Any failure marks the document failed with the cause;
// nothing partial is ever committed.
type Pipeline struct {
	docs     *document.Store
	store    *vectorstore.Store
	embedder gateway.Embedder
	chunker  *Chunker
	logger   *slog.Logger
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(docs *document.Store, store *vectorstore.Store, embedder gateway.Embedder, chunker *Chunker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:     docs,
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		logger:   logger,
	}
}

// Run ingests the document content. The returned error is for logging
// and metrics; the document row already carries the failure state.
func (p *Pipeline) Run(ctx context.Context, doc *document.Document, content []byte) error {
	if err := p.run(ctx, doc, content); err != nil {
		p.logger.Error("ingestion failed",
			"document_id", doc.ID, "filename", doc.Filename, "error", err)
		p.fail(doc, err)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, doc *document.Document, content []byte) error {
	parsed, err := Parse(doc.Filename, content)
	if err != nil {
		return err
	}

	// Chunk metadata always names the originating file alongside
	// whatever the parser extracted.
	metadata := make(map[string]any, len(parsed.Metadata)+1)
	for k, v := range parsed.Metadata {
		metadata[k] = v
	}
	metadata["source_filename"] = doc.Filename

	chunks := p.chunker.Split(parsed.Text)

	records := make([]vectorstore.ChunkRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding chunks %d-%d: got %d vectors for %d texts", start, end-1, len(vectors), len(batch))
		}

		for i, c := range batch {
			records = append(records, vectorstore.ChunkRecord{
				Index:     c.Index,
				Text:      c.Text,
				Metadata:  metadata,
				Embedding: vectors[i],
			})
		}
	}

	// A document with no extractable text (an image without OCR, an
	// empty file) completes with zero chunks rather than failing.
	if err := p.store.CommitDocument(ctx, doc.ID, doc.KnowledgeBaseID, records); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}

	p.logger.Info("ingested document",
		"document_id", doc.ID, "filename", doc.Filename, "chunks", len(records))
	return nil
}

// fail records the failure on the document row. It runs on a fresh
// context: the ingestion context may already be canceled, and the
// failure state must still land.
func (p *Pipeline) fail(doc *document.Document, cause error) {
	message := "ingestion failed"
	if appErr := apperr.As(cause); appErr != nil {
		message = appErr.Message
	} else if cause != nil {
		message = cause.Error()
	}
	if err := p.docs.MarkFailed(context.Background(), doc.ID, message); err != nil {
		p.logger.Error("failed to record ingestion failure", "document_id", doc.ID, "error", err)
	}
}
