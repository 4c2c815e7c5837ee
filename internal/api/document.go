package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/ingest"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/metrics"
	"github.com/quiverhq/quiver/internal/worker"
)

type documentHandler struct {
	registry *kb.Registry
	docs     *document.Store
	pipeline *ingest.Pipeline
	pool     *worker.Pool
	metrics  *metrics.Registry
	maxBytes int64
	logger   *slog.Logger
}

type uploadResponse struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Status     document.Status `json:"status"`
}

type listDocumentsResponse struct {
	Items []document.Document `json:"items"`
	Total int64               `json:"total"`
}

// upload accepts a multipart file, records the document in status
// processing, and queues ingestion. Validation order is existence,
// availability, media type, size; each failure must be reported as
// itself, never as the next one down.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	kbID, err := pathID(r, "kb_id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	if _, err := h.registry.GetAvailable(r.Context(), kbID); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	// Bound the whole request body; the multipart overhead allowance
	// keeps a file of exactly maxBytes acceptable.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, apperr.New(apperr.KindTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("document exceeds the %d byte limit", h.maxBytes)), h.logger)
			return
		}
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "multipart field \"file\" is required"), h.logger)
		return
	}
	defer file.Close() //nolint:errcheck

	if !ingest.SupportedExtension(header.Filename) {
		writeError(w, r, apperr.New(apperr.KindUnsupportedMedia, "UNSUPPORTED_MEDIA_TYPE",
			fmt.Sprintf("unsupported file type %q", header.Filename)), h.logger)
		return
	}
	if header.Size > h.maxBytes {
		writeError(w, r, apperr.New(apperr.KindTooLarge, "PAYLOAD_TOO_LARGE",
			fmt.Sprintf("document exceeds the %d byte limit", h.maxBytes)), h.logger)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, apperr.Internal(fmt.Errorf("reading upload: %w", err)), h.logger)
		return
	}

	doc, err := h.docs.Create(r.Context(), kbID, header.Filename)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	job := func(ctx context.Context) {
		outcome := "completed"
		if err := h.pipeline.Run(ctx, doc, content); err != nil {
			outcome = "failed"
		}
		h.metrics.ObserveIngestion(outcome)
	}
	if err := h.pool.Submit(job); err != nil {
		// The document row exists but nothing will process it; fail it
		// so the client sees a terminal state instead of a stuck
		// processing.
		if failErr := h.docs.MarkFailed(r.Context(), doc.ID, "ingestion queue full"); failErr != nil {
			h.logger.Error("failed to fail queued document", "document_id", doc.ID, "error", failErr)
		}
		h.metrics.ObserveIngestion("failed")
		writeServiceUnavailable(w, r, "ingestion queue is full, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{DocumentID: doc.ID, Status: doc.Status})
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	doc, err := h.docs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	kbID, err := pathID(r, "kb_id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if _, err := h.registry.Get(r.Context(), kbID); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	filter := document.ListFilter{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 20),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := document.Status(status)
		if !s.Valid() {
			writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "unknown status filter").
				WithDetail("status", "INVALID", status), h.logger)
			return
		}
		filter.Status = s
	}

	items, total, err := h.docs.List(r.Context(), kbID, filter)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Items: items, Total: total})
}

func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
