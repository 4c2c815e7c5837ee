package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/cleanup"
)

type cleanupHandler struct {
	store    *cleanup.Store
	executor *cleanup.Executor
	baseCtx  context.Context
	logger   *slog.Logger
}

// taskResponse flattens progress for the wire: processed, nullable
// total, and a derived percentage that is null while total is unknown.
type taskResponse struct {
	ID              uuid.UUID      `json:"id"`
	KnowledgeBaseID uuid.UUID      `json:"knowledge_base_id"`
	Status          cleanup.Status `json:"status"`
	Processed       int64          `json:"processed"`
	Total           *int64         `json:"total"`
	Percentage      *float64       `json:"percentage"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func toTaskResponse(t *cleanup.Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		KnowledgeBaseID: t.KnowledgeBaseID,
		Status:          t.Status,
		Processed:       t.Progress.Processed,
		Total:           t.Progress.Total,
		Percentage:      t.Progress.Percentage(),
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (h *cleanupHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	task, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *cleanupHandler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	task, err := h.store.Retry(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if h.executor != nil {
		h.executor.Dispatch(h.baseCtx, task.ID)
	}
	writeJSON(w, http.StatusAccepted, toTaskResponse(task))
}
