package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/cleanup"
	"github.com/quiverhq/quiver/internal/kb"
)

type kbHandler struct {
	registry *kb.Registry
	executor *cleanup.Executor
	// baseCtx outlives any single request; background work dispatched
	// from a handler must not die with the request context.
	baseCtx context.Context
	logger  *slog.Logger
}

type createKBRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateKBRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type listKBResponse struct {
	Items []kb.KnowledgeBase `json:"items"`
	Total int64              `json:"total"`
}

type deleteKBResponse struct {
	CleanupTaskID uuid.UUID `json:"cleanup_task_id"`
}

func (h *kbHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "invalid JSON body"), h.logger)
		return
	}
	if req.Name == "" {
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "name is required").
			WithDetail("name", "REQUIRED", "name must not be empty"), h.logger)
		return
	}

	created, err := h.registry.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *kbHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	found, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *kbHandler) list(w http.ResponseWriter, r *http.Request) {
	filter := kb.ListFilter{
		Page:         queryInt(r, "page", 1),
		PageSize:     queryInt(r, "page_size", 20),
		NameContains: r.URL.Query().Get("name_contains"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := kb.Status(status)
		if !s.Valid() {
			writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "unknown status filter").
				WithDetail("status", "INVALID", status), h.logger)
			return
		}
		filter.Status = s
	}

	items, total, err := h.registry.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, listKBResponse{Items: items, Total: total})
}

func (h *kbHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	var req updateKBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "invalid JSON body"), h.logger)
		return
	}

	params := kb.UpdateParams{Name: req.Name, Description: req.Description}
	if req.Status != nil {
		status := kb.Status(*req.Status)
		params.Status = &status
	}

	updated, err := h.registry.Update(r.Context(), id, params)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *kbHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	task, err := h.registry.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	// Kick the executor directly; the scan loop is only the crash
	// fallback.
	if h.executor != nil {
		h.executor.Dispatch(h.baseCtx, task.ID)
	}
	writeJSON(w, http.StatusAccepted, deleteKBResponse{CleanupTaskID: task.ID})
}

// pathID parses the {name} path segment as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "invalid id").
			WithDetail(name, "INVALID", "must be a UUID")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
