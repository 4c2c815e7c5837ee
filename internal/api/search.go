package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/search"
)

type searchHandler struct {
	engine *search.Engine
	logger *slog.Logger
}

type searchRequest struct {
	Query           string    `json:"query"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	TopK            int       `json:"top_k"`
}

type searchResponse struct {
	Results []search.Result `json:"results"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "invalid JSON body"), h.logger)
		return
	}
	if req.KnowledgeBaseID == uuid.Nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "knowledge_base_id is required").
			WithDetail("knowledge_base_id", "REQUIRED", "knowledge_base_id must be set"), h.logger)
		return
	}
	if req.TopK == 0 {
		req.TopK = 10
	}

	results, err := h.engine.Search(r.Context(), req.KnowledgeBaseID, req.Query, req.TopK)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}
