// Package search implements retrieve-then-rerank over a knowledge
// base: an approximate nearest-neighbor pass recalls candidates, a
// cross-encoder reranks them, and the top results come back with
// calibrated scores.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/gateway"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

// candidateMultiplier widens the recall pass relative to the requested
// top-k so the reranker has room to reorder.
const candidateMultiplier = 3

// Result is one search hit. Score is the reranker's sigmoid-calibrated
// relevance in (0, 1).
type Result struct {
	ChunkText  string    `json:"chunk_text"`
	Score      float64   `json:"score"`
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunk_index"`
}

// Engine runs searches against one store and one model service.
type Engine struct {
	registry      *kb.Registry
	store         *vectorstore.Store
	embedder      gateway.Embedder
	reranker      gateway.Reranker
	maxTopK       int
	maxCandidates int
	logger        *slog.Logger
}

// NewEngine wires a search engine. maxCandidates caps the rerank batch
// regardless of top-k.
func NewEngine(registry *kb.Registry, store *vectorstore.Store, embedder gateway.Embedder, reranker gateway.Reranker, maxTopK, maxCandidates int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:      registry,
		store:         store,
		embedder:      embedder,
		reranker:      reranker,
		maxTopK:       maxTopK,
		maxCandidates: maxCandidates,
		logger:        logger,
	}
}

// Search returns the topK most relevant chunks for the query within
// the knowledge base. The knowledge base must exist and be enabled;
// existence is checked first so a wrong id is a not-found, not a
// permission puzzle. An empty knowledge base is a successful empty
// result.
func (e *Engine) Search(ctx context.Context, kbID uuid.UUID, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "query must not be empty").
			WithDetail("query", "REQUIRED", "query must not be empty")
	}
	if topK < 1 || topK > e.maxTopK {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "top_k out of range").
			WithDetail("top_k", "OUT_OF_RANGE", fmt.Sprintf("top_k must be between 1 and %d", e.maxTopK))
	}

	if _, err := e.registry.GetAvailable(ctx, kbID); err != nil {
		return nil, err
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "EMBEDDING_UNAVAILABLE", "embedding service unavailable")
	}
	if len(vectors) != 1 {
		return nil, apperr.Internal(fmt.Errorf("expected 1 query vector, got %d", len(vectors)))
	}

	limit := topK * candidateMultiplier
	if limit > e.maxCandidates {
		limit = e.maxCandidates
	}
	if limit < topK {
		limit = topK
	}

	neighbors, err := e.store.NearestNeighbors(ctx, kbID, vectors[0], limit)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return []Result{}, nil
	}

	texts := make([]string, len(neighbors))
	for i, n := range neighbors {
		texts[i] = n.Text
	}
	scores, err := e.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "RERANK_UNAVAILABLE", "rerank service unavailable")
	}
	if len(scores) != len(neighbors) {
		return nil, apperr.Internal(fmt.Errorf("got %d rerank scores for %d candidates", len(scores), len(neighbors)))
	}

	results := make([]Result, len(neighbors))
	order := make([]int, len(neighbors))
	for i, n := range neighbors {
		results[i] = Result{
			ChunkText:  n.Text,
			Score:      sigmoid(scores[i]),
			DocumentID: n.DocumentID,
			Filename:   n.Filename,
			ChunkIndex: n.ChunkIndex,
		}
		order[i] = i
	}

	// Stable sort by score descending; equal scores keep their vector
	// distance order from the recall pass.
	sort.SliceStable(order, func(a, b int) bool {
		return results[order[a]].Score > results[order[b]].Score
	})

	if topK > len(order) {
		topK = len(order)
	}
	out := make([]Result, topK)
	for i := 0; i < topK; i++ {
		out[i] = results[order[i]]
	}

	e.logger.Debug("search completed",
		"knowledge_base_id", kbID, "candidates", len(neighbors), "returned", len(out))
	return out, nil
}

// sigmoid maps a raw cross-encoder logit into (0, 1).
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
