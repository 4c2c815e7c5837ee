package gateway

import (
	"context"
	"fmt"
	"log/slog"
)

// RerankClient calls the model service's /rerank endpoint. Scores come
// back raw; the search engine applies the sigmoid so the gateway stays
// a faithful transport.
type RerankClient struct {
	*client
	model string
}

// NewRerankClient creates a rerank gateway for the given model.
func NewRerankClient(cfg ClientConfig, model string, logger *slog.Logger) *RerankClient {
	return &RerankClient{
		client: newClient(cfg, logger),
		model:  model,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns one raw relevance score per document, positionally
// aligned with the input.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var resp rerankResponse
	if err := c.postJSON(ctx, "/rerank", rerankRequest{Model: c.model, Query: query, Documents: documents}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Results) != len(documents) {
		return nil, fmt.Errorf("%w: sent %d documents, got %d scores", ErrUnavailable, len(documents), len(resp.Results))
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) || seen[r.Index] {
			return nil, fmt.Errorf("%w: invalid result index %d", ErrUnavailable, r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	return scores, nil
}
