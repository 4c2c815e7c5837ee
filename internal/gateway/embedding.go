package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// EmbeddingClient calls the model service's /embeddings endpoint.
// Vectors come back L2-normalized so cosine distance in the store
// reduces to a well-behaved inner product.
type EmbeddingClient struct {
	*client
	model     string
	dimension int
}

// NewEmbeddingClient creates an embedding gateway for the given model
// and expected vector dimension.
func NewEmbeddingClient(cfg ClientConfig, model string, dimension int, logger *slog.Logger) *EmbeddingClient {
	return &EmbeddingClient{
		client:    newClient(cfg, logger),
		model:     model,
		dimension: dimension,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one unit vector per text, in input order. The service
// may answer out of order; results are re-sorted by index before use.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", embeddingRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d embeddings, got %d", ErrUnavailable, len(texts), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if d.Index != i {
			return nil, fmt.Errorf("%w: missing embedding for index %d", ErrUnavailable, i)
		}
		if len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(d.Embedding))
		}
		out[i] = normalize(d.Embedding)
	}
	return out, nil
}

// normalize scales v to unit length. A zero vector is returned as-is;
// it cannot be normalized and will simply never rank well.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}
