// Package gateway talks to the external model service over its
// OpenAI-compatible HTTP API. Two capabilities are exposed: batch text
// embedding and cross-encoder reranking. The service is treated as a
// black box; everything quiver needs from it flows through the two
// small interfaces below so tests can substitute deterministic fakes.
package gateway

import (
	"context"
	"errors"
)

// Embedder converts texts into fixed-dimension unit vectors.
// Implementations must return exactly one vector per input text, in
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores candidate texts for relevance against a query.
// Implementations must return exactly one raw (pre-sigmoid) score per
// document, in input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

// ErrUnavailable indicates the model service could not serve the
// request after retries. Callers map it to their own failure handling
// (ingestion marks the document failed, search returns an error).
var ErrUnavailable = errors.New("model service unavailable")

// ErrDimensionMismatch indicates the service returned vectors of a
// different dimension than configured. This is a deployment
// misconfiguration, not a transient fault, so it is never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
