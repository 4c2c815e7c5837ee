package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// FakeEmbedder produces deterministic unit-length embeddings derived
// from the text content, so identical texts always embed identically
// and similar tests stay reproducible without a model endpoint.
type FakeEmbedder struct {
	Dimension int

	// Err, when set, is returned from every Embed call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder returns a FakeEmbedder with the given dimension.
func NewFakeEmbedder(dimension int) *FakeEmbedder {
	return &FakeEmbedder{Dimension: dimension}
}

// Embed returns one deterministic unit vector per input text.
func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text, f.Dimension)
	}
	return out, nil
}

// Calls returns how many times Embed has been invoked.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// deterministicVector hashes the text into a repeatable unit vector.
func deterministicVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		h := fnv.New64a()
		fmt.Fprintf(h, "%s:%d", text, i)
		// Map the hash into [-1, 1).
		v := float64(int64(h.Sum64()))/math.MaxInt64 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// FakeReranker scores candidates by naive term overlap with the query,
// which is enough to test ordering without a model endpoint. Scores
// are raw logits in the style of a cross-encoder: positive when terms
// overlap, negative otherwise.
type FakeReranker struct {
	// Scores, when non-nil, overrides the heuristic: Scores[i] is
	// returned for documents[i].
	Scores []float64

	// Err, when set, is returned from every Rerank call.
	Err error
}

// Rerank returns one relevance score per document, in input order.
func (f *FakeReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Scores != nil {
		if len(f.Scores) != len(documents) {
			return nil, fmt.Errorf("fake reranker: %d scores for %d documents", len(f.Scores), len(documents))
		}
		return append([]float64(nil), f.Scores...), nil
	}

	terms := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(documents))
	for i, doc := range documents {
		lower := strings.ToLower(doc)
		overlap := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				overlap++
			}
		}
		// Shift so zero overlap maps to a negative logit.
		scores[i] = float64(overlap)*2 - 1
	}
	return scores, nil
}
