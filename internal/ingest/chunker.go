// Package ingest turns uploaded files into embedded chunks. The
// pipeline is parse, chunk, embed, then a single transactional commit,
// so a document is either fully searchable or not searchable at all.
package ingest

import (
	"strings"
	"unicode"
)

// Chunk is one window of document text queued for embedding.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits text into overlapping token windows. A token is a
// maximal run of non-space characters, which tracks the embedding
// model's own tokenizer closely enough for windowing purposes. Chunk
// text is always a contiguous slice of the original, so nothing is
// reflowed or lost between windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker with the given window size and overlap,
// both in tokens. Overlap is clamped to size-1 so the window always
// advances.
func NewChunker(size, overlap int) *Chunker {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

type span struct {
	start, end int
}

// Split returns the chunks of text in order. Text with no tokens
// yields zero chunks.
func (c *Chunker) Split(text string) []Chunk {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  strings.TrimSpace(text[tokens[start].start:tokens[end-1].end]),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// tokenize records the byte span of every whitespace-delimited token.
func tokenize(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}
