// Package embedder turns chunks and queries into fixed-dimension
// vectors via an HTTP embedding provider.
package embedder

import (
	"context"

	"github.com/seemantic/seemantic/pkg/model"
)

// Embedder produces embedding vectors for document chunks and queries.
// The declared distance metric is wired into the vector store at
// construction.
type Embedder interface {
	// EmbedDocument embeds all chunks of a parsed document, batching
	// provider calls by concatenated character length.
	EmbedDocument(ctx context.Context, parsed model.ParsedDocument, chunks []model.Chunk) ([]model.EmbeddedChunk, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the fixed output vector dimension.
	Dimension() int

	// DistanceMetric is the similarity measure the model was trained for.
	DistanceMetric() model.DistanceMetric
}

// batchByChars groups texts into consecutive batches whose concatenated
// character length does not exceed maxChars. A single text longer than
// maxChars forms its own batch.
func batchByChars(texts []string, maxChars int) [][]string {
	var batches [][]string
	var current []string
	currentLen := 0

	for _, text := range texts {
		if len(current) > 0 && currentLen+len(text) > maxChars {
			batches = append(batches, current)
			current = nil
			currentLen = 0
		}
		current = append(current, text)
		currentLen += len(text)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}
