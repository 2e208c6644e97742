// Package search answers semantic queries: it embeds the query,
// retrieves nearest chunks, joins them back to catalog documents and
// widens the hits into section passages.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/embedder"
	"github.com/seemantic/seemantic/pkg/model"
	"github.com/seemantic/seemantic/pkg/vectorstore"
)

// Catalog is the subset of catalog operations the engine needs.
type Catalog interface {
	GetDocumentsFromIndexedParsedHashes(ctx context.Context, hashes []model.Hash, version int) (map[model.Hash]catalog.IndexedDocument, error)
}

// DocumentResult is the search outcome for one document.
type DocumentResult struct {
	URI        string     `json:"uri"`
	ParsedHash model.Hash `json:"parsed_hash"`
	Passages   []Passage  `json:"passages"`
}

// Engine runs semantic queries against the vector store.
type Engine struct {
	embedder embedder.Embedder
	store    vectorstore.Store
	catalog  Catalog
	version  int
	logger   *slog.Logger
}

// NewEngine creates a search Engine.
func NewEngine(emb embedder.Embedder, store vectorstore.Store, cat Catalog, version int, logger *slog.Logger) *Engine {
	return &Engine{
		embedder: emb,
		store:    store,
		catalog:  cat,
		version:  version,
		logger:   logger,
	}
}

// Search returns the best-matching documents for the query, ordered by
// their best chunk distance. Hits whose parsed content no longer maps
// to a catalog document are dropped.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]DocumentResult, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	grouped, err := e.store.Query(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	if len(grouped) == 0 {
		return []DocumentResult{}, nil
	}

	hashes := make([]model.Hash, len(grouped))
	for i, group := range grouped {
		hashes[i] = group.ParsedHash
	}
	docs, err := e.catalog.GetDocumentsFromIndexedParsedHashes(ctx, hashes, e.version)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents: %w", err)
	}

	results := make([]DocumentResult, 0, len(grouped))
	for _, group := range grouped {
		doc, ok := docs[group.ParsedHash]
		if !ok {
			// Content still in the vector store but no longer indexed
			// for any document, typically mid-update.
			e.logger.Debug("dropping orphaned search hit", "parsed_hash", string(group.ParsedHash))
			continue
		}
		results = append(results, DocumentResult{
			URI:        doc.URI,
			ParsedHash: group.ParsedHash,
			Passages:   assemblePassages(group.Markdown, group.Chunks),
		})
	}
	return results, nil
}
