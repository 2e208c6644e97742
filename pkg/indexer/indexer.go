// Package indexer orchestrates the pipeline: it diffs the source
// against the catalog, queues work per document and drives each unit
// through parse, chunk, embed and store with content-addressed early
// exits.
package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/chunker"
	"github.com/seemantic/seemantic/pkg/embedder"
	"github.com/seemantic/seemantic/pkg/model"
	"github.com/seemantic/seemantic/pkg/parser"
	"github.com/seemantic/seemantic/pkg/source"
	"github.com/seemantic/seemantic/pkg/vectorstore"
)

// Catalog is the subset of catalog operations the indexer drives.
type Catalog interface {
	DeleteDocuments(ctx context.Context, uris []string) error
	CreateIndexedDocuments(ctx context.Context, uris []string, version int) (map[string]uuid.UUID, error)
	UpdateIndexedDocumentsStatus(ctx context.Context, ids []uuid.UUID, status model.IndexingStatus, errorMessage *string) error
	GetIndexedContentIfExists(ctx context.Context, rawHash model.Hash, version int) (*catalog.IndexedContentRef, error)
	UpsertIndexedContent(ctx context.Context, hashes model.ContentHashes, version int) (uuid.UUID, error)
	FinalizeIndexedDocument(ctx context.Context, id uuid.UUID, sourceVersion string, contentID uuid.UUID) error
	GetAllDocuments(ctx context.Context, version int) ([]catalog.IndexedDocument, error)
	GetDocuments(ctx context.Context, uris []string, version int) ([]catalog.IndexedDocument, error)
}

// workItem is one queued indexing unit.
type workItem struct {
	ref          source.Ref
	indexedDocID uuid.UUID
}

// Indexer keeps the catalog and stores converged to the source. One
// consumer drains the bounded queue; per-URI serialization is provided
// by the in-queue set.
type Indexer struct {
	source   source.Source
	parser   *parser.Parser
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	store    vectorstore.Store
	catalog  Catalog
	version  int
	logger   *slog.Logger
	metrics  *Metrics

	queue chan workItem

	mu      sync.Mutex
	inQueue map[string]struct{}
}

// Options bundles the indexer's collaborators.
type Options struct {
	Source       source.Source
	Parser       *parser.Parser
	Chunker      *chunker.Chunker
	Embedder     embedder.Embedder
	Store        vectorstore.Store
	Catalog      Catalog
	Version      int
	MaxQueueSize int
	Logger       *slog.Logger
	Metrics      *Metrics
}

// New creates an Indexer.
func New(opts Options) *Indexer {
	if opts.MaxQueueSize < 1 {
		opts.MaxQueueSize = 10000
	}
	return &Indexer{
		source:   opts.Source,
		parser:   opts.Parser,
		chunker:  opts.Chunker,
		embedder: opts.Embedder,
		store:    opts.Store,
		catalog:  opts.Catalog,
		version:  opts.Version,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		queue:    make(chan workItem, opts.MaxQueueSize),
		inQueue:  make(map[string]struct{}),
	}
}

// Run reconciles the catalog against the current source snapshot, then
// processes source events and queued units until ctx is cancelled.
func (idx *Indexer) Run(ctx context.Context) error {
	if err := idx.Reconcile(ctx); err != nil {
		// Reconciliation failure is not fatal to the process; the
		// event stream still converges newly touched documents.
		idx.logger.Error("reconciliation failed", "error", err)
	}

	events, err := idx.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return idx.consume(ctx) })
	g.Go(func() error { return idx.dispatchEvents(ctx, events) })
	return g.Wait()
}

// Reconcile converges the catalog to the current source snapshot:
// unknown and changed documents are re-queued, vanished ones deleted.
func (idx *Indexer) Reconcile(ctx context.Context) error {
	refs, err := idx.source.AllRefs(ctx)
	if err != nil {
		return err
	}
	docs, err := idx.catalog.GetAllDocuments(ctx, idx.version)
	if err != nil {
		return err
	}

	docByURI := make(map[string]*catalog.IndexedDocument, len(docs))
	for i := range docs {
		docByURI[docs[i].URI] = &docs[i]
	}

	var toIndex []source.Ref
	sourceURIs := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		sourceURIs[ref.URI] = struct{}{}
		if needsIndexing(ref, docByURI[ref.URI]) {
			toIndex = append(toIndex, ref)
		}
	}

	if err := idx.createAndEnqueue(ctx, toIndex); err != nil {
		return err
	}

	var vanished []string
	for _, doc := range docs {
		if _, ok := sourceURIs[doc.URI]; !ok {
			vanished = append(vanished, doc.URI)
		}
	}
	if err := idx.catalog.DeleteDocuments(ctx, vanished); err != nil {
		return err
	}

	idx.logger.Info("reconciliation complete",
		"source_documents", len(refs), "queued", len(toIndex), "deleted", len(vanished))
	return nil
}

func (idx *Indexer) dispatchEvents(ctx context.Context, events <-chan source.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			var err error
			switch event.Type {
			case source.EventUpsert:
				err = idx.handleUpsert(ctx, event.Ref)
			case source.EventDelete:
				err = idx.catalog.DeleteDocuments(ctx, []string{event.Ref.URI})
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				idx.logger.Error("failed to process source event",
					"type", string(event.Type), "uri", event.Ref.URI, "error", err)
			}
		}
	}
}

func (idx *Indexer) handleUpsert(ctx context.Context, ref source.Ref) error {
	docs, err := idx.catalog.GetDocuments(ctx, []string{ref.URI}, idx.version)
	if err != nil {
		return err
	}
	var existing *catalog.IndexedDocument
	if len(docs) > 0 {
		existing = &docs[0]
	}
	if !needsIndexing(ref, existing) {
		return nil
	}
	return idx.createAndEnqueue(ctx, []source.Ref{ref})
}

func (idx *Indexer) createAndEnqueue(ctx context.Context, refs []source.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	uris := make([]string, len(refs))
	for i, ref := range refs {
		uris[i] = ref.URI
	}
	ids, err := idx.catalog.CreateIndexedDocuments(ctx, uris, idx.version)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := idx.enqueue(ctx, ref, ids[ref.URI]); err != nil {
			return err
		}
	}
	return nil
}

// needsIndexing classifies a source reference against the catalog row.
// A row stuck in pending or indexing is stale work from a previous run
// and is always reprocessed.
func needsIndexing(ref source.Ref, doc *catalog.IndexedDocument) bool {
	if doc == nil {
		return true
	}
	if doc.Status == model.StatusPending || doc.Status == model.StatusIndexing {
		return true
	}
	if doc.LastIndexing == nil || doc.IndexedSourceVersion == nil {
		return true
	}
	if ref.SourceVersion == "" {
		return true
	}
	return *doc.IndexedSourceVersion != ref.SourceVersion
}

// enqueue adds one unit unless its URI is already in flight. Blocks
// when the queue is full.
func (idx *Indexer) enqueue(ctx context.Context, ref source.Ref, id uuid.UUID) error {
	idx.mu.Lock()
	if _, inFlight := idx.inQueue[ref.URI]; inFlight {
		idx.mu.Unlock()
		return nil
	}
	idx.inQueue[ref.URI] = struct{}{}
	idx.mu.Unlock()

	select {
	case idx.queue <- workItem{ref: ref, indexedDocID: id}:
		if idx.metrics != nil {
			idx.metrics.queueDepth.Inc()
		}
		return nil
	case <-ctx.Done():
		idx.mu.Lock()
		delete(idx.inQueue, ref.URI)
		idx.mu.Unlock()
		return ctx.Err()
	}
}

func (idx *Indexer) consume(ctx context.Context) error {
	for {
		var item workItem
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item = <-idx.queue:
		}

		if idx.metrics != nil {
			idx.metrics.queueDepth.Dec()
		}

		// Dropping the URI from the in-queue set before processing
		// lets a concurrent upsert re-enqueue cleanly.
		idx.mu.Lock()
		delete(idx.inQueue, item.ref.URI)
		idx.mu.Unlock()

		start := time.Now()
		result := idx.indexOne(ctx, item)
		idx.finishUnit(ctx, item, result, time.Since(start))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// indexOne drives one unit through the pipeline. The raw-hash exit
// happens before parse; the parsed-hash exit after parse but before
// embed.
func (idx *Indexer) indexOne(ctx context.Context, item workItem) Result {
	ids := []uuid.UUID{item.indexedDocID}
	if err := idx.catalog.UpdateIndexedDocumentsStatus(ctx, ids, model.StatusIndexing, nil); err != nil {
		return failure(OutcomeTransient, "transient error", err)
	}

	object, err := idx.source.GetObject(ctx, item.ref.URI)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return failure(OutcomeNotFound, "document not found in source", err)
		}
		return failure(OutcomeTransient, "transient error", err)
	}

	rawHash := model.HashBytes(object.Data)

	existing, err := idx.catalog.GetIndexedContentIfExists(ctx, rawHash, idx.version)
	if err != nil {
		return failure(OutcomeTransient, "transient error", err)
	}
	if existing != nil {
		if err := idx.catalog.FinalizeIndexedDocument(ctx, item.indexedDocID, object.SourceVersion, existing.ID); err != nil {
			return failure(OutcomeTransient, "transient error", err)
		}
		return success()
	}

	parsed, err := idx.parser.Parse(item.ref.URI, object.Data)
	if err != nil {
		switch {
		case errors.Is(err, parser.ErrUnsupportedType):
			return failure(OutcomeUnsupportedType, err.Error(), err)
		case errors.Is(err, parser.ErrParse):
			return failure(OutcomeParseError, "parse error", err)
		default:
			return failure(OutcomeUnknown, "unknown error", err)
		}
	}

	alreadyIndexed, err := idx.store.IsIndexed(ctx, parsed.Hash)
	if err != nil {
		return failure(OutcomeTransient, "transient error", err)
	}
	if !alreadyIndexed {
		chunks := idx.chunker.Chunk(parsed.Markdown)

		var embedded []model.EmbeddedChunk
		if len(parsed.Markdown) > 0 {
			embedded, err = idx.embedder.EmbedDocument(ctx, parsed, chunks)
			if err != nil {
				return failure(OutcomeTransient, "transient error", err)
			}
		}

		if err := idx.store.Index(ctx, parsed, embedded); err != nil {
			return failure(OutcomeTransient, "transient error", err)
		}
	}

	contentID, err := idx.catalog.UpsertIndexedContent(ctx, model.ContentHashes{
		RawHash:    rawHash,
		ParsedHash: parsed.Hash,
	}, idx.version)
	if err != nil {
		return failure(OutcomeTransient, "transient error", err)
	}

	if err := idx.catalog.FinalizeIndexedDocument(ctx, item.indexedDocID, object.SourceVersion, contentID); err != nil {
		return failure(OutcomeTransient, "transient error", err)
	}
	return success()
}

// finishUnit records the outcome. Errors here never poison the queue.
func (idx *Indexer) finishUnit(ctx context.Context, item workItem, result Result, elapsed time.Duration) {
	if idx.metrics != nil {
		idx.metrics.indexingDuration.Observe(elapsed.Seconds())
	}

	if result.Outcome == OutcomeSuccess {
		if idx.metrics != nil {
			idx.metrics.documentsIndexed.Inc()
		}
		idx.logger.Info("document indexed", "uri", item.ref.URI, "elapsed", elapsed)
		return
	}

	if idx.metrics != nil {
		idx.metrics.documentsErrored.WithLabelValues(result.Outcome.String()).Inc()
	}
	idx.logger.Warn("document indexing failed",
		"uri", item.ref.URI, "outcome", result.Outcome.String(), "error", result.Err)

	message := result.PublicMessage
	err := idx.catalog.UpdateIndexedDocumentsStatus(ctx,
		[]uuid.UUID{item.indexedDocID}, model.StatusIndexingError, &message)
	if err != nil {
		idx.logger.Error("failed to record indexing error", "uri", item.ref.URI, "error", err)
	}
}
