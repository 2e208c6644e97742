package indexer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/chunker"
	"github.com/seemantic/seemantic/pkg/model"
	"github.com/seemantic/seemantic/pkg/parser"
	"github.com/seemantic/seemantic/pkg/source"
	"github.com/seemantic/seemantic/pkg/vectorstore"
)

type fakeSource struct {
	refs    []source.Ref
	objects map[string]*source.Object
	events  chan source.Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		objects: make(map[string]*source.Object),
		events:  make(chan source.Event, 16),
	}
}

func (s *fakeSource) put(uri, version string, data []byte) {
	s.objects[uri] = &source.Object{Data: data, SourceVersion: version}
	for i, ref := range s.refs {
		if ref.URI == uri {
			s.refs[i].SourceVersion = version
			return
		}
	}
	s.refs = append(s.refs, source.Ref{URI: uri, SourceVersion: version})
}

func (s *fakeSource) AllRefs(ctx context.Context) ([]source.Ref, error) {
	return s.refs, nil
}

func (s *fakeSource) GetObject(ctx context.Context, uri string) (*source.Object, error) {
	object, ok := s.objects[uri]
	if !ok {
		return nil, source.ErrNotFound
	}
	return object, nil
}

func (s *fakeSource) PutObject(ctx context.Context, uri string, data []byte) error {
	s.put(uri, "v1", data)
	return nil
}

func (s *fakeSource) DeleteObject(ctx context.Context, uri string) error {
	delete(s.objects, uri)
	return nil
}

func (s *fakeSource) Subscribe(ctx context.Context) (<-chan source.Event, error) {
	return s.events, nil
}

type indexCall struct {
	parsed model.ParsedDocument
	chunks []model.EmbeddedChunk
}

type fakeStore struct {
	indexed    map[model.Hash]bool
	indexCalls []indexCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{indexed: make(map[model.Hash]bool)}
}

func (s *fakeStore) Index(ctx context.Context, parsed model.ParsedDocument, chunks []model.EmbeddedChunk) error {
	s.indexCalls = append(s.indexCalls, indexCall{parsed: parsed, chunks: chunks})
	s.indexed[parsed.Hash] = true
	return nil
}

func (s *fakeStore) IsIndexed(ctx context.Context, parsedHash model.Hash) (bool, error) {
	return s.indexed[parsedHash], nil
}

func (s *fakeStore) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.QueryResult, error) {
	return nil, nil
}

func (s *fakeStore) GetDocument(ctx context.Context, parsedHash model.Hash) (string, error) {
	return "", nil
}

func (s *fakeStore) Close() error { return nil }

type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) EmbedDocument(ctx context.Context, parsed model.ParsedDocument, chunks []model.Chunk) ([]model.EmbeddedChunk, error) {
	e.calls++
	embedded := make([]model.EmbeddedChunk, len(chunks))
	for i, chunk := range chunks {
		embedded[i] = model.EmbeddedChunk{Chunk: chunk, Vector: []float32{1}}
	}
	return embedded, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{1}, nil
}

func (e *fakeEmbedder) Dimension() int                       { return 1 }
func (e *fakeEmbedder) DistanceMetric() model.DistanceMetric { return model.DistanceCosine }

type statusCall struct {
	ids          []uuid.UUID
	status       model.IndexingStatus
	errorMessage *string
}

type finalizeCall struct {
	id            uuid.UUID
	sourceVersion string
	contentID     uuid.UUID
}

type fakeCatalog struct {
	docs        []catalog.IndexedDocument
	content     map[model.Hash]catalog.IndexedContentRef
	created     []string
	deleted     [][]string
	statusCalls []statusCall
	finalized   []finalizeCall
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{content: make(map[model.Hash]catalog.IndexedContentRef)}
}

func (c *fakeCatalog) DeleteDocuments(ctx context.Context, uris []string) error {
	if len(uris) > 0 {
		c.deleted = append(c.deleted, uris)
	}
	return nil
}

func (c *fakeCatalog) CreateIndexedDocuments(ctx context.Context, uris []string, version int) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(uris))
	for _, uri := range uris {
		c.created = append(c.created, uri)
		ids[uri] = uuid.New()
	}
	return ids, nil
}

func (c *fakeCatalog) UpdateIndexedDocumentsStatus(ctx context.Context, ids []uuid.UUID, status model.IndexingStatus, errorMessage *string) error {
	c.statusCalls = append(c.statusCalls, statusCall{ids: ids, status: status, errorMessage: errorMessage})
	return nil
}

func (c *fakeCatalog) GetIndexedContentIfExists(ctx context.Context, rawHash model.Hash, version int) (*catalog.IndexedContentRef, error) {
	if ref, ok := c.content[rawHash]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (c *fakeCatalog) UpsertIndexedContent(ctx context.Context, hashes model.ContentHashes, version int) (uuid.UUID, error) {
	id := uuid.New()
	c.content[hashes.RawHash] = catalog.IndexedContentRef{ID: id, ParsedHash: hashes.ParsedHash}
	return id, nil
}

func (c *fakeCatalog) FinalizeIndexedDocument(ctx context.Context, id uuid.UUID, sourceVersion string, contentID uuid.UUID) error {
	c.finalized = append(c.finalized, finalizeCall{id: id, sourceVersion: sourceVersion, contentID: contentID})
	return nil
}

func (c *fakeCatalog) GetAllDocuments(ctx context.Context, version int) ([]catalog.IndexedDocument, error) {
	return c.docs, nil
}

func (c *fakeCatalog) GetDocuments(ctx context.Context, uris []string, version int) ([]catalog.IndexedDocument, error) {
	var out []catalog.IndexedDocument
	for _, doc := range c.docs {
		for _, uri := range uris {
			if doc.URI == uri {
				out = append(out, doc)
			}
		}
	}
	return out, nil
}

func newTestIndexer(src *fakeSource, store *fakeStore, emb *fakeEmbedder, cat *fakeCatalog) *Indexer {
	return New(Options{
		Source:       src,
		Parser:       parser.New(),
		Chunker:      chunker.New(1000),
		Embedder:     emb,
		Store:        store,
		Catalog:      cat,
		Version:      1,
		MaxQueueSize: 16,
		Logger:       slog.Default(),
	})
}

func TestNeedsIndexing(t *testing.T) {
	now := time.Now()
	version := "etag-1"
	tests := []struct {
		name string
		ref  source.Ref
		doc  *catalog.IndexedDocument
		want bool
	}{
		{
			name: "unknown document",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-1"},
			doc:  nil,
			want: true,
		},
		{
			name: "pending row from a previous run",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-1"},
			doc:  &catalog.IndexedDocument{Status: model.StatusPending},
			want: true,
		},
		{
			name: "stale indexing row from a crash",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-1"},
			doc: &catalog.IndexedDocument{
				Status: model.StatusIndexing, LastIndexing: &now, IndexedSourceVersion: &version,
			},
			want: true,
		},
		{
			name: "never indexed successfully",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-1"},
			doc:  &catalog.IndexedDocument{Status: model.StatusIndexingError},
			want: true,
		},
		{
			name: "source version changed",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-2"},
			doc: &catalog.IndexedDocument{
				Status: model.StatusIndexingSuccess, LastIndexing: &now, IndexedSourceVersion: &version,
			},
			want: true,
		},
		{
			name: "missing source version forces reindex",
			ref:  source.Ref{URI: "a.md", SourceVersion: ""},
			doc: &catalog.IndexedDocument{
				Status: model.StatusIndexingSuccess, LastIndexing: &now, IndexedSourceVersion: &version,
			},
			want: true,
		},
		{
			name: "up to date",
			ref:  source.Ref{URI: "a.md", SourceVersion: "etag-1"},
			doc: &catalog.IndexedDocument{
				Status: model.StatusIndexingSuccess, LastIndexing: &now, IndexedSourceVersion: &version,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsIndexing(tt.ref, tt.doc))
		})
	}
}

func TestIndexOneSuccess(t *testing.T) {
	src := newFakeSource()
	src.put("doc.md", "etag-1", []byte("# Title\nsome body text"))
	store := newFakeStore()
	emb := &fakeEmbedder{}
	cat := newFakeCatalog()
	idx := newTestIndexer(src, store, emb, cat)

	id := uuid.New()
	result := idx.indexOne(context.Background(), workItem{
		ref:          source.Ref{URI: "doc.md", SourceVersion: "etag-1"},
		indexedDocID: id,
	})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.Len(t, cat.statusCalls, 1)
	assert.Equal(t, model.StatusIndexing, cat.statusCalls[0].status)
	assert.Equal(t, 1, emb.calls)
	require.Len(t, store.indexCalls, 1)
	assert.Equal(t, "# Title\nsome body text", store.indexCalls[0].parsed.Markdown)
	require.Len(t, cat.finalized, 1)
	assert.Equal(t, id, cat.finalized[0].id)
	assert.Equal(t, "etag-1", cat.finalized[0].sourceVersion)
}

func TestIndexOneRawHashEarlyExit(t *testing.T) {
	src := newFakeSource()
	// Deliberately unparsable bytes: the raw hash exit must fire before
	// any parse attempt.
	data := []byte{0xff, 0xfe, 0x00}
	src.put("doc.md", "etag-2", data)
	store := newFakeStore()
	emb := &fakeEmbedder{}
	cat := newFakeCatalog()

	contentID := uuid.New()
	cat.content[model.HashBytes(data)] = catalog.IndexedContentRef{
		ID: contentID, ParsedHash: model.HashString("previously parsed"),
	}
	idx := newTestIndexer(src, store, emb, cat)

	result := idx.indexOne(context.Background(), workItem{
		ref:          source.Ref{URI: "doc.md", SourceVersion: "etag-2"},
		indexedDocID: uuid.New(),
	})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 0, emb.calls)
	assert.Empty(t, store.indexCalls)
	require.Len(t, cat.finalized, 1)
	assert.Equal(t, contentID, cat.finalized[0].contentID)
}

func TestIndexOneParsedHashEarlyExit(t *testing.T) {
	markdown := "# Same\ncontent"
	src := newFakeSource()
	src.put("copy.md", "etag-1", []byte(markdown))
	store := newFakeStore()
	store.indexed[model.HashString(markdown)] = true
	emb := &fakeEmbedder{}
	cat := newFakeCatalog()
	idx := newTestIndexer(src, store, emb, cat)

	result := idx.indexOne(context.Background(), workItem{
		ref:          source.Ref{URI: "copy.md", SourceVersion: "etag-1"},
		indexedDocID: uuid.New(),
	})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	// Embedding and store writes are skipped, but the catalog still
	// records the content and finalizes the document.
	assert.Equal(t, 0, emb.calls)
	assert.Empty(t, store.indexCalls)
	assert.Len(t, cat.finalized, 1)
}

func TestIndexOneEmptyDocumentSkipsEmbedder(t *testing.T) {
	src := newFakeSource()
	src.put("empty.md", "etag-1", nil)
	store := newFakeStore()
	emb := &fakeEmbedder{}
	cat := newFakeCatalog()
	idx := newTestIndexer(src, store, emb, cat)

	result := idx.indexOne(context.Background(), workItem{
		ref:          source.Ref{URI: "empty.md", SourceVersion: "etag-1"},
		indexedDocID: uuid.New(),
	})

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 0, emb.calls)
	require.Len(t, store.indexCalls, 1)
	assert.Empty(t, store.indexCalls[0].chunks)
	assert.Len(t, cat.finalized, 1)
}

func TestIndexOneFailures(t *testing.T) {
	t.Run("document vanished from source", func(t *testing.T) {
		idx := newTestIndexer(newFakeSource(), newFakeStore(), &fakeEmbedder{}, newFakeCatalog())
		result := idx.indexOne(context.Background(), workItem{
			ref: source.Ref{URI: "gone.md"}, indexedDocID: uuid.New(),
		})
		assert.Equal(t, OutcomeNotFound, result.Outcome)
		assert.Equal(t, "document not found in source", result.PublicMessage)
	})

	t.Run("unsupported file type", func(t *testing.T) {
		src := newFakeSource()
		src.put("image.png", "etag-1", []byte("not a document"))
		idx := newTestIndexer(src, newFakeStore(), &fakeEmbedder{}, newFakeCatalog())
		result := idx.indexOne(context.Background(), workItem{
			ref: source.Ref{URI: "image.png"}, indexedDocID: uuid.New(),
		})
		assert.Equal(t, OutcomeUnsupportedType, result.Outcome)
		assert.Equal(t, "unsupported filetype png", result.PublicMessage)
	})

	t.Run("parse error", func(t *testing.T) {
		src := newFakeSource()
		src.put("bad.md", "etag-1", []byte{0xff, 0xfe})
		idx := newTestIndexer(src, newFakeStore(), &fakeEmbedder{}, newFakeCatalog())
		result := idx.indexOne(context.Background(), workItem{
			ref: source.Ref{URI: "bad.md"}, indexedDocID: uuid.New(),
		})
		assert.Equal(t, OutcomeParseError, result.Outcome)
		assert.Equal(t, "parse error", result.PublicMessage)
	})
}

func TestFinishUnitRecordsError(t *testing.T) {
	cat := newFakeCatalog()
	idx := newTestIndexer(newFakeSource(), newFakeStore(), &fakeEmbedder{}, cat)

	id := uuid.New()
	idx.finishUnit(context.Background(), workItem{
		ref: source.Ref{URI: "bad.md"}, indexedDocID: id,
	}, failure(OutcomeParseError, "parse error", assert.AnError), time.Millisecond)

	require.Len(t, cat.statusCalls, 1)
	assert.Equal(t, []uuid.UUID{id}, cat.statusCalls[0].ids)
	assert.Equal(t, model.StatusIndexingError, cat.statusCalls[0].status)
	require.NotNil(t, cat.statusCalls[0].errorMessage)
	assert.Equal(t, "parse error", *cat.statusCalls[0].errorMessage)
}

func TestReconcile(t *testing.T) {
	src := newFakeSource()
	src.put("new.md", "etag-1", []byte("new"))
	src.put("unchanged.md", "etag-1", []byte("unchanged"))

	now := time.Now()
	version := "etag-1"
	cat := newFakeCatalog()
	cat.docs = []catalog.IndexedDocument{
		{
			URI: "unchanged.md", Status: model.StatusIndexingSuccess,
			LastIndexing: &now, IndexedSourceVersion: &version,
		},
		{URI: "vanished.md", Status: model.StatusIndexingSuccess, LastIndexing: &now, IndexedSourceVersion: &version},
	}

	idx := newTestIndexer(src, newFakeStore(), &fakeEmbedder{}, cat)
	require.NoError(t, idx.Reconcile(context.Background()))

	assert.Equal(t, []string{"new.md"}, cat.created)
	require.Len(t, cat.deleted, 1)
	assert.Equal(t, []string{"vanished.md"}, cat.deleted[0])
	assert.Len(t, idx.queue, 1)
}

func TestEnqueueDeduplicatesInFlightURIs(t *testing.T) {
	idx := newTestIndexer(newFakeSource(), newFakeStore(), &fakeEmbedder{}, newFakeCatalog())

	ref := source.Ref{URI: "dup.md", SourceVersion: "etag-1"}
	require.NoError(t, idx.enqueue(context.Background(), ref, uuid.New()))
	require.NoError(t, idx.enqueue(context.Background(), ref, uuid.New()))
	assert.Len(t, idx.queue, 1)
}
