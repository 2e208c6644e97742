// Package catalog is the relational state of the indexing pipeline:
// documents, per-indexer-version indexed documents and shared
// content-addressed indexed content. Every mutation of an indexed
// document is published on the table_changes channel by a database
// trigger.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/seemantic/seemantic/pkg/model"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying indexed_document
// changes as JSON payloads.
const NotifyChannel = "table_changes"

// IndexedDocument is one document as viewed by a specific indexer
// version, joined with its committed content hashes when present.
type IndexedDocument struct {
	ID                   uuid.UUID
	DocumentID           uuid.UUID
	URI                  string
	IndexerVersion       int
	IndexedSourceVersion *string
	IndexedContentID     *uuid.UUID
	Status               model.IndexingStatus
	LastStatusChange     time.Time
	LastIndexing         *time.Time
	ErrorMessage         *string
	RawHash              *model.Hash
	ParsedHash           *model.Hash
}

// View converts the row to its client-facing form.
func (d *IndexedDocument) View() model.DocumentView {
	view := model.DocumentView{
		URI:              d.URI,
		Status:           d.Status,
		LastIndexing:     d.LastIndexing,
		ErrorMessage:     d.ErrorMessage,
		LastStatusChange: d.LastStatusChange,
	}
	if d.RawHash != nil && d.ParsedHash != nil {
		view.IndexedContent = &model.ContentHashes{
			RawHash:    *d.RawHash,
			ParsedHash: *d.ParsedHash,
		}
	}
	return view
}

// IndexedContentRef points at an existing indexed_content row.
type IndexedContentRef struct {
	ID         uuid.UUID
	ParsedHash model.Hash
}

// Schema creation SQL
const createDocumentSchemaSQL = `
CREATE TABLE IF NOT EXISTS document (
    id UUID PRIMARY KEY,
    uri TEXT NOT NULL UNIQUE,
    creation_datetime TIMESTAMPTZ NOT NULL
)`

const createIndexedContentSchemaSQL = `
CREATE TABLE IF NOT EXISTS indexed_content (
    id UUID PRIMARY KEY,
    raw_hash VARCHAR(32) NOT NULL,
    parsed_hash VARCHAR(32) NOT NULL,
    indexer_version INTEGER NOT NULL,
    UNIQUE (raw_hash, indexer_version)
)`

const createIndexedDocumentSchemaSQL = `
CREATE TABLE IF NOT EXISTS indexed_document (
    id UUID PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES document(id) ON DELETE CASCADE,
    uri TEXT NOT NULL,
    indexer_version INTEGER NOT NULL,
    indexed_source_version TEXT,
    indexed_content_id UUID REFERENCES indexed_content(id),
    status TEXT NOT NULL CHECK (status IN ('pending', 'indexing', 'indexing_success', 'indexing_error')),
    last_status_change TIMESTAMPTZ NOT NULL,
    last_indexing TIMESTAMPTZ,
    error_message TEXT,
    UNIQUE (document_id, indexer_version)
)`

const createIndexedDocumentURIIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_indexed_document_uri ON indexed_document(uri, indexer_version)`

// The trigger publishes each indexed_document mutation on the
// table_changes channel, with content hashes joined in so listeners
// need no extra lookup.
const createNotifyFunctionSQL = `
CREATE OR REPLACE FUNCTION notify_indexed_document_change() RETURNS TRIGGER AS $$
DECLARE
    rec indexed_document;
    payload TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;

    SELECT json_build_object(
        'operation', lower(TG_OP),
        'data', json_build_object(
            'id', rec.id,
            'uri', rec.uri,
            'indexer_version', rec.indexer_version,
            'status', rec.status,
            'last_status_change', rec.last_status_change,
            'last_indexing', rec.last_indexing,
            'error_message', rec.error_message,
            'raw_hash', c.raw_hash,
            'parsed_hash', c.parsed_hash
        )
    )::text INTO payload
    FROM (SELECT 1) one
    LEFT JOIN indexed_content c ON c.id = rec.indexed_content_id;

    PERFORM pg_notify('table_changes', payload);
    RETURN rec;
END;
$$ LANGUAGE plpgsql`

const createNotifyTriggerSQL = `
CREATE OR REPLACE TRIGGER indexed_document_changes
AFTER INSERT OR UPDATE OR DELETE ON indexed_document
FOR EACH ROW EXECUTE FUNCTION notify_indexed_document_change()`

const indexedDocumentColumns = `
d.id, d.document_id, d.uri, d.indexer_version, d.indexed_source_version,
d.indexed_content_id, d.status, d.last_status_change, d.last_indexing, d.error_message,
c.raw_hash, c.parsed_hash`

const indexedDocumentFrom = `
FROM indexed_document d
LEFT JOIN indexed_content c ON c.id = d.indexed_content_id`

// Catalog implements the relational operations of the pipeline on
// PostgreSQL. Concurrency is handled by database-level locking.
type Catalog struct {
	db *sql.DB
}

// New creates a Catalog and initializes its schema.
func New(db *sql.DB) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	c := &Catalog{db: db}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

// Open connects to PostgreSQL and creates a Catalog.
func Open(dsn string) (*Catalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return New(db)
}

func (c *Catalog) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createDocumentSchemaSQL,
		createIndexedContentSchemaSQL,
		createIndexedDocumentSchemaSQL,
		createIndexedDocumentURIIndexSQL,
		createNotifyFunctionSQL,
		createNotifyTriggerSQL,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// DeleteDocuments removes documents by URI; indexed documents across
// all versions go with them via the cascade.
func (c *Catalog) DeleteDocuments(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM document WHERE uri = ANY($1)`, pq.Array(uris))
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// CreateIndexedDocuments upserts a Document per URI (no-op when it
// exists) and an IndexedDocument per (uri, version) reset to pending.
// Returns the indexed document id per URI. Idempotent.
func (c *Catalog) CreateIndexedDocuments(ctx context.Context, uris []string, version int) (map[string]uuid.UUID, error) {
	if len(uris) == 0 {
		return map[string]uuid.UUID{}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make(map[string]uuid.UUID, len(uris))
	for _, uri := range uris {
		var documentID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO document (id, uri, creation_datetime)
			VALUES ($1, $2, now())
			ON CONFLICT (uri) DO UPDATE SET uri = EXCLUDED.uri
			RETURNING id`,
			uuid.New(), uri).Scan(&documentID)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert document %s: %w", uri, err)
		}

		var indexedDocID uuid.UUID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO indexed_document
			    (id, document_id, uri, indexer_version, status, last_status_change)
			VALUES ($1, $2, $3, $4, 'pending', now())
			ON CONFLICT (document_id, indexer_version) DO UPDATE
			    SET status = 'pending', last_status_change = now(), error_message = NULL
			RETURNING id`,
			uuid.New(), documentID, uri, version).Scan(&indexedDocID)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert indexed document %s: %w", uri, err)
		}
		ids[uri] = indexedDocID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// UpdateIndexedDocumentsStatus sets the status of the given indexed
// documents. indexing_success is reserved for FinalizeIndexedDocument.
func (c *Catalog) UpdateIndexedDocumentsStatus(ctx context.Context, ids []uuid.UUID, status model.IndexingStatus, errorMessage *string) error {
	if status == model.StatusIndexingSuccess {
		return fmt.Errorf("indexing_success can only be set by finalize")
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `
		UPDATE indexed_document
		SET status = $1, error_message = $2, last_status_change = now()
		WHERE id = ANY($3)`,
		string(status), errorMessage, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// GetIndexedContentIfExists looks up committed content by raw hash
// within one indexer version. Returns nil when absent.
func (c *Catalog) GetIndexedContentIfExists(ctx context.Context, rawHash model.Hash, version int) (*IndexedContentRef, error) {
	var ref IndexedContentRef
	err := c.db.QueryRowContext(ctx, `
		SELECT id, parsed_hash FROM indexed_content
		WHERE raw_hash = $1 AND indexer_version = $2`,
		string(rawHash), version).Scan(&ref.ID, &ref.ParsedHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexed content: %w", err)
	}
	return &ref, nil
}

// UpsertIndexedContent records a (raw_hash, parsed_hash) pair for one
// indexer version. Idempotent: identical input rewrites the same
// parsed hash.
func (c *Catalog) UpsertIndexedContent(ctx context.Context, hashes model.ContentHashes, version int) (uuid.UUID, error) {
	var id uuid.UUID
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO indexed_content (id, raw_hash, parsed_hash, indexer_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (raw_hash, indexer_version) DO UPDATE
		    SET parsed_hash = EXCLUDED.parsed_hash
		RETURNING id`,
		uuid.New(), string(hashes.RawHash), string(hashes.ParsedHash), version).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert indexed content: %w", err)
	}
	return id, nil
}

// FinalizeIndexedDocument atomically commits a successful indexing run:
// status, content reference, source version and timestamps move in one
// statement. This is the only path to indexing_success.
func (c *Catalog) FinalizeIndexedDocument(ctx context.Context, id uuid.UUID, sourceVersion string, contentID uuid.UUID) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE indexed_document
		SET status = 'indexing_success',
		    indexed_content_id = $1,
		    indexed_source_version = $2,
		    last_indexing = now(),
		    last_status_change = now(),
		    error_message = NULL
		WHERE id = $3`,
		contentID, sourceVersion, id)
	if err != nil {
		return fmt.Errorf("failed to finalize indexed document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("indexed document %s no longer exists", id)
	}
	return nil
}

// GetDocumentsFromIndexedParsedHashes joins committed documents by
// parsed hash, the query-time lookup of the search engine. Only rows
// whose content is present and matching are returned.
func (c *Catalog) GetDocumentsFromIndexedParsedHashes(ctx context.Context, hashes []model.Hash, version int) (map[model.Hash]IndexedDocument, error) {
	if len(hashes) == 0 {
		return map[model.Hash]IndexedDocument{}, nil
	}

	hashStrings := make([]string, len(hashes))
	for i, h := range hashes {
		hashStrings[i] = string(h)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+indexedDocumentColumns+indexedDocumentFrom+`
		WHERE d.indexer_version = $1
		  AND d.indexed_content_id IS NOT NULL
		  AND c.parsed_hash = ANY($2)`,
		version, pq.Array(hashStrings))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by parsed hash: %w", err)
	}
	defer rows.Close()

	result := make(map[model.Hash]IndexedDocument)
	for rows.Next() {
		doc, err := scanIndexedDocument(rows)
		if err != nil {
			return nil, err
		}
		if doc.ParsedHash != nil {
			result[*doc.ParsedHash] = *doc
		}
	}
	return result, rows.Err()
}

// GetAllDocuments returns all indexed documents of one version.
func (c *Catalog) GetAllDocuments(ctx context.Context, version int) ([]IndexedDocument, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+indexedDocumentColumns+indexedDocumentFrom+`
		WHERE d.indexer_version = $1`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return collectIndexedDocuments(rows)
}

// GetDocuments returns the indexed documents of one version matching
// the given URIs.
func (c *Catalog) GetDocuments(ctx context.Context, uris []string, version int) ([]IndexedDocument, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+indexedDocumentColumns+indexedDocumentFrom+`
		WHERE d.indexer_version = $1 AND d.uri = ANY($2)`,
		version, pq.Array(uris))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return collectIndexedDocuments(rows)
}

func collectIndexedDocuments(rows *sql.Rows) ([]IndexedDocument, error) {
	var docs []IndexedDocument
	for rows.Next() {
		doc, err := scanIndexedDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanIndexedDocument(rows *sql.Rows) (*IndexedDocument, error) {
	var doc IndexedDocument
	var status string
	var rawHash, parsedHash sql.NullString
	err := rows.Scan(
		&doc.ID, &doc.DocumentID, &doc.URI, &doc.IndexerVersion, &doc.IndexedSourceVersion,
		&doc.IndexedContentID, &status, &doc.LastStatusChange, &doc.LastIndexing, &doc.ErrorMessage,
		&rawHash, &parsedHash)
	if err != nil {
		return nil, fmt.Errorf("failed to scan indexed document: %w", err)
	}
	doc.Status = model.IndexingStatus(status)
	if rawHash.Valid {
		h := model.Hash(rawHash.String)
		doc.RawHash = &h
	}
	if parsedHash.Valid {
		h := model.Hash(parsedHash.String)
		doc.ParsedHash = &h
	}
	return &doc, nil
}
