// Package model holds the domain types shared across the indexing
// pipeline: content hashes, parsed documents, chunks and the
// per-document indexing status exposed to clients.
package model

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zeebo/xxh3"
)

// Hash is the lowercase hex encoding of a 128-bit xxh3 content hash.
type Hash string

// HashBytes computes the content hash of raw bytes.
func HashBytes(data []byte) Hash {
	sum := xxh3.Hash128(data)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], sum.Hi)
	binary.BigEndian.PutUint64(buf[8:], sum.Lo)
	return Hash(hex.EncodeToString(buf[:]))
}

// HashString computes the content hash of a string.
func HashString(s string) Hash {
	return HashBytes([]byte(s))
}

// IndexingStatus is the lifecycle state of an indexed document.
type IndexingStatus string

const (
	StatusPending         IndexingStatus = "pending"
	StatusIndexing        IndexingStatus = "indexing"
	StatusIndexingSuccess IndexingStatus = "indexing_success"
	StatusIndexingError   IndexingStatus = "indexing_error"
)

// ContentHashes is the (raw, parsed) hash pair recorded for a committed
// document. Raw addresses the source bytes, parsed the canonical markdown.
type ContentHashes struct {
	RawHash    Hash `json:"raw_hash"`
	ParsedHash Hash `json:"parsed_hash"`
}

// DocumentView is the client-facing snapshot of a document's indexing
// state within one indexer version.
type DocumentView struct {
	URI              string         `json:"uri"`
	Status           IndexingStatus `json:"status"`
	LastIndexing     *time.Time     `json:"last_indexing,omitempty"`
	ErrorMessage     *string        `json:"error_status_message,omitempty"`
	IndexedContent   *ContentHashes `json:"indexed_content_hashes,omitempty"`
	LastStatusChange time.Time      `json:"last_status_change"`
}

// ParsedDocument is canonical markdown plus its content hash.
type ParsedDocument struct {
	Hash     Hash
	Markdown string
}

// NewParsedDocument hashes markdown into a ParsedDocument.
func NewParsedDocument(markdown string) ParsedDocument {
	return ParsedDocument{
		Hash:     HashString(markdown),
		Markdown: markdown,
	}
}

// Chunk is a half-open character span [Start, End) within a parsed
// document's markdown.
type Chunk struct {
	Start int
	End   int
}

// Content returns the chunk's substring of the given markdown.
func (c Chunk) Content(markdown string) string {
	return markdown[c.Start:c.End]
}

// EmbeddedChunk pairs a chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk  Chunk
	Vector []float32
}

// ChunkHit is a chunk returned from a vector query with its distance
// to the query vector.
type ChunkHit struct {
	Chunk    Chunk
	Distance float32
}

// DistanceMetric is the similarity measure declared by an embedder and
// wired into the vector store at construction.
type DistanceMetric string

const (
	DistanceL2     DistanceMetric = "l2"
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
)
