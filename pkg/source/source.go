// Package source exposes the document origin: snapshot enumeration,
// content reads and a resumable change-event stream.
package source

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist in the source.
var ErrNotFound = errors.New("document not found in source")

// Ref identifies one observed document version. SourceVersion is an
// opaque token compared only for equality: inequality implies possible
// content change.
type Ref struct {
	URI           string
	SourceVersion string
}

// Object is the current content of a document.
type Object struct {
	Data          []byte
	SourceVersion string
}

// EventType tags a source change event.
type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

// Event is a change notification from the source. Upsert events carry
// the new source version; delete events only the URI.
type Event struct {
	Type EventType
	Ref  Ref
}

// Source is the document origin consumed by the indexer. The event
// stream is at-least-once: duplicates and reorderings are tolerated
// downstream.
type Source interface {
	// AllRefs enumerates the current snapshot under the configured prefix.
	AllRefs(ctx context.Context) ([]Ref, error)

	// GetObject reads current content, or ErrNotFound.
	GetObject(ctx context.Context, uri string) (*Object, error)

	// PutObject writes content at the given URI.
	PutObject(ctx context.Context, uri string, data []byte) error

	// DeleteObject removes the object at the given URI.
	DeleteObject(ctx context.Context, uri string) error

	// Subscribe streams change events until ctx is cancelled. The
	// stream reconnects transparently with back-off on failure.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
