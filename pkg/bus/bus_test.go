package bus

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seemantic/seemantic/pkg/model"
)

const samplePayload = `{
	"operation": "update",
	"data": {
		"uri": "docs/a.md",
		"indexer_version": 1,
		"status": "indexing_success",
		"last_status_change": "2026-08-24T10:00:00Z",
		"last_indexing": "2026-08-24T10:00:00Z",
		"error_message": null,
		"raw_hash": "aa11",
		"parsed_hash": "bb22"
	}
}`

func newTestBus(version int) *Bus {
	return New("postgres://unused", version, 4, slog.Default())
}

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDispatchDeliversParsedEvent(t *testing.T) {
	b := newTestBus(1)
	sub := &Subscriber{ch: make(chan Event, 4)}
	b.subscribers[sub] = struct{}{}

	b.dispatch(samplePayload)

	event := receive(t, sub)
	assert.Equal(t, EventUpdate, event.Type)
	assert.Equal(t, "docs/a.md", event.Document.URI)
	assert.Equal(t, model.StatusIndexingSuccess, event.Document.Status)
	require.NotNil(t, event.Document.IndexedContent)
	assert.Equal(t, model.Hash("aa11"), event.Document.IndexedContent.RawHash)
	assert.Equal(t, model.Hash("bb22"), event.Document.IndexedContent.ParsedHash)
}

func TestDispatchFiltersOtherIndexerVersions(t *testing.T) {
	b := newTestBus(2)
	sub := &Subscriber{ch: make(chan Event, 4)}
	b.subscribers[sub] = struct{}{}

	b.dispatch(samplePayload)
	assert.Empty(t, sub.ch)
}

func TestDispatchSwallowsUnparsablePayload(t *testing.T) {
	b := newTestBus(1)
	sub := &Subscriber{ch: make(chan Event, 4)}
	b.subscribers[sub] = struct{}{}

	b.dispatch("{not json")
	b.dispatch(samplePayload)

	event := receive(t, sub)
	assert.Equal(t, "docs/a.md", event.Document.URI)
}

func TestDispatchWithoutContentHashes(t *testing.T) {
	b := newTestBus(1)
	sub := &Subscriber{ch: make(chan Event, 4)}
	b.subscribers[sub] = struct{}{}

	b.dispatch(`{
		"operation": "insert",
		"data": {
			"uri": "docs/b.md",
			"indexer_version": 1,
			"status": "pending",
			"last_status_change": "2026-08-24T10:00:00Z",
			"last_indexing": null,
			"error_message": null,
			"raw_hash": null,
			"parsed_hash": null
		}
	}`)

	event := receive(t, sub)
	assert.Equal(t, EventInsert, event.Type)
	assert.Nil(t, event.Document.IndexedContent)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newTestBus(1)
	first := &Subscriber{ch: make(chan Event, 4)}
	second := &Subscriber{ch: make(chan Event, 4)}
	b.subscribers[first] = struct{}{}
	b.subscribers[second] = struct{}{}

	b.publish(Event{Type: EventDelete, Document: model.DocumentView{URI: "x.md"}})

	assert.Equal(t, "x.md", receive(t, first).Document.URI)
	assert.Equal(t, "x.md", receive(t, second).Document.URI)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus(1)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)
	b.Close()
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := newTestBus(1)
	first := b.Subscribe()
	second := b.Subscribe()
	b.Close()

	_, open := <-first.Events()
	assert.False(t, open)
	_, open = <-second.Events()
	assert.False(t, open)
}
