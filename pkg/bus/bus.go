// Package bus fans catalog change notifications out to in-process
// subscribers. It is fed by the database trigger publishing on the
// table_changes channel.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/model"
)

// EventType tags a catalog change event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one catalog change seen by subscribers.
type Event struct {
	Type     EventType
	Document model.DocumentView
}

// notifyPayload mirrors the JSON emitted by the catalog trigger.
type notifyPayload struct {
	Operation string `json:"operation"`
	Data      struct {
		URI              string     `json:"uri"`
		IndexerVersion   int        `json:"indexer_version"`
		Status           string     `json:"status"`
		LastStatusChange time.Time  `json:"last_status_change"`
		LastIndexing     *time.Time `json:"last_indexing"`
		ErrorMessage     *string    `json:"error_message"`
		RawHash          *string    `json:"raw_hash"`
		ParsedHash       *string    `json:"parsed_hash"`
	} `json:"data"`
}

const (
	minReconnectInterval = 1 * time.Second
	maxReconnectInterval = 30 * time.Second

	// publishGrace is how long a publisher blocks on a full subscriber
	// queue before giving up on that subscriber for the event.
	publishGrace = 1 * time.Second
)

// Subscriber receives catalog change events on its own bounded queue.
type Subscriber struct {
	ch chan Event
}

// Events is the subscriber's receive channel. It is closed on
// unsubscribe and on bus shutdown.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Bus bridges the database notification channel to subscribers. The
// listener is opened when the first subscriber arrives and closed when
// the last one leaves. Only events of the configured indexer version
// are delivered.
type Bus struct {
	dsn       string
	version   int
	queueSize int
	logger    *slog.Logger

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a Bus. queueSize bounds each subscriber's queue.
func New(dsn string, version int, queueSize int, logger *slog.Logger) *Bus {
	if queueSize < 1 {
		queueSize = 64
	}
	return &Bus{
		dsn:         dsn,
		version:     version,
		queueSize:   queueSize,
		logger:      logger,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber, opening the database listener
// when it is the first one.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{ch: make(chan Event, b.queueSize)}
	b.subscribers[sub] = struct{}{}

	if len(b.subscribers) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.listen(ctx, b.done)
	}
	return sub
}

// Unsubscribe removes a subscriber, closing the database listener when
// it was the last one.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)

	if len(b.subscribers) == 0 && b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Close tears down all subscribers and the listener.
func (b *Bus) Close() {
	b.mu.Lock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	done := b.done
	b.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (b *Bus) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	listener := pq.NewListener(b.dsn, minReconnectInterval, maxReconnectInterval,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				b.logger.Warn("catalog listener event", "event", int(event), "error", err)
			}
		})
	defer listener.Close()

	// Listen blocks until connected; closing the listener is the only
	// way to unblock it on shutdown.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	if err := listener.Listen(catalog.NotifyChannel); err != nil {
		if ctx.Err() == nil {
			b.logger.Error("failed to listen on catalog channel", "channel", catalog.NotifyChannel, "error", err)
		}
		return
	}

	pingTicker := time.NewTicker(90 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-listener.Notify:
			if !open {
				return
			}
			// nil notifications signal a reconnect; state is re-read
			// by clients through the REST snapshot, not replayed here.
			if notification == nil {
				continue
			}
			b.dispatch(notification.Extra)
		case <-pingTicker.C:
			if err := listener.Ping(); err != nil {
				b.logger.Warn("catalog listener ping failed", "error", err)
			}
		}
	}
}

// dispatch parses one notification payload and fans it out. A payload
// that fails to parse terminates only that event, never the listener.
func (b *Bus) dispatch(payload string) {
	var parsed notifyPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		b.logger.Warn("dropping unparsable catalog notification", "error", err)
		return
	}
	if parsed.Data.IndexerVersion != b.version {
		return
	}

	event := Event{
		Type: EventType(parsed.Operation),
		Document: model.DocumentView{
			URI:              parsed.Data.URI,
			Status:           model.IndexingStatus(parsed.Data.Status),
			LastIndexing:     parsed.Data.LastIndexing,
			ErrorMessage:     parsed.Data.ErrorMessage,
			LastStatusChange: parsed.Data.LastStatusChange,
		},
	}
	if parsed.Data.RawHash != nil && parsed.Data.ParsedHash != nil {
		event.Document.IndexedContent = &model.ContentHashes{
			RawHash:    model.Hash(*parsed.Data.RawHash),
			ParsedHash: model.Hash(*parsed.Data.ParsedHash),
		}
	}

	b.publish(event)
}

// publish delivers the event to every subscriber. A full queue never
// drops silently: the publisher logs a warning and blocks for up to
// the grace period. The lock is held throughout so a subscriber
// channel cannot be closed mid-send; an unsubscribe waits at most one
// grace period.
func (b *Bus) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		b.logger.Warn("subscriber queue full, blocking publisher",
			"uri", event.Document.URI, "grace", publishGrace)
		select {
		case sub.ch <- event:
		case <-time.After(publishGrace):
			b.logger.Error("subscriber still blocked after grace period, event lost",
				"uri", event.Document.URI)
		}
	}
}
