package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seemantic/seemantic/pkg/model"
)

const defaultQueryLimit = 10

// sseWriter serializes server-sent events onto a flushable response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) sendEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendComment writes an SSE comment frame, used as a keep-alive.
func (s *sseWriter) sendComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleDocumentEvents streams catalog changes. The stream opens with
// an init event carrying the full snapshot, then delivers one
// insert/update/delete event per change. The optional nb_events query
// parameter closes the stream after that many change events, which
// keeps polling clients and tests simple.
func (s *Server) handleDocumentEvents(w http.ResponseWriter, r *http.Request) {
	nbEvents := -1
	if raw := r.URL.Query().Get("nb_events"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid nb_events")
			return
		}
		nbEvents = parsed
	}

	// Subscribe before the snapshot so no change falls between the
	// two. A change may appear both in the snapshot and as an event.
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	docs, err := s.catalog.GetAllDocuments(r.Context(), s.version)
	if err != nil {
		s.logger.Error("failed to load snapshot for event stream", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load documents")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshot := explorerResponse{Documents: []model.DocumentView{}}
	for _, doc := range docs {
		snapshot.Documents = append(snapshot.Documents, doc.View())
	}
	if err := sse.sendEvent("init", snapshot); err != nil {
		return
	}

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	sent := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if err := sse.sendComment("keep-alive"); err != nil {
				return
			}
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if err := sse.sendEvent(string(event.Type), event.Document); err != nil {
				return
			}
			sent++
			if nbEvents >= 0 && sent >= nbEvents {
				return
			}
		}
	}
}

type queryRequest struct {
	Content    string `json:"content"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// text returns the query text. Content is the canonical field name;
// query is accepted as an alias.
func (r queryRequest) text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Query
}

// handleQuery answers a semantic query over SSE: one search_results
// event with the retrieved passages, then delta_answer events while
// the generator streams.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.text() == "" {
		writeError(w, http.StatusBadRequest, "invalid query request")
		return
	}
	query := req.text()
	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	results, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if err := sse.sendEvent("search_results", results); err != nil {
		return
	}

	if s.generator == nil {
		return
	}
	deltas, err := s.generator.Generate(r.Context(), query, results)
	if err != nil {
		s.logger.Error("answer generation failed", "error", err)
		_ = sse.sendEvent("error", errorResponse{Detail: "answer generation failed"})
		return
	}
	for delta := range deltas {
		if err := sse.sendEvent("delta_answer", delta); err != nil {
			return
		}
	}
}
