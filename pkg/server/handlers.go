package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seemantic/seemantic/pkg/model"
)

const maxUploadBytes = 100 << 20

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// fileURI extracts the document URI from the wildcard tail of the
// route. An empty tail is the caller's error.
func fileURI(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// handlePutFile stores the request body in the source under the given
// URI. Indexing follows asynchronously through the source event
// stream.
func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	uri := fileURI(r)
	if uri == "" {
		writeError(w, http.StatusBadRequest, "missing file uri")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	if err := s.source.PutObject(r.Context(), uri, data); err != nil {
		s.logger.Error("failed to store file", "uri", uri, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteFile removes the URI from the source. Deletion from the
// catalog follows asynchronously.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	uri := fileURI(r)
	if uri == "" {
		writeError(w, http.StatusBadRequest, "missing file uri")
		return
	}

	if err := s.source.DeleteObject(r.Context(), uri); err != nil {
		s.logger.Error("failed to delete file", "uri", uri, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type explorerResponse struct {
	Documents []model.DocumentView `json:"documents"`
}

// handleExplorer returns the current catalog snapshot for this indexer
// version.
func (s *Server) handleExplorer(w http.ResponseWriter, r *http.Request) {
	docs, err := s.catalog.GetAllDocuments(r.Context(), s.version)
	if err != nil {
		s.logger.Error("failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	views := make([]model.DocumentView, len(docs))
	for i, doc := range docs {
		views[i] = doc.View()
	}
	writeJSON(w, http.StatusOK, explorerResponse{Documents: views})
}

type documentResponse struct {
	model.DocumentView
	Markdown *string `json:"markdown,omitempty"`
}

// handleGetDocument returns the catalog view of one document plus its
// parsed markdown when indexing has succeeded.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	uri := fileURI(r)
	if uri == "" {
		writeError(w, http.StatusBadRequest, "missing document uri")
		return
	}

	docs, err := s.catalog.GetDocuments(r.Context(), []string{uri}, s.version)
	if err != nil {
		s.logger.Error("failed to get document", "uri", uri, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	resp := documentResponse{DocumentView: docs[0].View()}
	if resp.IndexedContent != nil {
		markdown, err := s.store.GetDocument(r.Context(), resp.IndexedContent.ParsedHash)
		if err != nil {
			s.logger.Warn("failed to load parsed content", "uri", uri, "error", err)
		} else {
			resp.Markdown = &markdown
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
