// Package server exposes the REST and SSE API: file management,
// document explorer, live document events and streaming queries.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seemantic/seemantic/pkg/bus"
	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/generator"
	"github.com/seemantic/seemantic/pkg/model"
	"github.com/seemantic/seemantic/pkg/search"
	"github.com/seemantic/seemantic/pkg/source"
)

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.DocumentResult, error)
}

// Catalog is the read subset the API serves.
type Catalog interface {
	GetAllDocuments(ctx context.Context, version int) ([]catalog.IndexedDocument, error)
	GetDocuments(ctx context.Context, uris []string, version int) ([]catalog.IndexedDocument, error)
}

// EventBus delivers catalog change events to SSE clients.
type EventBus interface {
	Subscribe() *bus.Subscriber
	Unsubscribe(sub *bus.Subscriber)
}

// DocumentStore resolves parsed content for display.
type DocumentStore interface {
	GetDocument(ctx context.Context, parsedHash model.Hash) (string, error)
}

// Server is the HTTP API.
type Server struct {
	cfg       *config.ServerConfig
	logger    *slog.Logger
	source    source.Source
	catalog   Catalog
	store     DocumentStore
	bus       EventBus
	searcher  Searcher
	generator generator.Generator
	version   int
	registry  *prometheus.Registry
	keepAlive time.Duration
}

// Options bundles the server's collaborators.
type Options struct {
	Config    *config.ServerConfig
	Logger    *slog.Logger
	Source    source.Source
	Catalog   Catalog
	Store     DocumentStore
	Bus       EventBus
	Searcher  Searcher
	Generator generator.Generator
	Version   int
	Registry  *prometheus.Registry
}

// New creates a Server.
func New(opts Options) *Server {
	keepAlive := time.Duration(opts.Config.KeepAliveIntervalS * float64(time.Second))
	if keepAlive <= 0 {
		keepAlive = 20 * time.Second
	}
	return &Server{
		cfg:       opts.Config,
		logger:    opts.Logger,
		source:    opts.Source,
		catalog:   opts.Catalog,
		store:     opts.Store,
		bus:       opts.Bus,
		searcher:  opts.Searcher,
		generator: opts.Generator,
		version:   opts.Version,
		registry:  opts.Registry,
		keepAlive: keepAlive,
	}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Put("/files/*", s.handlePutFile)
		r.Delete("/files/*", s.handleDeleteFile)
		r.Get("/explorer", s.handleExplorer)
		r.Get("/documents/*", s.handleGetDocument)
		r.Get("/document_events", s.handleDocumentEvents)
		r.Post("/queries", s.handleQuery)
	})
	return r
}

// Run serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
