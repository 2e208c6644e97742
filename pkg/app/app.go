// Package app is the composition root: it builds every component from
// configuration and runs the indexer and the API server together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/seemantic/seemantic/pkg/bus"
	"github.com/seemantic/seemantic/pkg/catalog"
	"github.com/seemantic/seemantic/pkg/chunker"
	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/embedder"
	"github.com/seemantic/seemantic/pkg/generator"
	"github.com/seemantic/seemantic/pkg/indexer"
	"github.com/seemantic/seemantic/pkg/parser"
	"github.com/seemantic/seemantic/pkg/search"
	"github.com/seemantic/seemantic/pkg/server"
	"github.com/seemantic/seemantic/pkg/source"
	"github.com/seemantic/seemantic/pkg/vectorstore"
)

// App holds the wired components of one running instance.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	store   *vectorstore.QdrantStore
	source  source.Source
	bus     *bus.Bus
	indexer *indexer.Indexer
	server  *server.Server
}

// New wires all components from the configuration. It connects to the
// database and the vector store eagerly so misconfiguration fails at
// startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	cat, err := catalog.Open(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	emb, err := embedder.NewJinaEmbedderFromConfig(&cfg.Embedder)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := vectorstore.NewQdrantStoreFromConfig(ctx, &cfg.VectorStore,
		cfg.Indexer.Version, emb.Dimension(), emb.DistanceMetric())
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	src, err := newSource(ctx, &cfg.Source, logger)
	if err != nil {
		cat.Close()
		_ = store.Close()
		return nil, err
	}

	var gen generator.Generator
	if cfg.Generator.APIKey != "" {
		chatGen, err := generator.NewChatGeneratorFromConfig(&cfg.Generator)
		if err != nil {
			cat.Close()
			_ = store.Close()
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		gen = chatGen
	} else {
		logger.Warn("no generator API key configured, queries return passages only")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	idx := indexer.New(indexer.Options{
		Source:       src,
		Parser:       parser.New(),
		Chunker:      chunker.New(cfg.Indexer.ChunkerMaxChars),
		Embedder:     emb,
		Store:        store,
		Catalog:      cat,
		Version:      cfg.Indexer.Version,
		MaxQueueSize: cfg.Indexer.MaxQueueSize,
		Logger:       logger,
		Metrics:      indexer.NewMetrics(registry),
	})

	changeBus := bus.New(cfg.Database.DSN(), cfg.Indexer.Version, 256, logger)
	engine := search.NewEngine(emb, store, cat, cfg.Indexer.Version, logger)

	srv := server.New(server.Options{
		Config:    &cfg.Server,
		Logger:    logger,
		Source:    src,
		Catalog:   cat,
		Store:     store,
		Bus:       changeBus,
		Searcher:  engine,
		Generator: gen,
		Version:   cfg.Indexer.Version,
		Registry:  registry,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		catalog: cat,
		store:   store,
		source:  src,
		bus:     changeBus,
		indexer: idx,
		server:  srv,
	}, nil
}

func newSource(ctx context.Context, cfg *config.SourceConfig, logger *slog.Logger) (source.Source, error) {
	switch cfg.Type {
	case "minio":
		return source.NewMinioSourceFromConfig(ctx, cfg.Minio, logger)
	case "directory":
		return source.NewLocalSource(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}

// Run starts the indexer and the API server and blocks until ctx is
// cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.indexer.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunIndexer runs one reconciliation pass then processes events,
// without serving the API.
func (a *App) RunIndexer(ctx context.Context) error {
	return a.indexer.Run(ctx)
}

// Reconcile runs a single reconciliation pass and returns.
func (a *App) Reconcile(ctx context.Context) error {
	return a.indexer.Reconcile(ctx)
}

// Close releases all held connections.
func (a *App) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close vector store", "error", err)
	}
	if err := a.catalog.Close(); err != nil {
		a.logger.Warn("failed to close catalog", "error", err)
	}
}
