// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles every component from configuration:
// database pool, stores, model gateways, ingestion pipeline, search engine,
// cleanup executor, and the worker pool. Commands build an App once and
// hand its pieces to whichever surface they serve (HTTP API or MCP).
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/cleanup"
	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/database"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/gateway"
	"github.com/quiverhq/quiver/internal/ingest"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/metrics"
	"github.com/quiverhq/quiver/internal/observability"
	"github.com/quiverhq/quiver/internal/search"
	"github.com/quiverhq/quiver/internal/vectorstore"
	"github.com/quiverhq/quiver/internal/worker"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool         *pgxpool.Pool
	Registry     *kb.Registry
	Documents    *document.Store
	Vectors      *vectorstore.Store
	CleanupStore *cleanup.Store
	Executor     *cleanup.Executor
	Embedder     gateway.Embedder
	Reranker     gateway.Reranker
	Pipeline     *ingest.Pipeline
	Workers      *worker.Pool
	Engine       *search.Engine
	Metrics      *metrics.Registry

	shutdownTracing func(context.Context) error
}

// Setup creates and wires the application from configuration.
// Nothing runs yet; call Start to launch background loops and
// Close to release everything.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(context.Background()); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: "quiver",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	a.Registry = kb.NewRegistry(pool, logger)
	a.Documents = document.NewStore(pool, logger)
	a.Vectors = vectorstore.NewStore(pool, cfg.HNSWEfSearch, logger)
	a.CleanupStore = cleanup.NewStore(pool, logger)
	a.Executor = cleanup.NewExecutor(a.CleanupStore, pool, cleanup.ExecutorConfig{
		MaxAttempts: cfg.CleanupMaxAttempts,
		BackoffBase: cfg.CleanupBackoffBase,
	}, logger)

	gwCfg := gateway.ClientConfig{
		BaseURL:       cfg.ModelBaseURL,
		APIKey:        cfg.ModelAPIKey,
		RatePerSecond: cfg.ModelRatePerSecond,
		RateBurst:     cfg.ModelRateBurst,
		Timeout:       cfg.ModelTimeout,
	}
	a.Embedder = gateway.NewEmbeddingClient(gwCfg, cfg.EmbeddingModel, cfg.EmbeddingDimension, logger)
	a.Reranker = gateway.NewRerankClient(gwCfg, cfg.RerankModel, logger)

	chunker := ingest.NewChunker(cfg.ChunkSizeTokens, cfg.ChunkOverlapTokens)
	a.Pipeline = ingest.NewPipeline(a.Documents, a.Vectors, a.Embedder, chunker, logger)
	a.Workers = worker.NewPool(cfg.IngestWorkers, 0, logger)
	a.Engine = search.NewEngine(a.Registry, a.Vectors, a.Embedder, a.Reranker,
		cfg.MaxTopK, cfg.MaxRerankCandidates, logger)
	a.Metrics = metrics.NewRegistry()

	return a, nil
}

// Start launches the background loops: the ingestion worker pool and
// the cleanup executor's recovery scan. ctx bounds their lifetime.
func (a *App) Start(ctx context.Context) {
	a.Workers.Start(ctx)
	a.Executor.Start(ctx)
}

// Close gracefully shuts down all resources. Safe to call on a
// partially initialized App.
func (a *App) Close(ctx context.Context) error {
	if a.Workers != nil {
		a.Workers.Stop()
	}
	if a.Executor != nil {
		a.Executor.Wait()
	}

	var errs []error
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
