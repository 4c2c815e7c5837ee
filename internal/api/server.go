// Package api is the HTTP surface of quiver: knowledge-base CRUD,
// document upload and lifecycle, cleanup task control, and search.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/cleanup"
	"github.com/quiverhq/quiver/internal/document"
	"github.com/quiverhq/quiver/internal/ingest"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/metrics"
	"github.com/quiverhq/quiver/internal/search"
	"github.com/quiverhq/quiver/internal/vectorstore"
	"github.com/quiverhq/quiver/internal/worker"
)

// ServerConfig contains everything the API server needs.
type ServerConfig struct {
	Logger       *slog.Logger
	Registry     *kb.Registry       // Required
	Documents    *document.Store    // Required
	CleanupStore *cleanup.Store     // Required
	Executor     *cleanup.Executor  // Optional: nil disables direct dispatch
	Pipeline     *ingest.Pipeline   // Required
	WorkerPool   *worker.Pool       // Required
	Engine       *search.Engine     // Required
	Metrics      *metrics.Registry  // Required
	VectorStore  *vectorstore.Store // Required (metrics gauges)
	Pool         *pgxpool.Pool      // Optional: nil fails readiness
	MaxBodyBytes int64              // Upload size limit
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured. ctx outlives
// individual requests and bounds background work the handlers spawn.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("knowledge base registry is required")
	case cfg.Documents == nil:
		return nil, errors.New("document store is required")
	case cfg.CleanupStore == nil:
		return nil, errors.New("cleanup store is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("ingestion pipeline is required")
	case cfg.WorkerPool == nil:
		return nil, errors.New("worker pool is required")
	case cfg.Engine == nil:
		return nil, errors.New("search engine is required")
	case cfg.Metrics == nil:
		return nil, errors.New("metrics registry is required")
	case cfg.VectorStore == nil:
		return nil, errors.New("vector store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}

	kbh := &kbHandler{registry: cfg.Registry, executor: cfg.Executor, baseCtx: ctx, logger: logger}
	dh := &documentHandler{
		registry: cfg.Registry,
		docs:     cfg.Documents,
		pipeline: cfg.Pipeline,
		pool:     cfg.WorkerPool,
		metrics:  cfg.Metrics,
		maxBytes: maxBytes,
		logger:   logger,
	}
	ch := &cleanupHandler{store: cfg.CleanupStore, executor: cfg.Executor, baseCtx: ctx, logger: logger}
	sh := &searchHandler{engine: cfg.Engine, logger: logger}
	mh := &metricsHandler{registry: cfg.Metrics, kbs: cfg.Registry, vectors: cfg.VectorStore, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/knowledge_bases", kbh.create)
	mux.HandleFunc("GET /api/v1/knowledge_bases", kbh.list)
	mux.HandleFunc("GET /api/v1/knowledge_bases/{id}", kbh.get)
	mux.HandleFunc("PATCH /api/v1/knowledge_bases/{id}", kbh.update)
	mux.HandleFunc("DELETE /api/v1/knowledge_bases/{id}", kbh.delete)

	mux.HandleFunc("GET /api/v1/cleanup_tasks/{id}", ch.get)
	mux.HandleFunc("POST /api/v1/cleanup_tasks/{id}/retry", ch.retry)

	mux.HandleFunc("POST /api/v1/knowledge_bases/{kb_id}/documents", dh.upload)
	mux.HandleFunc("GET /api/v1/knowledge_bases/{kb_id}/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.delete)

	mux.HandleFunc("POST /api/v1/search", sh.search)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → Metrics → Routes
	// RequestID sits inside recovery so even a panic response carries
	// a correlation id when one was assigned.
	var handler http.Handler = mux
	handler = metricsMiddleware(cfg.Metrics)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Probes and metrics bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.HandleFunc("GET /metrics", mh.serve)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
