package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/metrics"
	"github.com/quiverhq/quiver/internal/vectorstore"
)

// health is the liveness probe: the process is up and serving.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness answers 503 until the database is reachable.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeServiceUnavailable(w, r, "database not configured")
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			writeServiceUnavailable(w, r, "database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

// metricsHandler refreshes the storage gauges then renders the
// registry in Prometheus text format.
type metricsHandler struct {
	registry *metrics.Registry
	kbs      *kb.Registry
	vectors  *vectorstore.Store
	logger   *slog.Logger
}

func (h *metricsHandler) serve(w http.ResponseWriter, r *http.Request) {
	active, err := h.kbs.CountActive(r.Context())
	if err != nil {
		h.logger.Warn("failed to count active knowledge bases", "error", err)
	}
	chunks, err := h.vectors.CountChunks(r.Context())
	if err != nil {
		h.logger.Warn("failed to count chunks", "error", err)
	}
	h.registry.SetGauges(active, chunks)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(h.registry.Render())); err != nil {
		h.logger.Debug("failed to write metrics", "error", err)
	}
}
