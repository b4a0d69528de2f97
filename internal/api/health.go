package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripdesk/tripdesk/internal/cache"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pool *pgxpool.Pool
	set  *cache.Set
}

// NewHealthHandler creates a health handler. pool and set back the readiness
// check; either may be nil in tests.
func NewHealthHandler(pool *pgxpool.Pool, set *cache.Set) *HealthHandler {
	return &HealthHandler{pool: pool, set: set}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 OK if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 OK once the document cache has loaded and the
// database answers a ping.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.set != nil && !h.set.Loaded() {
		http.Error(w, "document cache not loaded", http.StatusServiceUnavailable)
		return
	}
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
