package api

import (
	"log/slog"
	"net/http"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/cache"
)

// CacheHandler handles the policy cache administration endpoint.
type CacheHandler struct {
	set    *cache.Set
	logger *slog.Logger
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(set *cache.Set, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{set: set, logger: logger}
}

// RegisterRoutes registers cache routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/cache/reload", h.reload)
}

// ReloadResponse reports the outcome of a cache reload.
type ReloadResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
}

// reload rebuilds the cached document set from disk. Requests in flight keep
// the set they started with.
func (h *CacheHandler) reload(w http.ResponseWriter, _ *http.Request) {
	if err := h.set.Reload(); err != nil {
		h.logger.Error("cache reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cache_reload_failed", "cache reload failed")
		return
	}

	docs, err := h.set.Documents(agent.Policy.Scope())
	if err != nil {
		h.logger.Error("cache inspection failed after reload", "error", err)
		writeError(w, http.StatusInternalServerError, "cache_reload_failed", "cache reload failed")
		return
	}
	h.logger.Info("cache reloaded", "documents", len(docs))
	writeJSON(w, http.StatusOK, ReloadResponse{Status: "reloaded", Documents: len(docs)})
}
