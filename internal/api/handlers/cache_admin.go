package handlers

import (
	"net/http"

	"github.com/onnwee/matchcache/internal/logger"
	"github.com/onnwee/matchcache/internal/metrics"
)

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	resolver   DocumentResolver
	persistent metrics.SizeFunc
}

// NewCacheAdminHandler creates a new cache admin handler. persistent may be
// nil when there is no persistent tier.
func NewCacheAdminHandler(r DocumentResolver, persistent metrics.SizeFunc) *CacheAdminHandler {
	return &CacheAdminHandler{resolver: r, persistent: persistent}
}

// ResetCache ends the cache session: memory tier and remembered lookups are
// dropped, persisted documents are kept.
// POST /api/cache/reset
func (h *CacheAdminHandler) ResetCache(w http.ResponseWriter, r *http.Request) {
	h.resolver.Reset()
	logger.InfoContext(r.Context(), "cache session reset via API")

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Cache session reset",
	})
}

type cacheStats struct {
	Documents  int `json:"documents"`
	Lookups    int `json:"lookups"`
	Persistent int `json:"persistent"` // -1 when unknown
}

// GetCacheStats returns current cache sizes.
// GET /api/cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	s := h.resolver.Stats()
	out := cacheStats{Documents: s.Documents, Lookups: s.Lookups, Persistent: -1}
	if h.persistent != nil {
		if n, err := h.persistent(); err == nil {
			out.Persistent = n
		} else {
			logger.WarnContext(r.Context(), "persistent store size unavailable", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
