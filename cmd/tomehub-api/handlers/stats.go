package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/api/rpc"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/storage"
)

// StatsHandler serves GET /v1/stats with recent search telemetry.
type StatsHandler struct {
	log   *observability.Logger
	store storage.AnalyticsStore
}

// NewStatsHandler creates the stats handler.
func NewStatsHandler(log *observability.Logger, store storage.AnalyticsStore) *StatsHandler {
	if log == nil {
		log = observability.Nop()
	}
	return &StatsHandler{log: log.WithComponent("stats_handler"), store: store}
}

// Recent returns the caller's latest search log entries, newest first.
func (h *StatsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > rpc.MaxLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := h.store.RecentSearches(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("recent searches lookup failed")
		writeError(w, http.StatusInternalServerError, "stats lookup failed")
		return
	}
	if entries == nil {
		entries = []storage.SearchLogEntry{}
	}
	writeJSON(w, h.log, map[string]interface{}{"searches": entries})
}
