package handlers

import (
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tomehub/tomehub/internal/api/rpc"
	"github.com/tomehub/tomehub/internal/observability"
)

// SearchHandler serves POST /v1/search.
type SearchHandler struct {
	log *observability.Logger
	svc *rpc.Service
}

// NewSearchHandler creates the search handler on top of the shared
// Connect service.
func NewSearchHandler(log *observability.Logger, svc *rpc.Service) *SearchHandler {
	if log == nil {
		log = observability.Nop()
	}
	return &SearchHandler{log: log.WithComponent("search_handler"), svc: svc}
}

// Search decodes the request body and delegates to the search
// procedure.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req rpc.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.Search(r.Context(), connect.NewRequest(&req))
	if err != nil {
		writeProcedureError(w, err)
		return
	}
	writeJSON(w, h.log, resp.Msg)
}
