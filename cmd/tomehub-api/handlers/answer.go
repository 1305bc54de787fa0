package handlers

import (
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tomehub/tomehub/internal/api/rpc"
	"github.com/tomehub/tomehub/internal/observability"
)

// AnswerHandler serves POST /v1/answer.
type AnswerHandler struct {
	log *observability.Logger
	svc *rpc.Service
}

// NewAnswerHandler creates the answer handler on top of the shared
// Connect service.
func NewAnswerHandler(log *observability.Logger, svc *rpc.Service) *AnswerHandler {
	if log == nil {
		log = observability.Nop()
	}
	return &AnswerHandler{log: log.WithComponent("answer_handler"), svc: svc}
}

// Answer decodes the request body and delegates to the ask procedure.
func (h *AnswerHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req rpc.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.Ask(r.Context(), connect.NewRequest(&req))
	if err != nil {
		writeProcedureError(w, err)
		return
	}
	writeJSON(w, h.log, resp.Msg)
}
