// Package handlers provides the REST handlers for the TomeHub API.
// Request validation and DTO mapping live in the shared Connect service;
// these handlers translate between plain HTTP and the procedures.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tomehub/tomehub/internal/observability"
)

func writeJSON(w http.ResponseWriter, log *observability.Logger, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeProcedureError maps a Connect error from the shared service to
// the matching HTTP status.
func writeProcedureError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		msg = cerr.Message()
	}
	writeError(w, statusFromCode(connect.CodeOf(err)), msg)
}

func statusFromCode(code connect.Code) int {
	switch code {
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
