package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/approvals"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps a domain error to a status code.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approvals.ErrInvalidRequest),
		errors.Is(err, approvals.ErrMissingEntityID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, approvals.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case isNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, approvals.ErrRunNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, approvals.ErrRunNotFound) ||
		errors.Is(err, approvals.ErrEntityNotFound) ||
		errors.Is(err, approvals.ErrWorkflowNotFound)
}
