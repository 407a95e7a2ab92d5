package api

import (
	"errors"
	"net/http"

	"github.com/xraph/approvals"
)

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entityId")
	st, err := a.eng.GetStatus(r.Context(), entityID)
	switch {
	case errors.Is(err, approvals.ErrMissingEntityID):
		writeError(w, http.StatusBadRequest, "entityId is required")
	case errors.Is(err, approvals.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "entity not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
