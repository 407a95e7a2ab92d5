package api

import (
	"errors"
	"net/http"

	"github.com/xraph/approvals"
)

func (a *API) ingestStorageEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	res, err := a.ingestor.HandleEvents(r.Context(), body)
	if err != nil {
		if errors.Is(err, approvals.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
