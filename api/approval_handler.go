package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/ingest"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// StartApprovalResponse is returned when an instance is accepted.
type StartApprovalResponse struct {
	InstanceID     string `json:"instanceId"`
	StatusQueryURL string `json:"statusQueryUrl"`
}

// ApprovalResponseRequest carries an approver's decision.
type ApprovalResponseRequest struct {
	Approved bool `json:"approved"`
}

// ApprovalResponseAccepted acknowledges a delivered decision.
type ApprovalResponseAccepted struct {
	InstanceID string `json:"instanceId"`
	Approved   bool   `json:"approved"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read body: %v", approvals.ErrInvalidRequest, err)
	}
	return body, nil
}

func (a *API) startApproval(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := ingest.ValidateJSON(startApprovalLoader, body); err != nil {
		writeEngineError(w, err)
		return
	}

	var req approval.RequestMetadata
	if err := json.Unmarshal(body, &req); err != nil {
		writeEngineError(w, fmt.Errorf("%w: %v", approvals.ErrInvalidRequest, err))
		return
	}
	if req.ApprovalType == "" {
		req.ApprovalType = a.eng.Config().Ingest.ApprovalType
	}

	run, err := a.eng.StartWorkflow(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartApprovalResponse{
		InstanceID:     run.ID.String(),
		StatusQueryURL: "/v1/status?entityId=" + url.QueryEscape(req.ApplicantID),
	})
}

func (a *API) receiveResponse(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "instanceId")
	runID, err := id.ParseRunID(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("instance %q not found", raw))
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := ingest.ValidateJSON(approvalResponseLoader, body); err != nil {
		writeEngineError(w, err)
		return
	}
	var req ApprovalResponseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeEngineError(w, fmt.Errorf("%w: %v", approvals.ErrInvalidRequest, err))
		return
	}

	if err := a.eng.ReceiveApprovalResponse(r.Context(), runID, req.Approved); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ApprovalResponseAccepted{InstanceID: runID.String(), Approved: req.Approved})
}

func (a *API) respondByLink(w http.ResponseWriter, r *http.Request) {
	if a.signer == nil {
		writeError(w, http.StatusNotFound, "signed links are not enabled")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeEngineError(w, fmt.Errorf("%w: token is required", approvals.ErrInvalidToken))
		return
	}
	decision, err := a.signer.Verify(token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := a.eng.ReceiveApprovalResponse(r.Context(), decision.RunID, decision.Approved); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponseAccepted{InstanceID: decision.RunID.String(), Approved: decision.Approved})
}
