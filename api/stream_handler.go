package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/stream"
)

// Snapshot is the first server-sent event on an instance stream.
type Snapshot struct {
	InstanceID    string `json:"instanceId"`
	RuntimeStatus string `json:"runtimeStatus"`
	CustomStatus  string `json:"customStatus"`
}

// streamEvents serves an instance's lifecycle as server-sent events. The
// stream opens with a snapshot and ends after the run's terminal event.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "instanceId")
	runID, err := id.ParseRunID(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("instance %q not found", raw))
		return
	}

	// Subscribe before reading the run so no transition is missed.
	broker := a.eng.Stream()
	subID := uuid.NewString()
	sub := broker.Subscribe(subID, stream.RunTopic(runID.String()))
	defer broker.RemoveSubscriber(subID)

	run, err := a.eng.GetRun(r.Context(), runID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap, _ := json.Marshal(Snapshot{
		InstanceID:    runID.String(),
		RuntimeStatus: run.State.RuntimeStatus(),
		CustomStatus:  run.CustomStatus,
	})
	if err := writeSSE(w, rc, "snapshot", snap); err != nil || run.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(w, rc, string(evt.Type), evt.Data); err != nil {
				a.logger.Debug("event stream closed", "instance_id", runID.String(), "error", err)
				return
			}
			if evt.Type.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}
