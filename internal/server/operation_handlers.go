package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BadgerOps/clinicvault/internal/engine"
)

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 15 * time.Second

// handleAPIOperation returns the progress of the running operation, or of the
// last one to finish.
func (s *Server) handleAPIOperation(w http.ResponseWriter, r *http.Request) {
	tr := s.engine.ActiveTracker()
	if tr == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, tr.Snapshot())
}

// handleAPIOperationEvents streams progress as server-sent events until the
// operation finishes or the client goes away.
func (s *Server) handleAPIOperationEvents(w http.ResponseWriter, r *http.Request) {
	tr := s.engine.ActiveTracker()
	if tr == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	streamProgress(r, w, flusher, tr)
}

// streamProgress writes one progress event per tracker update and a final
// done event. Heartbeats are comments and never repeat a snapshot.
func streamProgress(r *http.Request, w http.ResponseWriter, flusher http.Flusher, tr *engine.OperationTracker) {
	sendEvent := func(event string, data interface{}) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		// Take the channel before the snapshot so no update is missed.
		wait := tr.Wait()
		progress := tr.Snapshot()
		if progress.Done {
			sendEvent("done", progress)
			return
		}
		sendEvent("progress", progress)

	idle:
		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case <-wait:
				break idle
			}
		}
	}
}
