package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shuttlehq/shuttle/pkg/events"
)

// progressKeepAlive is how often an idle stream emits a comment line so
// intermediaries do not close the connection.
const progressKeepAlive = 15 * time.Second

// handleProgress streams a sync run's row over Server-Sent Events. The
// current row is sent immediately, then every update until the run reaches a
// terminal state or the client goes away.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	// Subscribe before the initial read so no update can fall between them.
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	run, err := s.ledger.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(v interface{}) bool {
		raw, err := json.Marshal(v)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
		return true
	}

	if !send(run) {
		return
	}
	if run.Status.Terminal() {
		return
	}

	keepAlive := time.NewTicker(progressKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case n, ok := <-sub:
			if !ok {
				return
			}
			if n.Kind != events.KindSyncRunUpdated || n.SyncRun == nil || n.SyncRun.ID != id {
				continue
			}
			if !send(n.SyncRun) {
				return
			}
			if n.SyncRun.Status.Terminal() {
				return
			}
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
