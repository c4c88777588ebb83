package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/metrics"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// maxContentSize bounds a single /sdk/content upload.
const maxContentSize = 32 << 20

// handleSDKEvent accepts one document event from a connector and makes it
// durable before acknowledging.
func (s *Server) handleSDKEvent(w http.ResponseWriter, r *http.Request) {
	var ev types.DocumentEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event"})
		return
	}
	if ev.DocumentID == "" || ev.SourceID == "" || ev.SyncRunID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_id, source_id, and sync_run_id are required"})
		return
	}

	id, err := s.queue.Enqueue(ev.SourceID, ev)
	if err != nil {
		writeErr(w, err)
		return
	}

	metrics.EventsEnqueued.WithLabelValues(string(ev.Type)).Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})
}

// handleSDKContent stores raw document bytes. The connector's hash header
// lets identical bodies short-circuit to the existing blob.
func (s *Server) handleSDKContent(w http.ResponseWriter, r *http.Request) {
	if hash := r.Header.Get("X-Content-Sha256"); hash != "" {
		if id, err := s.blobs.FindByHash(r.Context(), hash); err == nil && id != "" {
			writeJSON(w, http.StatusOK, map[string]string{"content_id": id})
			return
		}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxContentSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(data) > maxContentSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "content too large"})
		return
	}

	prefix := r.Header.Get("X-Source-Id")
	id, err := s.blobs.PutWithPrefix(r.Context(), prefix, data, r.Header.Get("Content-Type"))
	if err != nil {
		writeErr(w, err)
		return
	}

	metrics.BlobsStored.Inc()
	metrics.BlobBytesStored.Add(float64(len(data)))
	writeJSON(w, http.StatusCreated, map[string]string{"content_id": id})
}

func (s *Server) handleSDKHeartbeat(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.Heartbeat(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKScanned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int64 `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, err := s.ledger.AddScanned(chi.URLParam(r, "id"), req.Count); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSDKComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentsProcessed int64 `json:"documents_processed"`
		DocumentsUpdated   int64 `json:"documents_updated"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.ledger.Complete(id, req.DocumentsProcessed, req.DocumentsUpdated)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.manager.Finish(run, types.SyncRunCompleted)
	log.WithSyncRunID(id).Info().
		Int64("processed", run.DocumentsProcessed).
		Int64("updated", run.DocumentsUpdated).
		Msg("Sync run completed")
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSDKFail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Error == "" {
		req.Error = "connector reported failure"
	}

	id := chi.URLParam(r, "id")
	run, err := s.ledger.Fail(id, req.Error)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.manager.Finish(run, types.SyncRunFailed)
	log.WithSyncRunID(id).Warn().Str("error", req.Error).Msg("Sync run failed")
	writeJSON(w, http.StatusOK, run)
}

// handleSDKCancelled records a connector-side cancellation, e.g. a worker
// shutting down mid-run. When the coordinator already cancelled the run the
// report is a late echo and is acknowledged without a second transition.
func (s *Server) handleSDKCancelled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.ledger.Cancel(id)
	if err != nil {
		if existing, gerr := s.ledger.Get(id); gerr == nil && existing.Status == types.SyncRunCancelled {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		writeErr(w, err)
		return
	}
	s.manager.Finish(run, types.SyncRunCancelled)
	log.WithSyncRunID(id).Info().Msg("Sync run cancelled")
	writeJSON(w, http.StatusOK, run)
}

// handleSDKGetState returns the source's checkpoint, or an empty state for a
// source that has never synced.
func (s *Server) handleSDKGetState(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	state, err := s.store.GetConnectorState(sourceID)
	if err != nil {
		// First sync: hand back an empty state rather than a 404.
		state = &types.ConnectorState{
			SourceID:  sourceID,
			Cursors:   map[string]string{},
			Documents: map[string]types.PartitionIndex{},
		}
	}
	writeJSON(w, http.StatusOK, state)
}

// handleSDKPutState persists the checkpoint. The owning run comes from the
// SDK header and gets its heartbeat advanced in the same transaction.
func (s *Server) handleSDKPutState(w http.ResponseWriter, r *http.Request) {
	var state types.ConnectorState
	if err := decodeJSON(r, &state); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state"})
		return
	}
	state.SourceID = chi.URLParam(r, "id")
	state.UpdatedAt = time.Now()

	syncRunID := r.Header.Get("X-Sync-Run-Id")
	if syncRunID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Sync-Run-Id header is required"})
		return
	}

	if err := s.store.PutConnectorState(&state, syncRunID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
