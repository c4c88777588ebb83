package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// heartbeatInterval is how often the runtime proves a run alive while the
// connector's Sync is working.
const heartbeatInterval = 30 * time.Second

// RuntimeConfig configures a connector worker process.
type RuntimeConfig struct {
	ListenAddr     string
	CoordinatorURL string
}

// activeRun is one in-flight sync on this worker.
type activeRun struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Runtime hosts a Connector behind the worker HTTP protocol. It accepts sync
// dispatches with 202 and runs them in the background, heartbeating on the
// connector's behalf and reporting the terminal outcome through the SDK.
type Runtime struct {
	cfg       RuntimeConfig
	connector Connector

	mu   sync.Mutex
	runs map[string]*activeRun

	server *http.Server
}

// NewRuntime creates a worker runtime around a connector.
func NewRuntime(cfg RuntimeConfig, c Connector) *Runtime {
	return &Runtime{
		cfg:       cfg,
		connector: c,
		runs:      make(map[string]*activeRun),
	}
}

// Start begins serving the worker protocol. It blocks until the server stops.
func (rt *Runtime) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)
	r.Get("/manifest", rt.handleManifest)
	r.Post("/sync", rt.handleSync)
	r.Post("/cancel", rt.handleCancel)
	r.Post("/action", rt.handleAction)

	rt.server = &http.Server{
		Addr:              rt.cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithComponent("connector-runtime").Info().
		Str("addr", rt.cfg.ListenAddr).
		Str("connector", rt.connector.Manifest().Name).
		Msg("Connector worker listening")
	err := rt.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down and cancels every in-flight run.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	for _, run := range rt.runs {
		run.cancel()
	}
	rt.mu.Unlock()

	if rt.server != nil {
		return rt.server.Shutdown(ctx)
	}
	return nil
}

func (rt *Runtime) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Runtime) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.connector.Manifest())
}

func (rt *Runtime) handleSync(w http.ResponseWriter, r *http.Request) {
	var req types.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync request")
		return
	}
	if req.SyncRunID == "" {
		writeError(w, http.StatusBadRequest, "sync_run_id is required")
		return
	}

	rt.mu.Lock()
	if _, exists := rt.runs[req.SyncRunID]; exists {
		rt.mu.Unlock()
		writeError(w, http.StatusConflict, "sync run already in progress")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.runs[req.SyncRunID] = &activeRun{cancel: cancel}
	rt.mu.Unlock()

	go rt.execute(ctx, &req)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// execute owns one background run end to end.
func (rt *Runtime) execute(ctx context.Context, req *types.SyncRequest) {
	defer func() {
		rt.mu.Lock()
		delete(rt.runs, req.SyncRunID)
		rt.mu.Unlock()
	}()

	logger := log.WithSyncRunID(req.SyncRunID)

	sdk, err := NewSDK(rt.cfg.CoordinatorURL, req.SyncRunID, req.Source.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build SDK handle")
		return
	}

	// Heartbeat alongside the sync so a long page fetch does not read as a
	// dead run.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go rt.heartbeat(hbCtx, sdk)

	job := Job{
		SyncRunID:   req.SyncRunID,
		Source:      req.Source,
		Credentials: req.Credentials,
		LastSyncAt:  req.LastSyncAt,
		Mode:        req.SyncMode,
		Config:      req.Config,
	}

	err = rt.connector.Sync(ctx, job, sdk)
	stopHeartbeat()

	// Terminal reporting uses a fresh context; the run context may already be
	// cancelled.
	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if rerr := sdk.Complete(reportCtx); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to report completion")
		} else {
			logger.Info().Msg("Sync completed")
		}
	case ctx.Err() != nil && rt.wasCancelled(req.SyncRunID):
		if rerr := sdk.Cancelled(reportCtx); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to report cancellation")
		} else {
			logger.Info().Msg("Sync cancelled")
		}
	default:
		logger.Error().Err(err).Msg("Sync failed")
		if rerr := sdk.Fail(reportCtx, err.Error()); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to report failure")
		}
	}
}

func (rt *Runtime) heartbeat(ctx context.Context, sdk *SDK) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sdk.Heartbeat(ctx); err != nil {
				log.WithComponent("connector-runtime").Debug().Err(err).Msg("Heartbeat failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (rt *Runtime) wasCancelled(syncRunID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	run, ok := rt.runs[syncRunID]
	return ok && run.cancelled
}

func (rt *Runtime) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req types.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cancel request")
		return
	}

	rt.mu.Lock()
	run, ok := rt.runs[req.SyncRunID]
	if ok {
		run.cancelled = true
		run.cancel()
	}
	rt.mu.Unlock()

	status := types.CancelAccepted
	if !ok {
		status = types.CancelUnknownRun
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (rt *Runtime) handleAction(w http.ResponseWriter, r *http.Request) {
	handler, ok := rt.connector.(ActionHandler)
	if !ok {
		writeError(w, http.StatusNotImplemented, "connector does not support actions")
		return
	}

	var req types.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action request")
		return
	}

	result, err := handler.Action(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
