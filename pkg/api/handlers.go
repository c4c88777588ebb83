package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shuttlehq/shuttle/pkg/client"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/manager"
	"github.com/shuttlehq/shuttle/pkg/types"
)

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string           `json:"name"`
		Type         types.SourceType `json:"type"`
		Config       json.RawMessage  `json:"config,omitempty"`
		SyncInterval string           `json:"sync_interval,omitempty"`
		Active       *bool            `json:"active,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if !types.ValidSourceType(req.Type) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown source type %q", req.Type)})
		return
	}

	interval := s.cfg.DefaultSyncInterval
	if req.SyncInterval != "" {
		parsed, err := time.ParseDuration(req.SyncInterval)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sync_interval"})
			return
		}
		interval = parsed
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now()
	source := &types.Source{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Type:         req.Type,
		Config:       req.Config,
		Active:       active,
		SyncStatus:   types.SyncStatusIdle,
		SyncInterval: interval,
		NextSyncAt:   &now, // due immediately
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateSource(source); err != nil {
		writeErr(w, err)
		return
	}
	log.WithSourceID(source.ID).Info().
		Str("name", source.Name).
		Str("type", string(source.Type)).
		Msg("Source created")
	writeJSON(w, http.StatusCreated, source)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources()
	if err != nil {
		writeErr(w, err)
		return
	}
	visible := make([]*types.Source, 0, len(sources))
	for _, src := range sources {
		if !src.IsDeleted {
			visible = append(visible, src)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.store.GetSource(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.store.GetSource(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req struct {
		Name         *string         `json:"name,omitempty"`
		Config       json.RawMessage `json:"config,omitempty"`
		SyncInterval *string         `json:"sync_interval,omitempty"`
		Active       *bool           `json:"active,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name != nil {
		source.Name = *req.Name
	}
	if len(req.Config) > 0 {
		source.Config = req.Config
	}
	if req.SyncInterval != nil {
		parsed, err := time.ParseDuration(*req.SyncInterval)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sync_interval"})
			return
		}
		source.SyncInterval = parsed
	}
	if req.Active != nil {
		source.Active = *req.Active
	}

	if err := s.store.UpdateSource(source); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.SoftDeleteSource(id); err != nil {
		writeErr(w, err)
		return
	}
	log.WithSourceID(id).Info().Msg("Source deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	source, err := s.store.GetSource(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var set types.CredentialSet
	if err := decodeJSON(r, &set); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sealed, err := s.sealer.SealCredentials(set)
	if err != nil {
		writeErr(w, err)
		return
	}

	creds := &types.ServiceCredentials{
		SourceID:  source.ID,
		Provider:  set.Provider,
		AuthType:  set.AuthType,
		Sealed:    sealed,
		UpdatedAt: time.Now(),
	}
	if err := s.store.PutCredentials(creds); err != nil {
		writeErr(w, err)
		return
	}
	// Plaintext never echoes back.
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// triggerRequest selects the target and sync mode for a trigger.
type triggerRequest struct {
	SourceID string         `json:"source_id,omitempty"`
	SyncMode types.SyncMode `json:"sync_mode,omitempty"`
}

func (r *triggerRequest) mode() types.SyncMode {
	if r.SyncMode == "" {
		return types.SyncModeIncremental
	}
	return r.SyncMode
}

func (s *Server) handleTriggerOne(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	_ = decodeJSON(r, &req) // empty body means incremental

	run, err := s.manager.Trigger(r.Context(), chi.URLParam(r, "id"), req.mode(), types.TriggerManual)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, client.TriggerResponse{
		SyncRunID: run.ID,
		SourceID:  run.SourceID,
		Status:    string(run.Status),
	})
}

func (s *Server) handleTriggerAll(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	_ = decodeJSON(r, &req)

	// A body source_id targets one source, same as POST /sync/{id}.
	if req.SourceID != "" {
		run, err := s.manager.Trigger(r.Context(), req.SourceID, req.mode(), types.TriggerManual)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, client.TriggerResponse{
			SyncRunID: run.ID,
			SourceID:  run.SourceID,
			Status:    string(run.Status),
		})
		return
	}

	sources, err := s.store.ListSources()
	if err != nil {
		writeErr(w, err)
		return
	}

	results := make([]client.TriggerResponse, 0, len(sources))
	for _, src := range sources {
		if src.IsDeleted || !src.Active {
			continue
		}
		run, err := s.manager.Trigger(r.Context(), src.ID, req.mode(), types.TriggerManual)
		if err != nil {
			results = append(results, client.TriggerResponse{
				SourceID: src.ID,
				Status:   err.Error(),
			})
			continue
		}
		results = append(results, client.TriggerResponse{
			SyncRunID: run.ID,
			SourceID:  src.ID,
			Status:    string(run.Status),
		})
	}
	writeJSON(w, http.StatusAccepted, results)
}

func (s *Server) handleGetSyncRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ledger.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources()
	if err != nil {
		writeErr(w, err)
		return
	}

	entries := make([]client.ScheduleEntry, 0, len(sources))
	for _, src := range sources {
		if src.IsDeleted {
			continue
		}
		entries = append(entries, client.ScheduleEntry{
			SourceID:     src.ID,
			SourceName:   src.Name,
			SourceType:   string(src.Type),
			Active:       src.Active,
			SyncStatus:   string(src.SyncStatus),
			LastSyncAt:   src.LastSyncAt,
			NextSyncAt:   src.NextSyncAt,
			SyncInterval: src.SyncInterval.String(),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	results := s.prober.ProbeAll(r.Context(), s.cfg.Connectors)

	entries := make([]client.ConnectorEntry, 0, len(results))
	for st, res := range results {
		entry := client.ConnectorEntry{
			Type:    string(st),
			URL:     s.cfg.Connectors[st],
			Healthy: res.Healthy,
			Health:  res,
		}
		if res.Healthy {
			// Manifest is best effort; health already covers reachability.
			entry.Manifest, _ = client.NewConnectorClient(entry.URL).Manifest(r.Context())
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req types.ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	source, err := s.store.GetSource(req.SourceID)
	if err != nil {
		writeErr(w, err)
		return
	}

	url, err := s.cfg.ConnectorURL(source.Type)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %s", manager.ErrNoConnector, source.Type))
		return
	}

	result, err := client.NewConnectorClient(url).Action(r.Context(), &req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	entries := make([]client.ActionEntry, 0)
	for st, url := range s.cfg.Connectors {
		manifest, err := client.NewConnectorClient(url).Manifest(r.Context())
		if err != nil {
			// An unreachable connector contributes no actions.
			log.WithComponent("api").Warn().
				Err(err).
				Str("connector", string(st)).
				Msg("Manifest fetch failed")
			continue
		}
		for _, a := range manifest.Actions {
			entries = append(entries, client.ActionEntry{
				ConnectorType: string(st),
				Action:        a.Name,
				Description:   a.Description,
			})
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	eventStats, err := s.queue.Stats()
	if err != nil {
		writeErr(w, err)
		return
	}
	embedStats, err := s.embed.Stats()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.QueueStats{
		"events":    eventStats,
		"embedding": embedStats,
	})
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Model   string `json:"model,omitempty"`
		Current bool   `json:"current,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	p := &types.EmbeddingProvider{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Model:     req.Model,
		CreatedAt: time.Now(),
	}
	if err := s.store.PutProvider(p); err != nil {
		writeErr(w, err)
		return
	}
	if req.Current {
		if err := s.store.SetCurrentProvider(p.ID); err != nil {
			writeErr(w, err)
			return
		}
		p.IsCurrent = true
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleActivateProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetCurrentProvider(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}
