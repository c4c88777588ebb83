package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shuttlehq/shuttle/pkg/health"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// CoordinatorClient is the CLI-facing client for the coordinator API.
type CoordinatorClient struct {
	baseURL string
	http    *http.Client
}

// NewCoordinatorClient creates a client for the coordinator at baseURL.
func NewCoordinatorClient(baseURL string) *CoordinatorClient {
	return &CoordinatorClient{
		baseURL: baseURL,
		http:    newHTTPClient(30 * time.Second),
	}
}

// TriggerResponse is the coordinator's reply to a sync trigger.
type TriggerResponse struct {
	SyncRunID string `json:"sync_run_id"`
	SourceID  string `json:"source_id"`
	Status    string `json:"status"`
}

// ScheduleEntry is one row of the schedule listing.
type ScheduleEntry struct {
	SourceID     string     `json:"source_id"`
	SourceName   string     `json:"source_name"`
	SourceType   string     `json:"source_type"`
	Active       bool       `json:"active"`
	SyncStatus   string     `json:"sync_status"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt   *time.Time `json:"next_sync_at,omitempty"`
	SyncInterval string     `json:"sync_interval"`
}

// ConnectorEntry is one row of the connector fleet listing.
type ConnectorEntry struct {
	Type     string          `json:"type"`
	URL      string          `json:"url"`
	Healthy  bool            `json:"healthy"`
	Health   health.Result   `json:"health"`
	Manifest *types.Manifest `json:"manifest,omitempty"`
}

// ActionEntry is one connector-declared action in the aggregate listing.
type ActionEntry struct {
	ConnectorType string `json:"connector_type"`
	Action        string `json:"action"`
	Description   string `json:"description,omitempty"`
}

// Health checks the coordinator's /health endpoint.
func (c *CoordinatorClient) Health(ctx context.Context) error {
	return doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/health", nil, nil)
}

// TriggerSync requests a sync for one source.
func (c *CoordinatorClient) TriggerSync(ctx context.Context, sourceID string, mode types.SyncMode) (*TriggerResponse, error) {
	body := map[string]string{"sync_mode": string(mode)}
	var resp TriggerResponse
	url := fmt.Sprintf("%s/sync/%s", c.baseURL, sourceID)
	if err := doJSON(ctx, c.http, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerAll requests a sync for every eligible source.
func (c *CoordinatorClient) TriggerAll(ctx context.Context, mode types.SyncMode) ([]TriggerResponse, error) {
	body := map[string]string{"sync_mode": string(mode)}
	var resp []TriggerResponse
	if err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/sync", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelSync requests cancellation of a running sync.
func (c *CoordinatorClient) CancelSync(ctx context.Context, syncRunID string) (string, error) {
	var resp cancelResponse
	url := fmt.Sprintf("%s/sync/%s/cancel", c.baseURL, syncRunID)
	if err := doJSON(ctx, c.http, http.MethodPost, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GetSyncRun fetches one sync run by ID.
func (c *CoordinatorClient) GetSyncRun(ctx context.Context, syncRunID string) (*types.SyncRun, error) {
	var run types.SyncRun
	url := fmt.Sprintf("%s/sync/%s", c.baseURL, syncRunID)
	if err := doJSON(ctx, c.http, http.MethodGet, url, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSchedules fetches the sync schedule for every source.
func (c *CoordinatorClient) ListSchedules(ctx context.Context) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/schedules", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListConnectors fetches health for the configured connector fleet.
func (c *CoordinatorClient) ListConnectors(ctx context.Context) ([]ConnectorEntry, error) {
	var entries []ConnectorEntry
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/connectors", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListActions fetches every action declared across the connector fleet.
func (c *CoordinatorClient) ListActions(ctx context.Context) ([]ActionEntry, error) {
	var entries []ActionEntry
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/actions", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
