package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// newHTTPClient builds the shared transport. Connector calls are frequent and
// bursty during dispatch, so connections are pooled per host and kept warm.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// ConnectorClient speaks the JSON-over-HTTP worker protocol to one connector.
type ConnectorClient struct {
	baseURL string
	http    *http.Client
}

// NewConnectorClient creates a client for the connector at baseURL.
func NewConnectorClient(baseURL string) *ConnectorClient {
	return &ConnectorClient{
		baseURL: baseURL,
		http:    newHTTPClient(30 * time.Second),
	}
}

// Health checks the connector's /health endpoint.
func (c *ConnectorClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// Manifest fetches the connector's self-description.
func (c *ConnectorClient) Manifest(ctx context.Context) (*types.Manifest, error) {
	var m types.Manifest
	if err := c.doJSON(ctx, http.MethodGet, "/manifest", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Sync dispatches a sync job. The connector acks with 202 and runs the job in
// the background; completion is reported through the SDK surface, not here.
func (c *ConnectorClient) Sync(ctx context.Context, req *types.SyncRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/sync", req, nil)
}

// cancelResponse is the connector's reply to /cancel.
type cancelResponse struct {
	Status string `json:"status"`
}

// Cancel asks the connector to stop a run. The returned status is one of the
// types.Cancel* constants.
func (c *ConnectorClient) Cancel(ctx context.Context, syncRunID string) (string, error) {
	var resp cancelResponse
	req := types.CancelRequest{SyncRunID: syncRunID}
	if err := c.doJSON(ctx, http.MethodPost, "/cancel", req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Action invokes a declared action on the connector.
func (c *ConnectorClient) Action(ctx context.Context, req *types.ActionRequest) (*types.ActionResult, error) {
	var result types.ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/action", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doJSON performs one round trip: marshal body, send, decode out on 2xx,
// surface status and body text otherwise.
func (c *ConnectorClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	return doJSON(ctx, c.http, method, c.baseURL+path, body, out)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
	}
	return nil
}
