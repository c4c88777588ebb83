package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// blockingConnector is a connector whose Sync waits for release or
// cancellation, so tests can observe in-flight state.
type blockingConnector struct {
	started chan struct{}
	release chan struct{}
	syncErr atomic.Value
}

func newBlockingConnector() *blockingConnector {
	return &blockingConnector{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (c *blockingConnector) Manifest() types.Manifest {
	return types.Manifest{Name: "blocking", Version: "0.0.1"}
}

func (c *blockingConnector) Sync(ctx context.Context, job Job, sdk *SDK) error {
	c.started <- struct{}{}
	select {
	case <-c.release:
		if err, ok := c.syncErr.Load().(error); ok {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runtimeHarness wires a runtime (served via httptest) to a recording
// coordinator stub.
type runtimeHarness struct {
	runtime     *Runtime
	worker      *httptest.Server
	coordinator *fakeCoordinator
	connector   *blockingConnector
}

func newRuntimeHarness(t *testing.T) *runtimeHarness {
	t.Helper()
	fc := newFakeCoordinator(t)
	bc := newBlockingConnector()

	rt := NewRuntime(RuntimeConfig{CoordinatorURL: fc.server.URL}, bc)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", rt.handleSync)
	mux.HandleFunc("/cancel", rt.handleCancel)
	mux.HandleFunc("/manifest", rt.handleManifest)
	mux.HandleFunc("/health", rt.handleHealth)
	mux.HandleFunc("/action", rt.handleAction)
	worker := httptest.NewServer(mux)
	t.Cleanup(worker.Close)

	return &runtimeHarness{runtime: rt, worker: worker, coordinator: fc, connector: bc}
}

func (h *runtimeHarness) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.worker.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *runtimeHarness) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-h.connector.started:
	case <-time.After(time.Second):
		t.Fatal("sync never started")
	}
}

func (h *runtimeHarness) waitTerminal(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reported its terminal state")
}

func syncRequest(runID string) types.SyncRequest {
	return types.SyncRequest{
		SyncRunID: runID,
		Source:    types.Source{ID: "src-1", Type: types.SourceTypeFiles},
		SyncMode:  types.SyncModeFull,
	}
}

// TestHandleSyncAcksAndRejectsDuplicates tests the dispatch protocol
func TestHandleSyncAcksAndRejectsDuplicates(t *testing.T) {
	h := newRuntimeHarness(t)

	resp := h.post(t, "/sync", syncRequest("run-1"))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.waitStarted(t)

	// The same run cannot be dispatched twice.
	resp = h.post(t, "/sync", syncRequest("run-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Missing run ID is a bad request.
	resp = h.post(t, "/sync", syncRequest(""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	close(h.connector.release)
	h.waitTerminal(t, func() bool {
		h.coordinator.mu.Lock()
		defer h.coordinator.mu.Unlock()
		return h.coordinator.completeCalls == 1
	})
}

// TestCancelRunningRun tests the cancel protocol end to end
func TestCancelRunningRun(t *testing.T) {
	h := newRuntimeHarness(t)

	resp := h.post(t, "/sync", syncRequest("run-1"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.waitStarted(t)

	resp = h.post(t, "/cancel", types.CancelRequest{SyncRunID: "run-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, types.CancelAccepted, out["status"])

	// Once the run winds down, a repeat cancel no longer knows it.
	h.waitTerminal(t, func() bool {
		resp := h.post(t, "/cancel", types.CancelRequest{SyncRunID: "run-1"})
		var again map[string]string
		json.NewDecoder(resp.Body).Decode(&again)
		return again["status"] == types.CancelUnknownRun
	})
}

// TestCancelUnknown tests the unknown-run reply
func TestCancelUnknown(t *testing.T) {
	h := newRuntimeHarness(t)

	resp := h.post(t, "/cancel", types.CancelRequest{SyncRunID: "nope"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, types.CancelUnknownRun, out["status"])
}

// TestManifestEndpoint tests the self-description route
func TestManifestEndpoint(t *testing.T) {
	h := newRuntimeHarness(t)

	resp, err := http.Get(h.worker.URL + "/manifest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m types.Manifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, "blocking", m.Name)
}

// TestActionNotSupported tests the 501 for connectors without actions
func TestActionNotSupported(t *testing.T) {
	h := newRuntimeHarness(t)

	resp := h.post(t, "/action", types.ActionRequest{Action: "anything"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
