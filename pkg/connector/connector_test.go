package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// fakeCoordinator records everything a connector reports through the SDK.
type fakeCoordinator struct {
	server *httptest.Server

	mu            sync.Mutex
	events        []types.DocumentEvent
	contentPosts  int
	state         *types.ConnectorState
	scannedTotal  int64
	completeCalls int
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	fc := &fakeCoordinator{}
	fc.server = httptest.NewServer(http.HandlerFunc(fc.handle))
	t.Cleanup(fc.server.Close)
	return fc
}

func (fc *fakeCoordinator) handle(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch {
	case r.URL.Path == "/sdk/events":
		var ev types.DocumentEvent
		json.NewDecoder(r.Body).Decode(&ev)
		fc.events = append(fc.events, ev)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"event_id": fmt.Sprintf("ev-%d", len(fc.events))})
	case r.URL.Path == "/sdk/content":
		fc.contentPosts++
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"content_id": fmt.Sprintf("blob-%d", fc.contentPosts)})
	case strings.HasSuffix(r.URL.Path, "/scanned"):
		var body map[string]int64
		json.NewDecoder(r.Body).Decode(&body)
		fc.scannedTotal += body["count"]
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	case strings.HasSuffix(r.URL.Path, "/complete"):
		fc.completeCalls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	case strings.HasSuffix(r.URL.Path, "/state") && r.Method == http.MethodGet:
		state := fc.state
		if state == nil {
			state = &types.ConnectorState{}
		}
		json.NewEncoder(w).Encode(state)
	case strings.HasSuffix(r.URL.Path, "/state") && r.Method == http.MethodPut:
		var state types.ConnectorState
		json.NewDecoder(r.Body).Decode(&state)
		fc.state = &state
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}
}

func (fc *fakeCoordinator) eventTypes() []types.EventType {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]types.EventType, 0, len(fc.events))
	for _, ev := range fc.events {
		out = append(out, ev.Type)
	}
	return out
}

// mapPager serves fixed items per partition, one page each.
type mapPager struct {
	partitions map[string][]Item
}

func (p *mapPager) Partitions(ctx context.Context, job Job) ([]string, error) {
	var out []string
	for name := range p.partitions {
		out = append(out, name)
	}
	return out, nil
}

func (p *mapPager) Page(ctx context.Context, job Job, partition, cursor string) ([]Item, string, bool, error) {
	return p.partitions[partition], "cursor-end", true, nil
}

func testJob(mode types.SyncMode) Job {
	return Job{
		SyncRunID: "run-1",
		Source:    types.Source{ID: "src-1", Type: types.SourceTypeFiles},
		Mode:      mode,
	}
}

// TestDocumentIDDeterministic tests stable identity derivation
func TestDocumentIDDeterministic(t *testing.T) {
	a := DocumentID("src-1", "root", "doc.txt")
	b := DocumentID("src-1", "root", "doc.txt")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DocumentID("src-2", "root", "doc.txt"))
	assert.NotEqual(t, a, DocumentID("src-1", "other", "doc.txt"))
	assert.NotEqual(t, a, DocumentID("src-1", "root", "other.txt"))
}

// TestEmitEventDedup tests intra-run suppression of duplicate events
func TestEmitEventDedup(t *testing.T) {
	fc := newFakeCoordinator(t)
	sdk, err := NewSDK(fc.server.URL, "run-1", "src-1")
	require.NoError(t, err)
	ctx := context.Background()

	ev := types.DocumentEvent{Type: types.EventDocumentCreated, DocumentID: "doc-1"}
	require.NoError(t, sdk.EmitEvent(ctx, ev))
	require.NoError(t, sdk.EmitEvent(ctx, ev))

	// Same document, different event type, goes through.
	ev.Type = types.EventDocumentUpdated
	require.NoError(t, sdk.EmitEvent(ctx, ev))

	assert.Len(t, fc.events, 2)
	processed, updated := sdk.Totals()
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(1), updated)

	// The stamped IDs ride along.
	assert.Equal(t, "run-1", fc.events[0].SyncRunID)
	assert.Equal(t, "src-1", fc.events[0].SourceID)
}

// TestStoreContentDedup tests the hash cache short-circuit
func TestStoreContentDedup(t *testing.T) {
	fc := newFakeCoordinator(t)
	sdk, err := NewSDK(fc.server.URL, "run-1", "src-1")
	require.NoError(t, err)
	ctx := context.Background()

	first, err := sdk.StoreContent(ctx, []byte("same body"), "text/plain")
	require.NoError(t, err)
	second, err := sdk.StoreContent(ctx, []byte("same body"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fc.contentPosts)

	_, err = sdk.StoreContent(ctx, []byte("different body"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 2, fc.contentPosts)
}

// TestRunSyncFullThenNoop tests hash-based change detection across runs
func TestRunSyncFullThenNoop(t *testing.T) {
	fc := newFakeCoordinator(t)
	pager := &mapPager{partitions: map[string][]Item{
		"root": {
			{ExternalID: "a.txt", Content: []byte("alpha"), ContentType: "text/plain"},
			{ExternalID: "b.txt", Content: []byte("beta"), ContentType: "text/plain"},
		},
	}}
	ctx := context.Background()

	sdk, err := NewSDK(fc.server.URL, "run-1", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeFull), sdk, pager))

	assert.Equal(t, []types.EventType{types.EventDocumentCreated, types.EventDocumentCreated}, fc.eventTypes())
	assert.Equal(t, int64(2), fc.scannedTotal)
	require.NotNil(t, fc.state)
	assert.Equal(t, "cursor-end", fc.state.Cursors["root"])
	assert.Len(t, fc.state.Documents["root"].DocumentIDs, 2)

	// Nothing changed; the second run emits nothing.
	sdk2, err := NewSDK(fc.server.URL, "run-2", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeFull), sdk2, pager))
	assert.Len(t, fc.events, 2)
}

// TestRunSyncEmitsUpdatesAndDeletes tests the full-scan set difference
func TestRunSyncEmitsUpdatesAndDeletes(t *testing.T) {
	fc := newFakeCoordinator(t)
	pager := &mapPager{partitions: map[string][]Item{
		"root": {
			{ExternalID: "a.txt", Content: []byte("alpha"), ContentType: "text/plain"},
			{ExternalID: "b.txt", Content: []byte("beta"), ContentType: "text/plain"},
		},
	}}
	ctx := context.Background()

	sdk, err := NewSDK(fc.server.URL, "run-1", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeFull), sdk, pager))

	// a.txt changes, b.txt disappears.
	pager.partitions["root"] = []Item{
		{ExternalID: "a.txt", Content: []byte("alpha v2"), ContentType: "text/plain"},
	}
	sdk2, err := NewSDK(fc.server.URL, "run-2", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeFull), sdk2, pager))

	kinds := fc.eventTypes()[2:]
	assert.ElementsMatch(t, []types.EventType{types.EventDocumentUpdated, types.EventDocumentDeleted}, kinds)
	assert.Len(t, fc.state.Documents["root"].DocumentIDs, 1)
}

// TestRunSyncIncrementalKeepsIndex tests that unchanged documents survive
// an incremental scan that does not surface them
func TestRunSyncIncrementalKeepsIndex(t *testing.T) {
	fc := newFakeCoordinator(t)
	pager := &mapPager{partitions: map[string][]Item{
		"root": {{ExternalID: "a.txt", Content: []byte("alpha"), ContentType: "text/plain"}},
	}}
	ctx := context.Background()

	sdk, err := NewSDK(fc.server.URL, "run-1", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeFull), sdk, pager))

	// The incremental pass surfaces nothing new; the index keeps a.txt.
	pager.partitions["root"] = nil
	sdk2, err := NewSDK(fc.server.URL, "run-2", "src-1")
	require.NoError(t, err)
	require.NoError(t, RunSync(ctx, testJob(types.SyncModeIncremental), sdk2, pager))

	assert.Len(t, fc.events, 1)
	assert.Len(t, fc.state.Documents["root"].DocumentIDs, 1)
}

// TestPermanentError tests unwrap behavior
func TestPermanentError(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad credentials")
	err := Permanent(base)
	assert.ErrorIs(t, err, base)

	var perm *PermanentError
	assert.True(t, errors.As(err, &perm))
}

// TestDoWithRetry tests the retry policy
func TestDoWithRetry(t *testing.T) {
	ctx := context.Background()
	throttle := NewThrottle(1000, 1000)

	// Transient failures retry until success. The retry-after hint keeps the
	// test fast.
	calls := 0
	err := throttle.DoWithRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return &RetryAfterError{After: time.Millisecond, Err: errors.New("throttled")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// Permanent failures stop immediately and unwrap.
	calls = 0
	base := errors.New("forbidden")
	err = throttle.DoWithRetry(ctx, func() error {
		calls++
		return Permanent(base)
	})
	assert.Equal(t, base, err)
	assert.Equal(t, 1, calls)

	// The attempt budget is finite.
	calls = 0
	err = throttle.DoWithRetry(ctx, func() error {
		calls++
		return &RetryAfterError{After: time.Millisecond, Err: errors.New("still throttled")}
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

// TestBackoffBounds tests the jittered exponential delay envelope
func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(attempt)
		assert.LessOrEqual(t, d, maxBackoff, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, baseBackoff/2, "attempt %d", attempt)
	}
}
