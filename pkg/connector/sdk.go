package connector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// contentCacheSize bounds the per-process hash -> blob ID cache.
const contentCacheSize = 4096

// SDK is the connector-side handle on one sync run. It wraps the
// coordinator's /sdk surface: event emission, content storage, progress,
// checkpoints, and completion.
//
// Emission is deduplicated within the run: a second event for the same
// document and event type is silently dropped. Content storage is
// deduplicated by SHA-256, first against a process-local LRU and then
// against the coordinator's hash index.
type SDK struct {
	coordinatorURL string
	syncRunID      string
	sourceID       string
	http           *http.Client

	mu        sync.Mutex
	emitted   map[string]struct{}
	processed int64
	updated   int64

	contentCache *lru.Cache[string, string]
}

// NewSDK creates the SDK handle for one run.
func NewSDK(coordinatorURL, syncRunID, sourceID string) (*SDK, error) {
	cache, err := lru.New[string, string](contentCacheSize)
	if err != nil {
		return nil, err
	}
	return &SDK{
		coordinatorURL: coordinatorURL,
		syncRunID:      syncRunID,
		sourceID:       sourceID,
		http:           &http.Client{Timeout: 30 * time.Second},
		emitted:        make(map[string]struct{}),
		contentCache:   cache,
	}, nil
}

// EmitEvent places a document event on the coordinator's durable queue. The
// sync run and source IDs are stamped here, so connectors only fill in the
// document fields.
func (s *SDK) EmitEvent(ctx context.Context, ev types.DocumentEvent) error {
	ev.SyncRunID = s.syncRunID
	ev.SourceID = s.sourceID

	key := ev.DocumentID + "|" + string(ev.Type)
	s.mu.Lock()
	if _, dup := s.emitted[key]; dup {
		s.mu.Unlock()
		return nil
	}
	s.emitted[key] = struct{}{}
	s.mu.Unlock()

	if err := s.postJSON(ctx, "/sdk/events", ev, nil); err != nil {
		// Allow a retry of the same event after a failed post.
		s.mu.Lock()
		delete(s.emitted, key)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.processed++
	if ev.Type == types.EventDocumentUpdated {
		s.updated++
	}
	s.mu.Unlock()
	return nil
}

// storeContentResponse is the coordinator's reply to /sdk/content.
type storeContentResponse struct {
	ContentID string `json:"content_id"`
}

// StoreContent writes document bytes to the coordinator's blob store and
// returns the content ID. Identical bytes resolve to the already-stored blob
// without a second upload.
func (s *SDK) StoreContent(ctx context.Context, data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if id, ok := s.contentCache.Get(hash); ok {
		return id, nil
	}

	url := s.coordinatorURL + "/sdk/content"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Content-Sha256", hash)
	req.Header.Set("X-Source-Id", s.sourceID)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("content store returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out storeContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode content response: %w", err)
	}

	s.contentCache.Add(hash, out.ContentID)
	return out.ContentID, nil
}

// Scanned reports n additional documents examined.
func (s *SDK) Scanned(ctx context.Context, n int64) error {
	body := map[string]int64{"count": n}
	return s.postJSON(ctx, "/sdk/sync/"+s.syncRunID+"/scanned", body, nil)
}

// Heartbeat proves the run is alive without reporting progress.
func (s *SDK) Heartbeat(ctx context.Context) error {
	return s.postJSON(ctx, "/sdk/sync/"+s.syncRunID+"/heartbeat", nil, nil)
}

// Complete reports the run finished, carrying the totals accumulated by
// EmitEvent.
func (s *SDK) Complete(ctx context.Context) error {
	s.mu.Lock()
	body := map[string]int64{
		"documents_processed": s.processed,
		"documents_updated":   s.updated,
	}
	s.mu.Unlock()
	return s.postJSON(ctx, "/sdk/sync/"+s.syncRunID+"/complete", body, nil)
}

// Fail reports the run failed with a message.
func (s *SDK) Fail(ctx context.Context, msg string) error {
	body := map[string]string{"error": msg}
	return s.postJSON(ctx, "/sdk/sync/"+s.syncRunID+"/fail", body, nil)
}

// Cancelled reports the run stopped in response to a cancel request.
func (s *SDK) Cancelled(ctx context.Context) error {
	return s.postJSON(ctx, "/sdk/sync/"+s.syncRunID+"/cancelled", nil, nil)
}

// GetState fetches the source's checkpoint document. A source that has never
// synced gets an empty, non-nil state.
func (s *SDK) GetState(ctx context.Context) (*types.ConnectorState, error) {
	var state types.ConnectorState
	url := s.coordinatorURL + "/sdk/sources/" + s.sourceID + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("state fetch returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if state.Cursors == nil {
		state.Cursors = make(map[string]string)
	}
	if state.Documents == nil {
		state.Documents = make(map[string]types.PartitionIndex)
	}
	state.SourceID = s.sourceID
	return &state, nil
}

// PutState persists the checkpoint document. The write doubles as a
// heartbeat on the coordinator side.
func (s *SDK) PutState(ctx context.Context, state *types.ConnectorState) error {
	state.SourceID = s.sourceID
	url := "/sdk/sources/" + s.sourceID + "/state"
	return s.doJSON(ctx, http.MethodPut, url, state, nil)
}

// Totals returns the processed and updated counts accumulated so far.
func (s *SDK) Totals() (processed, updated int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.updated
}

func (s *SDK) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return s.doJSON(ctx, http.MethodPost, path, body, out)
}

func (s *SDK) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.coordinatorURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Sync-Run-Id", s.syncRunID)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sdk call %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sdk call %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
