package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/ledger"
	"github.com/shuttlehq/shuttle/pkg/manager"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/security"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

func newTestScheduler(t *testing.T, mutate func(*config.Config)) (*Scheduler, storage.Store, *manager.SyncManager) {
	t.Helper()

	connector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	t.Cleanup(connector.Close)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	eq, err := queue.NewEventQueue(store.DB(), broker)
	require.NoError(t, err)
	embed, err := queue.NewEmbeddingQueue(store.DB(), broker, store)
	require.NoError(t, err)

	sealer, err := security.NewSealerFromPassphrase("test-passphrase")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Connectors = map[types.SourceType]string{types.SourceTypeFiles: connector.URL}
	if mutate != nil {
		mutate(cfg)
	}

	l := ledger.New(store, broker)
	mgr := manager.NewSyncManager(store, l, sealer, cfg)
	return New(store, mgr, eq, embed, cfg), store, mgr
}

func dueSource(t *testing.T, store storage.Store, id string, interval time.Duration) *types.Source {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	src := &types.Source{
		ID:           id,
		Name:         "source " + id,
		Type:         types.SourceTypeFiles,
		Active:       true,
		SyncStatus:   types.SyncStatusIdle,
		SyncInterval: interval,
		NextSyncAt:   &past,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateSource(src))
	return src
}

// TestSweepTriggersDueSources tests that a sweep starts syncs and advances
// the schedule
func TestSweepTriggersDueSources(t *testing.T) {
	s, store, mgr := newTestScheduler(t, nil)
	dueSource(t, store, "src-1", time.Hour)

	before := time.Now()
	s.sweep()

	assert.Equal(t, 1, mgr.InFlight())

	src, err := store.GetSource("src-1")
	require.NoError(t, err)
	require.NotNil(t, src.NextSyncAt)
	// Advanced roughly one interval past the sweep.
	assert.True(t, src.NextSyncAt.After(before.Add(59*time.Minute)))

	// The source is no longer due.
	due, err := store.FindDueSources(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

// TestSweepDefersOnCapacity tests that admission rejections keep the source due
func TestSweepDefersOnCapacity(t *testing.T) {
	s, store, mgr := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrentSyncsPerType = 1
	})
	dueSource(t, store, "src-1", time.Hour)
	dueSource(t, store, "src-2", time.Hour)

	s.sweep()
	assert.Equal(t, 1, mgr.InFlight())

	// Exactly one source kept its past-due schedule.
	due, err := store.FindDueSources(time.Now())
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

// TestAdvanceUsesDefaultInterval tests the fallback for sources without one
func TestAdvanceUsesDefaultInterval(t *testing.T) {
	s, store, _ := newTestScheduler(t, func(c *config.Config) {
		c.DefaultSyncInterval = 2 * time.Hour
	})
	src := dueSource(t, store, "src-1", 0)

	now := time.Now()
	s.advance(src, now)

	fresh, err := store.GetSource("src-1")
	require.NoError(t, err)
	require.NotNil(t, fresh.NextSyncAt)
	assert.WithinDuration(t, now.Add(2*time.Hour), *fresh.NextSyncAt, time.Second)
}

// TestAdvancePreservesConcurrentEdits tests the reload-before-write
func TestAdvancePreservesConcurrentEdits(t *testing.T) {
	s, store, _ := newTestScheduler(t, nil)
	src := dueSource(t, store, "src-1", time.Hour)

	// Another writer renames the source between trigger and advance.
	fresh, err := store.GetSource("src-1")
	require.NoError(t, err)
	fresh.Name = "renamed"
	require.NoError(t, store.UpdateSource(fresh))

	s.advance(src, time.Now())

	got, err := store.GetSource("src-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.NotNil(t, got.NextSyncAt)
	assert.True(t, got.NextSyncAt.After(time.Now()))
}

// TestSweepRevivesFailedEvents tests the retry pass
func TestSweepRevivesFailedEvents(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	id, err := s.events.Enqueue("src-1", types.DocumentEvent{
		Type:       types.EventDocumentCreated,
		SyncRunID:  "run-1",
		SourceID:   "src-1",
		DocumentID: "doc-1",
	})
	require.NoError(t, err)
	_, err = s.events.ClaimBatch(1)
	require.NoError(t, err)
	require.NoError(t, s.events.Nack(id, "transient"))

	s.sweep()

	item, err := s.events.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusPending, item.Status)
}

// TestSweepRecoversStaleClaims tests the abandoned-claim pass
func TestSweepRecoversStaleClaims(t *testing.T) {
	s, _, _ := newTestScheduler(t, func(c *config.Config) {
		c.StaleSyncTimeout = time.Millisecond
	})

	id, err := s.events.Enqueue("src-1", types.DocumentEvent{
		Type:       types.EventDocumentCreated,
		SyncRunID:  "run-1",
		SourceID:   "src-1",
		DocumentID: "doc-1",
	})
	require.NoError(t, err)
	_, err = s.events.ClaimBatch(1)
	require.NoError(t, err)

	// The consumer never acks; the sweep returns the claim to the pool.
	time.Sleep(5 * time.Millisecond)
	s.sweep()

	item, err := s.events.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusPending, item.Status)
}

// TestStartStop tests loop lifecycle
func TestStartStop(t *testing.T) {
	s, store, mgr := newTestScheduler(t, func(c *config.Config) {
		c.SchedulerInterval = 10 * time.Millisecond
	})
	dueSource(t, store, "src-1", time.Hour)

	s.Start()
	defer s.Stop()

	// The loop picks the source up within a few ticks.
	deadline := time.Now().Add(time.Second)
	for mgr.InFlight() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, mgr.InFlight())
}
