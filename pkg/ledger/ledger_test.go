package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

func newTestLedger(t *testing.T) (*Ledger, *events.Broker) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(store, broker), broker
}

func testSource() *types.Source {
	return &types.Source{ID: "src-1", Type: types.SourceTypeFiles}
}

// TestCreateAndStart tests the pending -> running transition
func TestCreateAndStart(t *testing.T) {
	l, _ := newTestLedger(t)

	run, err := l.Create(testSource(), types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, types.SyncRunPending, run.Status)
	assert.Equal(t, "src-1", run.SourceID)
	assert.Nil(t, run.StartedAt)

	started, err := l.Start(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncRunRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	// Starting twice is an invalid transition.
	_, err = l.Start(run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// TestTerminalTransitions tests the valid and invalid moves out of running
func TestTerminalTransitions(t *testing.T) {
	tests := []struct {
		name     string
		finish   func(l *Ledger, id string) error
		expected types.SyncRunStatus
	}{
		{
			name: "complete",
			finish: func(l *Ledger, id string) error {
				_, err := l.Complete(id, 10, 4)
				return err
			},
			expected: types.SyncRunCompleted,
		},
		{
			name: "fail",
			finish: func(l *Ledger, id string) error {
				_, err := l.Fail(id, "boom")
				return err
			},
			expected: types.SyncRunFailed,
		},
		{
			name: "cancel",
			finish: func(l *Ledger, id string) error {
				_, err := l.Cancel(id)
				return err
			},
			expected: types.SyncRunCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t)
			run, err := l.Create(testSource(), types.SyncModeFull, types.TriggerManual)
			require.NoError(t, err)
			_, err = l.Start(run.ID)
			require.NoError(t, err)

			require.NoError(t, tt.finish(l, run.ID))

			got, err := l.Get(run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Status)
			require.NotNil(t, got.CompletedAt)

			// Terminal states admit nothing further.
			assert.Error(t, tt.finish(l, run.ID))
			_, err = l.Heartbeat(run.ID)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

// TestCompleteTotalsOnlyMoveForward tests that a stale completion cannot
// shrink progress counters
func TestCompleteTotalsOnlyMoveForward(t *testing.T) {
	l, _ := newTestLedger(t)
	run, err := l.Create(testSource(), types.SyncModeFull, types.TriggerManual)
	require.NoError(t, err)
	_, err = l.Start(run.ID)
	require.NoError(t, err)

	_, err = l.AddProcessed(run.ID, 20)
	require.NoError(t, err)

	got, err := l.Complete(run.ID, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.DocumentsProcessed)
}

// TestProgressCounters tests scanned/processed accumulation
func TestProgressCounters(t *testing.T) {
	l, _ := newTestLedger(t)
	run, err := l.Create(testSource(), types.SyncModeIncremental, types.TriggerScheduled)
	require.NoError(t, err)

	// Progress on a pending run is invalid.
	_, err = l.AddScanned(run.ID, 5)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.Start(run.ID)
	require.NoError(t, err)

	_, err = l.AddScanned(run.ID, 5)
	require.NoError(t, err)
	got, err := l.AddScanned(run.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.DocumentsScanned)

	_, err = l.AddScanned(run.ID, -1)
	assert.Error(t, err)
}

// TestHeartbeatAdvancesClock tests that heartbeats move UpdatedAt
func TestHeartbeatAdvancesClock(t *testing.T) {
	l, _ := newTestLedger(t)
	run, err := l.Create(testSource(), types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	started, err := l.Start(run.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	beat, err := l.Heartbeat(run.ID)
	require.NoError(t, err)
	assert.True(t, beat.UpdatedAt.After(started.UpdatedAt))
}

// TestFailStale tests heartbeat-based recovery
func TestFailStale(t *testing.T) {
	l, _ := newTestLedger(t)

	stale, err := l.Create(testSource(), types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	_, err = l.Start(stale.ID)
	require.NoError(t, err)

	fresh, err := l.Create(&types.Source{ID: "src-2", Type: types.SourceTypeFiles}, types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	_, err = l.Start(fresh.ID)
	require.NoError(t, err)

	// Only the run whose heartbeat predates the cutoff fails. The fresh run
	// heartbeats after the cutoff is taken.
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	_, err = l.Heartbeat(fresh.ID)
	require.NoError(t, err)

	failed, err := l.FailStale(cutoff)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stale.ID, failed[0].ID)
	assert.Equal(t, MsgInterrupted, failed[0].Error)

	got, err := l.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncRunRunning, got.Status)
}

// TestFailAllRunning tests startup recovery
func TestFailAllRunning(t *testing.T) {
	l, _ := newTestLedger(t)

	for _, id := range []string{"a", "b"} {
		run, err := l.Create(&types.Source{ID: id, Type: types.SourceTypeFiles}, types.SyncModeIncremental, types.TriggerManual)
		require.NoError(t, err)
		_, err = l.Start(run.ID)
		require.NoError(t, err)
	}
	done, err := l.Create(&types.Source{ID: "c", Type: types.SourceTypeFiles}, types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	_, err = l.Start(done.ID)
	require.NoError(t, err)
	_, err = l.Complete(done.ID, 0, 0)
	require.NoError(t, err)

	failed, err := l.FailAllRunning(MsgInterruptedRestart)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
	for _, run := range failed {
		assert.Equal(t, types.SyncRunFailed, run.Status)
		assert.Equal(t, MsgInterruptedRestart, run.Error)
	}

	running, err := l.ListRunning()
	require.NoError(t, err)
	assert.Empty(t, running)
}

// TestBrokerSeesRunUpdates tests that every transition publishes
func TestBrokerSeesRunUpdates(t *testing.T) {
	l, broker := newTestLedger(t)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	run, err := l.Create(testSource(), types.SyncModeIncremental, types.TriggerManual)
	require.NoError(t, err)
	_, err = l.Start(run.ID)
	require.NoError(t, err)

	deadline := time.After(time.Second)
	got := 0
	for got < 2 {
		select {
		case n := <-sub:
			if n.Kind == events.KindSyncRunUpdated && n.SyncRun != nil && n.SyncRun.ID == run.ID {
				got++
			}
		case <-deadline:
			t.Fatalf("expected 2 run notifications, got %d", got)
		}
	}
}
