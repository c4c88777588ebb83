package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// Messages stamped on runs failed by recovery rather than by a connector.
const (
	MsgInterrupted        = "interrupted: no heartbeat within stale timeout"
	MsgInterruptedRestart = "interrupted by restart"
)

// ErrInvalidTransition is returned for any move the state machine forbids.
var ErrInvalidTransition = errors.New("invalid sync run transition")

// Ledger is the append-once record of sync attempts. Runs enter as pending
// and move through the machine:
//
//	pending ──► running ──► completed
//	             │
//	             ├──► failed
//	             └──► cancelled
//
// Every write republishes the fresh row on the broker so progress streams
// never poll.
type Ledger struct {
	store  storage.Store
	broker *events.Broker
}

// New creates a ledger over the given store and broker.
func New(store storage.Store, broker *events.Broker) *Ledger {
	return &Ledger{store: store, broker: broker}
}

// Create appends a pending run for the source and returns it.
func (l *Ledger) Create(source *types.Source, mode types.SyncMode, trigger types.TriggerType) (*types.SyncRun, error) {
	now := time.Now()
	run := &types.SyncRun{
		ID:          uuid.New().String(),
		SourceID:    source.ID,
		SourceType:  source.Type,
		SyncType:    mode,
		Status:      types.SyncRunPending,
		TriggerType: trigger,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateSyncRun(run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	l.broker.NotifySyncRunUpdated(run)
	return run, nil
}

// Get returns a run by ID.
func (l *Ledger) Get(id string) (*types.SyncRun, error) {
	return l.store.GetSyncRun(id)
}

// ListBySource returns every run recorded for a source.
func (l *Ledger) ListBySource(sourceID string) ([]*types.SyncRun, error) {
	return l.store.ListSyncRunsBySource(sourceID)
}

// ListRunning returns all runs currently in the running state.
func (l *Ledger) ListRunning() ([]*types.SyncRun, error) {
	return l.store.ListSyncRunsByStatus(types.SyncRunRunning)
}

// Start moves a pending run to running and stamps StartedAt.
func (l *Ledger) Start(id string) (*types.SyncRun, error) {
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunPending {
			return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, run.Status)
		}
		now := time.Now()
		run.Status = types.SyncRunRunning
		run.StartedAt = &now
		return nil
	})
}

// Complete moves a running run to completed with final totals. Totals only
// move forward; a stale completion cannot shrink progress.
func (l *Ledger) Complete(id string, processed, updated int64) (*types.SyncRun, error) {
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, run.Status)
		}
		now := time.Now()
		run.Status = types.SyncRunCompleted
		run.CompletedAt = &now
		if processed > run.DocumentsProcessed {
			run.DocumentsProcessed = processed
		}
		if updated > run.DocumentsUpdated {
			run.DocumentsUpdated = updated
		}
		return nil
	})
}

// Fail moves a running run to failed with a message.
func (l *Ledger) Fail(id, msg string) (*types.SyncRun, error) {
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, run.Status)
		}
		now := time.Now()
		run.Status = types.SyncRunFailed
		run.CompletedAt = &now
		run.Error = msg
		return nil
	})
}

// Cancel moves a running run to cancelled.
func (l *Ledger) Cancel(id string) (*types.SyncRun, error) {
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, run.Status)
		}
		now := time.Now()
		run.Status = types.SyncRunCancelled
		run.CompletedAt = &now
		return nil
	})
}

// Heartbeat bumps UpdatedAt, proving the connector is alive.
func (l *Ledger) Heartbeat(id string) (*types.SyncRun, error) {
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: heartbeat on %s run", ErrInvalidTransition, run.Status)
		}
		return nil // MutateSyncRun stamps UpdatedAt
	})
}

// AddScanned bumps documents_scanned by n on a running run.
func (l *Ledger) AddScanned(id string, n int64) (*types.SyncRun, error) {
	if n < 0 {
		return nil, fmt.Errorf("scanned increment must be non-negative, got %d", n)
	}
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: progress on %s run", ErrInvalidTransition, run.Status)
		}
		run.DocumentsScanned += n
		return nil
	})
}

// AddProcessed bumps documents_processed by n on a running run.
func (l *Ledger) AddProcessed(id string, n int64) (*types.SyncRun, error) {
	if n < 0 {
		return nil, fmt.Errorf("processed increment must be non-negative, got %d", n)
	}
	return l.mutate(id, func(run *types.SyncRun) error {
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("%w: progress on %s run", ErrInvalidTransition, run.Status)
		}
		run.DocumentsProcessed += n
		return nil
	})
}

// FailStale fails every running run whose heartbeat is older than cutoff and
// returns the runs it touched.
func (l *Ledger) FailStale(cutoff time.Time) ([]*types.SyncRun, error) {
	running, err := l.ListRunning()
	if err != nil {
		return nil, err
	}

	var failed []*types.SyncRun
	for _, run := range running {
		if run.UpdatedAt.After(cutoff) {
			continue
		}
		updated, err := l.Fail(run.ID, MsgInterrupted)
		if err != nil {
			// Lost the race with a terminal transition; nothing to recover.
			continue
		}
		failed = append(failed, updated)
	}
	return failed, nil
}

// FailAllRunning fails every running run. Connectors are stateless and never
// resume on their own, so this runs once at coordinator startup.
func (l *Ledger) FailAllRunning(msg string) ([]*types.SyncRun, error) {
	running, err := l.ListRunning()
	if err != nil {
		return nil, err
	}

	var failed []*types.SyncRun
	for _, run := range running {
		updated, err := l.Fail(run.ID, msg)
		if err != nil {
			continue
		}
		failed = append(failed, updated)
	}
	return failed, nil
}

func (l *Ledger) mutate(id string, fn func(*types.SyncRun) error) (*types.SyncRun, error) {
	run, err := l.store.MutateSyncRun(id, fn)
	if err != nil {
		return nil, err
	}
	l.broker.NotifySyncRunUpdated(run)
	return run, nil
}
