package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shuttlehq/shuttle/pkg/client"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/ledger"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/metrics"
	"github.com/shuttlehq/shuttle/pkg/security"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// Admission sentinels. The API layer maps these to 409s.
var (
	ErrSyncAlreadyRunning      = errors.New("a sync is already running for this source")
	ErrConcurrencyLimitReached = errors.New("concurrency limit reached")
	ErrSourceInactive          = errors.New("source is not active")
	ErrNoConnector             = errors.New("no connector configured for source type")
)

// SyncManager owns sync admission and dispatch. All admission decisions and
// slot accounting happen under one mutex, so two concurrent triggers for the
// same source can never both pass the running-run check.
type SyncManager struct {
	store  storage.Store
	ledger *ledger.Ledger
	sealer *security.Sealer
	cfg    *config.Config

	mu       sync.Mutex
	inFlight int
	perType  map[types.SourceType]int
	runTypes map[string]types.SourceType // run id -> source type, for release

	clientsMu sync.Mutex
	clients   map[types.SourceType]*client.ConnectorClient
}

// NewSyncManager creates a sync manager
func NewSyncManager(store storage.Store, l *ledger.Ledger, sealer *security.Sealer, cfg *config.Config) *SyncManager {
	return &SyncManager{
		store:    store,
		ledger:   l,
		sealer:   sealer,
		cfg:      cfg,
		perType:  make(map[types.SourceType]int),
		runTypes: make(map[string]types.SourceType),
		clients:  make(map[types.SourceType]*client.ConnectorClient),
	}
}

// connectorFor returns the cached client for a source type.
func (m *SyncManager) connectorFor(st types.SourceType) (*client.ConnectorClient, error) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	if c, ok := m.clients[st]; ok {
		return c, nil
	}
	url, err := m.cfg.ConnectorURL(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConnector, st)
	}
	c := client.NewConnectorClient(url)
	m.clients[st] = c
	return c, nil
}

// Trigger admits and dispatches one sync for the source. It returns the
// created run, or an admission sentinel when the source already has a run in
// flight or capacity is exhausted.
func (m *SyncManager) Trigger(ctx context.Context, sourceID string, mode types.SyncMode, trigger types.TriggerType) (*types.SyncRun, error) {
	source, err := m.store.GetSource(sourceID)
	if err != nil {
		return nil, err
	}
	if source.IsDeleted {
		return nil, storage.ErrNotFound
	}
	if !source.Active {
		return nil, ErrSourceInactive
	}

	// Resolve the connector before taking a slot; a missing connector is a
	// configuration error, not a capacity problem.
	conn, err := m.connectorFor(source.Type)
	if err != nil {
		return nil, err
	}

	run, err := m.admit(source, mode, trigger)
	if err != nil {
		return nil, err
	}

	if err := m.dispatch(ctx, conn, source, run); err != nil {
		log.WithSyncRunID(run.ID).Error().Err(err).
			Str("source_id", source.ID).
			Msg("Sync dispatch failed")
		if _, ferr := m.ledger.Fail(run.ID, fmt.Sprintf("dispatch failed: %v", err)); ferr != nil {
			log.WithSyncRunID(run.ID).Error().Err(ferr).Msg("Failed to record dispatch failure")
		}
		m.release(run.ID)
		m.markSource(source.ID, types.SyncStatusError, nil)
		return nil, err
	}

	m.markSource(source.ID, types.SyncStatusSyncing, nil)
	log.WithSyncRunID(run.ID).Info().
		Str("source_id", source.ID).
		Str("source_type", string(source.Type)).
		Str("mode", string(mode)).
		Str("trigger", string(trigger)).
		Msg("Sync dispatched")
	return run, nil
}

// admit performs the three admission checks and reserves a slot, creating the
// pending run inside the critical section.
func (m *SyncManager) admit(source *types.Source, mode types.SyncMode, trigger types.TriggerType) (*types.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.activeRun(source.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		metrics.SyncAdmissionRejections.WithLabelValues("already_running").Inc()
		return nil, ErrSyncAlreadyRunning
	}

	if m.inFlight >= m.cfg.MaxConcurrentSyncs {
		metrics.SyncAdmissionRejections.WithLabelValues("global_capacity").Inc()
		return nil, ErrConcurrencyLimitReached
	}
	if m.perType[source.Type] >= m.cfg.MaxConcurrentSyncsPerType {
		metrics.SyncAdmissionRejections.WithLabelValues("type_capacity").Inc()
		return nil, ErrConcurrencyLimitReached
	}

	run, err := m.ledger.Create(source, mode, trigger)
	if err != nil {
		return nil, err
	}

	m.inFlight++
	m.perType[source.Type]++
	m.runTypes[run.ID] = source.Type
	return run, nil
}

// activeRun returns the source's pending or running run, if any.
func (m *SyncManager) activeRun(sourceID string) (*types.SyncRun, error) {
	runs, err := m.store.ListSyncRunsBySource(sourceID)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if !run.Status.Terminal() {
			return run, nil
		}
	}
	return nil, nil
}

// dispatch moves the run to running and hands the job to the connector. The
// run transitions before the HTTP call so an early heartbeat from the
// connector never races a pending run.
func (m *SyncManager) dispatch(ctx context.Context, conn *client.ConnectorClient, source *types.Source, run *types.SyncRun) error {
	started, err := m.ledger.Start(run.ID)
	if err != nil {
		return err
	}
	*run = *started

	creds, err := m.unsealCredentials(source)
	if err != nil {
		return err
	}

	req := &types.SyncRequest{
		SyncRunID:   run.ID,
		Source:      *source,
		Credentials: creds,
		LastSyncAt:  source.LastSyncAt,
		SyncMode:    run.SyncType,
		Config:      source.Config,
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDispatchDuration)
	return conn.Sync(ctx, req)
}

// unsealCredentials opens the source's stored credentials. Sources without
// credentials (local connectors) dispatch with an empty set.
func (m *SyncManager) unsealCredentials(source *types.Source) (types.CredentialSet, error) {
	stored, err := m.store.GetCredentials(source.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.CredentialSet{}, nil
		}
		return types.CredentialSet{}, err
	}
	set, err := m.sealer.OpenCredentials(stored.Sealed)
	if err != nil {
		return types.CredentialSet{}, fmt.Errorf("failed to unseal credentials for source %s: %w", source.ID, err)
	}
	return set, nil
}

// Cancel asks the connector to stop and settles the run. An accepted cancel
// marks the run cancelled immediately; a connector that could not actually
// stop will have its late complete/fail report rejected as a non-running
// transition. A connector that no longer knows the run fails it locally.
func (m *SyncManager) Cancel(ctx context.Context, syncRunID string) (string, error) {
	run, err := m.ledger.Get(syncRunID)
	if err != nil {
		return "", err
	}
	if run.Status != types.SyncRunRunning {
		return "", fmt.Errorf("%w: cancel on %s run", ledger.ErrInvalidTransition, run.Status)
	}

	conn, err := m.connectorFor(run.SourceType)
	if err != nil {
		return "", err
	}

	status, err := conn.Cancel(ctx, syncRunID)
	if err != nil {
		return "", err
	}

	switch status {
	case types.CancelAccepted:
		cancelled, cerr := m.ledger.Cancel(syncRunID)
		if cerr != nil {
			return "", cerr
		}
		m.Finish(cancelled, types.SyncRunCancelled)
		log.WithSyncRunID(syncRunID).Info().Msg("Sync run cancelled")
	case types.CancelUnknownRun:
		// The connector lost the run (restart); close it out here.
		if _, err := m.ledger.Fail(syncRunID, "connector does not know this run"); err == nil {
			m.Finish(run, types.SyncRunFailed)
		}
	case types.CancelNotSupported:
		log.WithSyncRunID(syncRunID).Warn().Msg("Connector does not support cancellation")
	}
	return status, nil
}

// Finish releases the run's slot and settles the source row. It is called
// once per run from whichever path observed the terminal transition.
func (m *SyncManager) Finish(run *types.SyncRun, outcome types.SyncRunStatus) {
	m.release(run.ID)
	metrics.SyncRunsTotal.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case types.SyncRunCompleted:
		now := time.Now()
		m.markSource(run.SourceID, types.SyncStatusIdle, &now)
	case types.SyncRunFailed:
		m.markSource(run.SourceID, types.SyncStatusError, nil)
	case types.SyncRunCancelled:
		m.markSource(run.SourceID, types.SyncStatusIdle, nil)
	}
}

// release frees the slot held by a run. Idempotent: a second release for the
// same run is a no-op.
func (m *SyncManager) release(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.runTypes[runID]
	if !ok {
		return
	}
	delete(m.runTypes, runID)
	m.inFlight--
	if m.perType[st] > 0 {
		m.perType[st]--
	}
}

// markSource updates the source's sync status, stamping LastSyncAt when set.
func (m *SyncManager) markSource(sourceID string, status types.SyncStatus, lastSync *time.Time) {
	source, err := m.store.GetSource(sourceID)
	if err != nil {
		log.WithComponent("manager").Error().Err(err).
			Str("source_id", sourceID).
			Msg("Failed to load source for status update")
		return
	}
	source.SyncStatus = status
	if lastSync != nil {
		source.LastSyncAt = lastSync
	}
	if err := m.store.UpdateSource(source); err != nil {
		log.WithComponent("manager").Error().Err(err).
			Str("source_id", sourceID).
			Msg("Failed to update source status")
	}
}

// RecoverStale fails every running run whose heartbeat is older than the
// stale timeout and releases their slots. The scheduler calls this each tick.
func (m *SyncManager) RecoverStale() error {
	cutoff := time.Now().Add(-m.cfg.StaleSyncTimeout)
	failed, err := m.ledger.FailStale(cutoff)
	if err != nil {
		return err
	}
	for _, run := range failed {
		log.WithSyncRunID(run.ID).Warn().
			Str("source_id", run.SourceID).
			Time("last_heartbeat", run.UpdatedAt).
			Msg("Recovered stale sync run")
		metrics.StaleRunsRecovered.Inc()
		m.Finish(run, types.SyncRunFailed)
	}
	return nil
}

// RecoverAll fails every run left running by a previous coordinator process.
// Connectors are stateless across coordinator restarts, so nothing resumes.
func (m *SyncManager) RecoverAll() error {
	failed, err := m.ledger.FailAllRunning(ledger.MsgInterruptedRestart)
	if err != nil {
		return err
	}
	for _, run := range failed {
		log.WithSyncRunID(run.ID).Warn().
			Str("source_id", run.SourceID).
			Msg("Failed run interrupted by restart")
		m.Finish(run, types.SyncRunFailed)
	}
	if len(failed) > 0 {
		log.WithComponent("manager").Info().
			Int("count", len(failed)).
			Msg("Startup recovery complete")
	}
	return nil
}

// InFlight returns the current global in-flight count.
func (m *SyncManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}
