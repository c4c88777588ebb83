package storage

import (
	"errors"
	"time"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for coordinator state storage
type Store interface {
	// Sources
	CreateSource(source *types.Source) error
	GetSource(id string) (*types.Source, error)
	ListSources() ([]*types.Source, error)
	UpdateSource(source *types.Source) error
	SoftDeleteSource(id string) error
	FindDueSources(now time.Time) ([]*types.Source, error)

	// Credentials
	PutCredentials(creds *types.ServiceCredentials) error
	GetCredentials(sourceID string) (*types.ServiceCredentials, error)
	DeleteCredentials(sourceID string) error

	// Connector state
	GetConnectorState(sourceID string) (*types.ConnectorState, error)
	// PutConnectorState writes the state and advances the owning sync run's
	// heartbeat in the same transaction, so a checkpoint can never land
	// without observable progress.
	PutConnectorState(state *types.ConnectorState, syncRunID string) error

	// Sync runs
	CreateSyncRun(run *types.SyncRun) error
	GetSyncRun(id string) (*types.SyncRun, error)
	MutateSyncRun(id string, fn func(*types.SyncRun) error) (*types.SyncRun, error)
	ListSyncRuns() ([]*types.SyncRun, error)
	ListSyncRunsBySource(sourceID string) ([]*types.SyncRun, error)
	ListSyncRunsByStatus(status types.SyncRunStatus) ([]*types.SyncRun, error)

	// Embedding providers
	PutProvider(p *types.EmbeddingProvider) error
	ListProviders() ([]*types.EmbeddingProvider, error)
	SetCurrentProvider(id string) error
	HasCurrentProvider() (bool, error)

	// Utility
	Close() error
}
