package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/shuttlehq/shuttle/pkg/types"
)

var (
	// Bucket names
	bucketSources        = []byte("sources")
	bucketCredentials    = []byte("service_credentials")
	bucketConnectorState = []byte("connector_state")
	bucketSyncRuns       = []byte("sync_runs")
	bucketProviders      = []byte("embedding_providers")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the coordinator database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "shuttle.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSources,
			bucketCredentials,
			bucketConnectorState,
			bucketSyncRuns,
			bucketProviders,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// DB exposes the underlying handle so the queue and blob packages can share
// one database file with their own buckets.
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Source operations
func (s *BoltStore) CreateSource(source *types.Source) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		data, err := json.Marshal(source)
		if err != nil {
			return err
		}
		return b.Put([]byte(source.ID), data)
	})
}

func (s *BoltStore) GetSource(id string) (*types.Source, error) {
	var source types.Source
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &source)
	})
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (s *BoltStore) ListSources() ([]*types.Source, error) {
	var sources []*types.Source
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		return b.ForEach(func(k, v []byte) error {
			var source types.Source
			if err := json.Unmarshal(v, &source); err != nil {
				return err
			}
			sources = append(sources, &source)
			return nil
		})
	})
	return sources, err
}

func (s *BoltStore) UpdateSource(source *types.Source) error {
	source.UpdatedAt = time.Now()
	return s.CreateSource(source)
}

// SoftDeleteSource marks a source deleted. Rows are never removed while sync
// runs reference them.
func (s *BoltStore) SoftDeleteSource(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		var source types.Source
		if err := json.Unmarshal(data, &source); err != nil {
			return err
		}
		source.IsDeleted = true
		source.Active = false
		source.UpdatedAt = time.Now()
		out, err := json.Marshal(&source)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// FindDueSources returns active, non-deleted sources whose next sync is unset
// or due, never-synced sources first, then oldest due first.
func (s *BoltStore) FindDueSources(now time.Time) ([]*types.Source, error) {
	sources, err := s.ListSources()
	if err != nil {
		return nil, err
	}

	var due []*types.Source
	for _, src := range sources {
		if !src.Active || src.IsDeleted {
			continue
		}
		if src.NextSyncAt == nil || !src.NextSyncAt.After(now) {
			due = append(due, src)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextSyncAt, due[j].NextSyncAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})

	return due, nil
}

// Credential operations
func (s *BoltStore) PutCredentials(creds *types.ServiceCredentials) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		creds.UpdatedAt = time.Now()
		data, err := json.Marshal(creds)
		if err != nil {
			return err
		}
		return b.Put([]byte(creds.SourceID), data)
	})
}

func (s *BoltStore) GetCredentials(sourceID string) (*types.ServiceCredentials, error) {
	var creds types.ServiceCredentials
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(sourceID))
		if data == nil {
			return fmt.Errorf("credentials for source %s: %w", sourceID, ErrNotFound)
		}
		return json.Unmarshal(data, &creds)
	})
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

func (s *BoltStore) DeleteCredentials(sourceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		return b.Delete([]byte(sourceID))
	})
}

// Connector state operations
func (s *BoltStore) GetConnectorState(sourceID string) (*types.ConnectorState, error) {
	var state types.ConnectorState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConnectorState)
		data := b.Get([]byte(sourceID))
		if data == nil {
			return fmt.Errorf("connector state for source %s: %w", sourceID, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PutConnectorState writes the checkpoint and bumps the owning sync run's
// UpdatedAt in one transaction.
func (s *BoltStore) PutConnectorState(state *types.ConnectorState, syncRunID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		now := time.Now()
		state.UpdatedAt = now

		b := tx.Bucket(bucketConnectorState)
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(state.SourceID), data); err != nil {
			return err
		}

		if syncRunID == "" {
			return nil
		}

		rb := tx.Bucket(bucketSyncRuns)
		raw := rb.Get([]byte(syncRunID))
		if raw == nil {
			return fmt.Errorf("sync run %s: %w", syncRunID, ErrNotFound)
		}
		var run types.SyncRun
		if err := json.Unmarshal(raw, &run); err != nil {
			return err
		}
		if run.SourceID != state.SourceID {
			return fmt.Errorf("sync run %s does not own source %s", syncRunID, state.SourceID)
		}
		// A run that already ended must not checkpoint; a zombie connector
		// recovered by the stale sweep would clobber its successor's cursor.
		if run.Status != types.SyncRunRunning {
			return fmt.Errorf("sync run %s is %s, not running", syncRunID, run.Status)
		}
		run.UpdatedAt = now
		out, err := json.Marshal(&run)
		if err != nil {
			return err
		}
		return rb.Put([]byte(syncRunID), out)
	})
}

// Sync run operations
func (s *BoltStore) CreateSyncRun(run *types.SyncRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetSyncRun(id string) (*types.SyncRun, error) {
	var run types.SyncRun
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("sync run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// MutateSyncRun applies fn to the stored row inside one write transaction and
// returns the updated copy. The ledger builds all transitions on this.
func (s *BoltStore) MutateSyncRun(id string, fn func(*types.SyncRun) error) (*types.SyncRun, error) {
	var run types.SyncRun
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("sync run %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		if err := fn(&run); err != nil {
			return err
		}
		run.UpdatedAt = time.Now()
		out, err := json.Marshal(&run)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListSyncRuns() ([]*types.SyncRun, error) {
	var runs []*types.SyncRun
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.SyncRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) ListSyncRunsBySource(sourceID string) ([]*types.SyncRun, error) {
	runs, err := s.ListSyncRuns()
	if err != nil {
		return nil, err
	}

	var filtered []*types.SyncRun
	for _, run := range runs {
		if run.SourceID == sourceID {
			filtered = append(filtered, run)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListSyncRunsByStatus(status types.SyncRunStatus) ([]*types.SyncRun, error) {
	runs, err := s.ListSyncRuns()
	if err != nil {
		return nil, err
	}

	var filtered []*types.SyncRun
	for _, run := range runs {
		if run.Status == status {
			filtered = append(filtered, run)
		}
	}
	return filtered, nil
}

// Embedding provider operations
func (s *BoltStore) PutProvider(p *types.EmbeddingProvider) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.ID), data)
	})
}

func (s *BoltStore) ListProviders() ([]*types.EmbeddingProvider, error) {
	var providers []*types.EmbeddingProvider
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		return b.ForEach(func(k, v []byte) error {
			var p types.EmbeddingProvider
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			providers = append(providers, &p)
			return nil
		})
	})
	return providers, err
}

// SetCurrentProvider marks one provider current and clears the flag on all
// others in the same transaction.
func (s *BoltStore) SetCurrentProvider(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("embedding provider %s: %w", id, ErrNotFound)
		}

		// Collect first; writing while iterating is not allowed.
		var providers []*types.EmbeddingProvider
		if err := b.ForEach(func(k, v []byte) error {
			var p types.EmbeddingProvider
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			providers = append(providers, &p)
			return nil
		}); err != nil {
			return err
		}

		for _, p := range providers {
			p.IsCurrent = p.ID == id
			out, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.ID), out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) HasCurrentProvider() (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProviders)
		return b.ForEach(func(k, v []byte) error {
			var p types.EmbeddingProvider
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.IsCurrent {
				found = true
			}
			return nil
		})
	})
	return found, err
}
