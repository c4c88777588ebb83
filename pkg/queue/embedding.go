package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/types"
)

var bucketEmbedding = []byte("embedding_queue")

// embeddingRetryCap bounds retries; failed embeddings are transient by
// nature, so claims pick them back up until the cap.
const embeddingRetryCap = 3

// ProviderCheck reports whether any embedding provider is marked current.
type ProviderCheck interface {
	HasCurrentProvider() (bool, error)
}

// EmbeddingQueue is the durable queue of document IDs awaiting vectorization.
// It only accepts work while an embedding provider is installed; without one,
// Enqueue is a silent no-op.
type EmbeddingQueue struct {
	db        *bolt.DB
	broker    *events.Broker
	providers ProviderCheck
}

// NewEmbeddingQueue attaches the embedding bucket to the shared database.
func NewEmbeddingQueue(db *bolt.DB, broker *events.Broker, providers ProviderCheck) (*EmbeddingQueue, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbedding)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding queue bucket: %w", err)
	}
	return &EmbeddingQueue{db: db, broker: broker, providers: providers}, nil
}

// Enqueue inserts a pending item for the document. It returns an empty ID
// (and no error) when no provider is current, and when an item for the same
// document is already pending or processing.
func (q *EmbeddingQueue) Enqueue(documentID string) (string, error) {
	current, err := q.providers.HasCurrentProvider()
	if err != nil {
		return "", fmt.Errorf("failed to check embedding providers: %w", err)
	}
	if !current {
		return "", nil
	}

	item := &types.EmbeddingQueueItem{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		Status:     types.QueueStatusPending,
		CreatedAt:  time.Now(),
	}

	inserted := false
	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbedding)

		// Never hold two in-flight jobs for one document.
		var duplicate bool
		if err := b.ForEach(func(k, v []byte) error {
			var existing types.EmbeddingQueueItem
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.DocumentID == documentID &&
				(existing.Status == types.QueueStatusPending || existing.Status == types.QueueStatusProcessing) {
				duplicate = true
			}
			return nil
		}); err != nil {
			return err
		}
		if duplicate {
			return nil
		}

		inserted = true
		return putEmbeddingItem(b, item)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue embedding job: %w", err)
	}
	if !inserted {
		return "", nil
	}

	q.broker.NotifyEmbeddingEnqueued()
	return item.ID, nil
}

// ClaimBatch claims up to n items, oldest first. Both pending items and
// failed items under the retry cap are eligible.
func (q *EmbeddingQueue) ClaimBatch(n int) ([]*types.EmbeddingQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []*types.EmbeddingQueueItem
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbedding)

		// Walk first, write after; puts invalidate an open cursor.
		var picked []*types.EmbeddingQueueItem
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(picked) < n; k, v = c.Next() {
			var item types.EmbeddingQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			eligible := item.Status == types.QueueStatusPending ||
				(item.Status == types.QueueStatusFailed && item.RetryCount < embeddingRetryCap)
			if !eligible {
				continue
			}
			picked = append(picked, &item)
		}

		for _, item := range picked {
			now := time.Now()
			item.Status = types.QueueStatusProcessing
			item.ProcessingStartedAt = &now
			if err := putEmbeddingItem(b, item); err != nil {
				return err
			}
			claimed = append(claimed, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim embedding batch: %w", err)
	}
	return claimed, nil
}

// Ack marks an item completed.
func (q *EmbeddingQueue) Ack(id string) error {
	return q.mutate(id, func(item *types.EmbeddingQueueItem) {
		now := time.Now()
		item.Status = types.QueueStatusCompleted
		item.ProcessedAt = &now
		item.ProcessingStartedAt = nil
		item.Error = ""
	})
}

// Nack records a failure and returns the item to the retry pool.
func (q *EmbeddingQueue) Nack(id, errMsg string) error {
	return q.mutate(id, func(item *types.EmbeddingQueueItem) {
		item.RetryCount++
		item.Status = types.QueueStatusFailed
		item.ProcessingStartedAt = nil
		item.Error = errMsg
	})
}

// RecoverStale reverts processing items whose claim is older than timeout
// back to pending. Used at startup and on the scheduler cadence.
func (q *EmbeddingQueue) RecoverStale(timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)
	recovered := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbedding)

		// Collect first; writing while iterating is not allowed.
		var stale []*types.EmbeddingQueueItem
		if err := b.ForEach(func(k, v []byte) error {
			var item types.EmbeddingQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status == types.QueueStatusProcessing &&
				item.ProcessingStartedAt != nil &&
				!item.ProcessingStartedAt.After(cutoff) {
				stale = append(stale, &item)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, item := range stale {
			item.Status = types.QueueStatusPending
			item.ProcessingStartedAt = nil
			if err := putEmbeddingItem(b, item); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// Stats counts items created in the last 24 hours by status.
func (q *EmbeddingQueue) Stats() (types.QueueStats, error) {
	var stats types.QueueStats
	cutoff := time.Now().Add(-statsWindow)
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbedding)
		return b.ForEach(func(k, v []byte) error {
			var item types.EmbeddingQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.CreatedAt.Before(cutoff) {
				return nil
			}
			switch item.Status {
			case types.QueueStatusPending:
				stats.Pending++
			case types.QueueStatusProcessing:
				stats.Processing++
			case types.QueueStatusCompleted:
				stats.Completed++
			case types.QueueStatusFailed:
				stats.Failed++
			}
			return nil
		})
	})
	return stats, err
}

// Get returns a single item by ID.
func (q *EmbeddingQueue) Get(id string) (*types.EmbeddingQueueItem, error) {
	var item types.EmbeddingQueueItem
	err := q.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEmbedding).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("embedding queue item %s not found", id)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *EmbeddingQueue) mutate(id string, fn func(*types.EmbeddingQueueItem)) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbedding)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("embedding queue item %s not found", id)
		}
		var item types.EmbeddingQueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		fn(&item)
		return putEmbeddingItem(b, &item)
	})
}

func putEmbeddingItem(b *bolt.Bucket, item *types.EmbeddingQueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return b.Put([]byte(item.ID), data)
}
