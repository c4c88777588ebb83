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

var (
	bucketEvents = []byte("connector_events_queue")
)

// DefaultMaxRetries is the retry budget before an event goes to dead letter.
const DefaultMaxRetries = 3

// statsWindow bounds Stats counts to recent items.
const statsWindow = 24 * time.Hour

// EventQueue is the durable connector -> indexer queue. Items are keyed by
// ULID, so a cursor scan walks them oldest first; claims flip rows to
// processing inside one write transaction, which is what keeps two consumers
// from ever holding the same row.
type EventQueue struct {
	db         *bolt.DB
	broker     *events.Broker
	maxRetries int
}

// NewEventQueue attaches the queue bucket to the shared database.
func NewEventQueue(db *bolt.DB, broker *events.Broker) (*EventQueue, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event queue bucket: %w", err)
	}
	return &EventQueue{db: db, broker: broker, maxRetries: DefaultMaxRetries}, nil
}

// Enqueue inserts a pending item and wakes idle consumers.
func (q *EventQueue) Enqueue(sourceID string, ev types.DocumentEvent) (string, error) {
	item := &types.EventQueueItem{
		ID:         ulid.Make().String(),
		SourceID:   sourceID,
		Event:      ev,
		Status:     types.QueueStatusPending,
		MaxRetries: q.maxRetries,
		CreatedAt:  time.Now(),
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		return putItem(tx.Bucket(bucketEvents), item.ID, item)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	q.broker.NotifyEventEnqueued()
	return item.ID, nil
}

// ClaimBatch atomically claims up to n pending items, oldest first, and
// returns them in processing state. Items another claimer holds are simply
// not pending and are skipped without blocking.
func (q *EventQueue) ClaimBatch(n int) ([]*types.EventQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []*types.EventQueueItem
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		// Walk first, write after; puts invalidate an open cursor.
		var picked []*types.EventQueueItem
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(picked) < n; k, v = c.Next() {
			var item types.EventQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status != types.QueueStatusPending {
				continue
			}
			picked = append(picked, &item)
		}

		now := time.Now()
		for _, item := range picked {
			item.Status = types.QueueStatusProcessing
			item.ClaimedAt = &now
			if err := putItem(b, item.ID, item); err != nil {
				return err
			}
			claimed = append(claimed, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	return claimed, nil
}

// Ack marks an item completed. Acking an already-completed item is a no-op.
func (q *EventQueue) Ack(id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		item, err := getItem(b, id)
		if err != nil {
			return err
		}
		if item.Status == types.QueueStatusCompleted {
			return nil
		}
		now := time.Now()
		item.Status = types.QueueStatusCompleted
		item.ProcessedAt = &now
		item.ClaimedAt = nil
		item.Error = ""
		return putItem(b, id, item)
	})
}

// Nack records a processing failure. The item lands in failed until its
// retry budget runs out, then in dead_letter for operator inspection.
func (q *EventQueue) Nack(id, errMsg string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		item, err := getItem(b, id)
		if err != nil {
			return err
		}
		item.RetryCount++
		item.Error = errMsg
		item.ClaimedAt = nil
		if item.RetryCount >= item.MaxRetries {
			item.RetryCount = item.MaxRetries
			item.Status = types.QueueStatusDeadLetter
		} else {
			item.Status = types.QueueStatusFailed
		}
		return putItem(b, id, item)
	})
}

// RetryFailed moves failed items created within the retention window back to
// pending and returns how many it revived.
func (q *EventQueue) RetryFailed(window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)
	revived := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		// Collect first; writing while iterating is not allowed.
		var eligible []*types.EventQueueItem
		if err := b.ForEach(func(k, v []byte) error {
			var item types.EventQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status == types.QueueStatusFailed && !item.CreatedAt.Before(cutoff) {
				eligible = append(eligible, &item)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, item := range eligible {
			item.Status = types.QueueStatusPending
			if err := putItem(b, item.ID, item); err != nil {
				return err
			}
			revived++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if revived > 0 {
		q.broker.NotifyEventEnqueued()
	}
	return revived, nil
}

// RecoverStale returns processing items whose claim is older than timeout to
// pending. A consumer that crashed between ClaimBatch and Ack/Nack never
// settles its rows; this is the sweep that puts them back in circulation.
func (q *EventQueue) RecoverStale(timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)
	recovered := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		// Collect first; writing while iterating is not allowed.
		var stale []*types.EventQueueItem
		if err := b.ForEach(func(k, v []byte) error {
			var item types.EventQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.Status == types.QueueStatusProcessing &&
				item.ClaimedAt != nil &&
				!item.ClaimedAt.After(cutoff) {
				stale = append(stale, &item)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, item := range stale {
			item.Status = types.QueueStatusPending
			item.ClaimedAt = nil
			if err := putItem(b, item.ID, item); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		q.broker.NotifyEventEnqueued()
	}
	return recovered, nil
}

// Stats counts items created in the last 24 hours by status.
func (q *EventQueue) Stats() (types.QueueStats, error) {
	var stats types.QueueStats
	cutoff := time.Now().Add(-statsWindow)
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var item types.EventQueueItem
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
			case types.QueueStatusDeadLetter:
				stats.DeadLetter++
			}
			return nil
		})
	})
	return stats, err
}

// Cleanup deletes completed items processed before the retention horizon and
// dead-letter items created before it. Returns the number removed.
func (q *EventQueue) Cleanup(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item types.EventQueueItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			expired := false
			switch item.Status {
			case types.QueueStatusCompleted:
				expired = item.ProcessedAt != nil && item.ProcessedAt.Before(cutoff)
			case types.QueueStatusDeadLetter:
				expired = item.CreatedAt.Before(cutoff)
			}
			if !expired {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Get returns a single item by ID.
func (q *EventQueue) Get(id string) (*types.EventQueueItem, error) {
	var item *types.EventQueueItem
	err := q.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = getItem(tx.Bucket(bucketEvents), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func getItem(b *bolt.Bucket, id string) (*types.EventQueueItem, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("queue item %s not found", id)
	}
	var item types.EventQueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func putItem(b *bolt.Bucket, id string, item *types.EventQueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}
