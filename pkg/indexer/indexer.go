package indexer

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/types"
)

var bucketDocuments = []byte("documents")

const (
	batchSize    = 50
	pollInterval = 5 * time.Second
)

// Indexer is the reference consumer of the event queue. It claims document
// events, applies them to the documents bucket, and feeds upserts to the
// embedding queue. It wakes on broker notifications but also polls, because
// broker signals are allowed to drop.
type Indexer struct {
	db     *bolt.DB
	events *queue.EventQueue
	embed  *queue.EmbeddingQueue
	broker *events.Broker

	stopCh chan struct{}
}

// New creates an indexer over the shared database.
func New(db *bolt.DB, eq *queue.EventQueue, embed *queue.EmbeddingQueue, broker *events.Broker) (*Indexer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocuments)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create documents bucket: %w", err)
	}
	return &Indexer{
		db:     db,
		events: eq,
		embed:  embed,
		broker: broker,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins the consume loop
func (ix *Indexer) Start() {
	go ix.run()
	log.WithComponent("indexer").Info().Msg("Indexer started")
}

// Stop halts the consume loop
func (ix *Indexer) Stop() {
	close(ix.stopCh)
}

func (ix *Indexer) run() {
	sub := ix.broker.Subscribe()
	defer ix.broker.Unsubscribe(sub)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Drain whatever was enqueued before we subscribed.
	ix.drain()

	for {
		select {
		case n, ok := <-sub:
			if !ok {
				return
			}
			if n.Kind == events.KindEventEnqueued {
				ix.drain()
			}
		case <-ticker.C:
			ix.drain()
		case <-ix.stopCh:
			return
		}
	}
}

// drain claims and applies batches until the queue has no pending work.
func (ix *Indexer) drain() {
	for {
		batch, err := ix.events.ClaimBatch(batchSize)
		if err != nil {
			log.WithComponent("indexer").Error().Err(err).Msg("Failed to claim events")
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, item := range batch {
			if err := ix.apply(&item.Event); err != nil {
				log.WithComponent("indexer").Error().Err(err).
					Str("event_id", item.ID).
					Str("document_id", item.Event.DocumentID).
					Msg("Failed to apply event")
				if nerr := ix.events.Nack(item.ID, err.Error()); nerr != nil {
					log.WithComponent("indexer").Error().Err(nerr).Str("event_id", item.ID).Msg("Nack failed")
				}
				continue
			}
			if aerr := ix.events.Ack(item.ID); aerr != nil {
				log.WithComponent("indexer").Error().Err(aerr).Str("event_id", item.ID).Msg("Ack failed")
			}
		}
	}
}

// apply folds one document event into the documents bucket.
func (ix *Indexer) apply(ev *types.DocumentEvent) error {
	switch ev.Type {
	case types.EventDocumentCreated, types.EventDocumentUpdated:
		if err := ix.upsert(ev); err != nil {
			return err
		}
		// Hand the fresh content to the embedding pipeline. An empty ID
		// means no provider is registered; nothing to do.
		if _, err := ix.embed.Enqueue(ev.DocumentID); err != nil {
			return fmt.Errorf("failed to enqueue embedding: %w", err)
		}
		return nil

	case types.EventDocumentDeleted:
		return ix.delete(ev.DocumentID)

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (ix *Indexer) upsert(ev *types.DocumentEvent) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		now := time.Now()

		doc := types.Document{
			ID:        ev.DocumentID,
			SourceID:  ev.SourceID,
			ContentID: ev.ContentID,
			Metadata:  ev.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if raw := b.Get([]byte(ev.DocumentID)); raw != nil {
			var existing types.Document
			if err := json.Unmarshal(raw, &existing); err == nil {
				doc.CreatedAt = existing.CreatedAt
			}
		}

		raw, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(ev.DocumentID), raw)
	})
}

func (ix *Indexer) delete(documentID string) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		// Deleting an unknown document is fine; deletes are idempotent.
		return tx.Bucket(bucketDocuments).Delete([]byte(documentID))
	})
}

// GetDocument returns one indexed document, or nil when absent.
func (ix *Indexer) GetDocument(id string) (*types.Document, error) {
	var doc *types.Document
	err := ix.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDocuments).Get([]byte(id))
		if raw == nil {
			return nil
		}
		doc = &types.Document{}
		return json.Unmarshal(raw, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CountDocuments returns the number of indexed documents.
func (ix *Indexer) CountDocuments() (int, error) {
	var n int
	err := ix.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketDocuments).Stats().KeyN
		return nil
	})
	return n, err
}
