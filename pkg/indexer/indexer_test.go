package indexer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/types"
)

type providersWith struct {
	current bool
}

func (p providersWith) HasCurrentProvider() (bool, error) { return p.current, nil }

func newTestIndexer(t *testing.T, hasProvider bool) (*Indexer, *queue.EventQueue, *queue.EmbeddingQueue) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "indexer.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	eq, err := queue.NewEventQueue(db, broker)
	require.NoError(t, err)
	embed, err := queue.NewEmbeddingQueue(db, broker, providersWith{current: hasProvider})
	require.NoError(t, err)

	ix, err := New(db, eq, embed, broker)
	require.NoError(t, err)
	return ix, eq, embed
}

func docEvent(evType types.EventType, docID string) types.DocumentEvent {
	return types.DocumentEvent{
		Type:       evType,
		SyncRunID:  "run-1",
		SourceID:   "src-1",
		DocumentID: docID,
		ContentID:  "blob-1",
		Metadata:   types.DocumentMetadata{Title: "doc " + docID},
	}
}

// TestApplyCreated tests the created -> indexed path
func TestApplyCreated(t *testing.T) {
	ix, _, _ := newTestIndexer(t, false)

	ev := docEvent(types.EventDocumentCreated, "doc-1")
	require.NoError(t, ix.apply(&ev))

	doc, err := ix.GetDocument("doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "src-1", doc.SourceID)
	assert.Equal(t, "blob-1", doc.ContentID)
	assert.Equal(t, "doc doc-1", doc.Metadata.Title)

	n, err := ix.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestApplyUpdatePreservesCreatedAt tests upsert identity
func TestApplyUpdatePreservesCreatedAt(t *testing.T) {
	ix, _, _ := newTestIndexer(t, false)

	created := docEvent(types.EventDocumentCreated, "doc-1")
	require.NoError(t, ix.apply(&created))
	first, err := ix.GetDocument("doc-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	updated := docEvent(types.EventDocumentUpdated, "doc-1")
	updated.ContentID = "blob-2"
	require.NoError(t, ix.apply(&updated))

	second, err := ix.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "blob-2", second.ContentID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	n, err := ix.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestApplyDeleteIdempotent tests removal
func TestApplyDeleteIdempotent(t *testing.T) {
	ix, _, _ := newTestIndexer(t, false)

	created := docEvent(types.EventDocumentCreated, "doc-1")
	require.NoError(t, ix.apply(&created))

	deleted := docEvent(types.EventDocumentDeleted, "doc-1")
	require.NoError(t, ix.apply(&deleted))
	doc, err := ix.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	// Deleting again is fine.
	require.NoError(t, ix.apply(&deleted))
}

// TestApplyUnknownType tests rejection of unrecognized events
func TestApplyUnknownType(t *testing.T) {
	ix, _, _ := newTestIndexer(t, false)
	ev := docEvent("document_exploded", "doc-1")
	assert.Error(t, ix.apply(&ev))
}

// TestApplyFeedsEmbeddingQueue tests the handoff to vectorization
func TestApplyFeedsEmbeddingQueue(t *testing.T) {
	ix, _, embed := newTestIndexer(t, true)

	ev := docEvent(types.EventDocumentCreated, "doc-1")
	require.NoError(t, ix.apply(&ev))

	stats, err := embed.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

// TestDrainConsumesQueue tests the claim/apply/ack cycle
func TestDrainConsumesQueue(t *testing.T) {
	ix, eq, _ := newTestIndexer(t, false)

	created := docEvent(types.EventDocumentCreated, "doc-1")
	id1, err := eq.Enqueue("src-1", created)
	require.NoError(t, err)
	bad := docEvent("document_exploded", "doc-2")
	id2, err := eq.Enqueue("src-1", bad)
	require.NoError(t, err)

	ix.drain()

	good, err := eq.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusCompleted, good.Status)

	failed, err := eq.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	doc, err := ix.GetDocument("doc-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
}

// TestRunWakesOnEnqueue tests the notification path end to end
func TestRunWakesOnEnqueue(t *testing.T) {
	ix, eq, _ := newTestIndexer(t, false)
	ix.Start()
	defer ix.Stop()

	ev := docEvent(types.EventDocumentCreated, "doc-1")
	_, err := eq.Enqueue("src-1", ev)
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		doc, err := ix.GetDocument("doc-1")
		require.NoError(t, err)
		if doc != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("document never indexed")
}
