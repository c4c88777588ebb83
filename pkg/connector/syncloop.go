package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// Pager is the per-source paging seam a connector implements to use the
// generic sync engine. Partitions split a source into independently
// checkpointed slices (drives, folders, channels); Page walks one of them.
type Pager interface {
	// Partitions returns the partition IDs of the source.
	Partitions(ctx context.Context, job Job) ([]string, error)

	// Page returns the next batch of items in a partition. cursor is the
	// value Page last returned, or the partition's persisted cursor at the
	// start of a run ("" on a full sync). done reports the partition is
	// exhausted, at which point next becomes the partition's new persisted
	// cursor.
	Page(ctx context.Context, job Job, partition, cursor string) (items []Item, next string, done bool, err error)
}

// Item is one document surfaced by a page.
type Item struct {
	ExternalID  string
	Content     []byte
	ContentType string
	Metadata    types.DocumentMetadata
	Permissions types.Permissions
}

// DocumentID derives the stable document identity for an external ID. The
// same source, partition, and external ID always yield the same UUID, so
// re-syncs update rather than duplicate.
func DocumentID(sourceID, partition, externalID string) string {
	name := "shuttle://" + sourceID + "/" + partition + "/" + externalID
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// RunSync is the generic incremental sync engine. It walks every partition,
// emits created and updated events for documents whose content hash moved,
// detects deletions on full scans by set difference against the previous
// partition index, and checkpoints state after each partition so an
// interrupted run resumes at the last finished partition.
func RunSync(ctx context.Context, job Job, sdk *SDK, pager Pager) error {
	state, err := sdk.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load connector state: %w", err)
	}

	partitions, err := pager.Partitions(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := syncPartition(ctx, job, sdk, pager, state, partition); err != nil {
			return fmt.Errorf("partition %s: %w", partition, err)
		}
	}
	return nil
}

func syncPartition(ctx context.Context, job Job, sdk *SDK, pager Pager, state *types.ConnectorState, partition string) error {
	oldIndex := state.Documents[partition].DocumentIDs
	if oldIndex == nil {
		oldIndex = make(map[string]string)
	}

	// The new index starts from the old one; incremental pages only surface
	// changed documents, and unchanged ones must survive.
	newIndex := make(map[string]string, len(oldIndex))
	for id, hash := range oldIndex {
		newIndex[id] = hash
	}

	cursor := ""
	if job.Mode == types.SyncModeIncremental {
		cursor = state.Cursors[partition]
	}

	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, next, done, err := pager.Page(ctx, job, partition, cursor)
		if err != nil {
			return err
		}

		if len(items) > 0 {
			if err := sdk.Scanned(ctx, int64(len(items))); err != nil {
				log.WithSyncRunID(job.SyncRunID).Debug().Err(err).Msg("Failed to report scan progress")
			}
		}

		for _, item := range items {
			docID := DocumentID(job.Source.ID, partition, item.ExternalID)
			seen[docID] = struct{}{}

			sum := sha256.Sum256(item.Content)
			hash := hex.EncodeToString(sum[:])
			prevHash, existed := oldIndex[docID]
			if existed && prevHash == hash {
				continue
			}

			contentID, err := sdk.StoreContent(ctx, item.Content, item.ContentType)
			if err != nil {
				return fmt.Errorf("failed to store content for %s: %w", item.ExternalID, err)
			}

			evType := types.EventDocumentCreated
			if existed {
				evType = types.EventDocumentUpdated
			}
			ev := types.DocumentEvent{
				Type:        evType,
				DocumentID:  docID,
				ContentID:   contentID,
				Metadata:    item.Metadata,
				Permissions: item.Permissions,
			}
			if err := sdk.EmitEvent(ctx, ev); err != nil {
				return fmt.Errorf("failed to emit event for %s: %w", item.ExternalID, err)
			}
			newIndex[docID] = hash
		}

		cursor = next
		if done {
			break
		}
	}

	// A full scan saw everything; whatever the old index had that this scan
	// did not is gone from the source.
	if job.Mode == types.SyncModeFull {
		for docID := range oldIndex {
			if _, ok := seen[docID]; ok {
				continue
			}
			ev := types.DocumentEvent{
				Type:       types.EventDocumentDeleted,
				DocumentID: docID,
			}
			if err := sdk.EmitEvent(ctx, ev); err != nil {
				return fmt.Errorf("failed to emit deletion for %s: %w", docID, err)
			}
			delete(newIndex, docID)
		}
	}

	// Checkpoint the finished partition. The write doubles as a heartbeat.
	state.Cursors[partition] = cursor
	state.Documents[partition] = types.PartitionIndex{DocumentIDs: newIndex}
	if err := sdk.PutState(ctx, state); err != nil {
		return fmt.Errorf("failed to checkpoint partition: %w", err)
	}
	return nil
}
