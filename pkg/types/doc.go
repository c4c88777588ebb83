/*
Package types defines the core data structures used throughout Shuttle.

This package contains all fundamental types that represent Shuttle's domain
model: sources, credentials, sync runs, queue items, blobs, and the wire
payloads exchanged between the coordinator and connector workers. These types
are used by all other packages for state management, API communication, and
sync orchestration.

# Core Types

Sources and credentials:
  - Source: One remote account or site being synced
  - SourceType: Closed set of connector families (drive, mail, chat, wiki,
    tracker, web, files)
  - ServiceCredentials: Sealed credential blob tied to one Source
  - ConnectorState: Opaque per-source checkpoint document (cursors plus
    per-partition document indexes)

Sync execution:
  - SyncRun: One sync attempt with the pending/running/completed/failed/
    cancelled state machine; UpdatedAt doubles as the heartbeat clock
  - SyncRequest: Job description dispatched to a connector's /sync
  - Manifest, ActionSpec: Connector self-description

Queues and events:
  - DocumentEvent: Stable wire payload placed on the event queue
  - EventQueueItem, EmbeddingQueueItem: Durable queue rows
  - QueueItemStatus: pending, processing, completed, failed, dead_letter

All types carry JSON tags: the same encoding is used on the wire and in the
store.
*/
package types
