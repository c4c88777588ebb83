package types

import (
	"encoding/json"
	"time"
)

// Source is the semantic identity of one remote account or site being synced.
type Source struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         SourceType      `json:"type"`
	Config       json.RawMessage `json:"config,omitempty"`
	Active       bool            `json:"active"`
	IsDeleted    bool            `json:"is_deleted"`
	SyncStatus   SyncStatus      `json:"sync_status"`
	LastSyncAt   *time.Time      `json:"last_sync_at,omitempty"`
	NextSyncAt   *time.Time      `json:"next_sync_at,omitempty"`
	SyncInterval time.Duration   `json:"sync_interval"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SourceType is the closed set of connector families.
type SourceType string

const (
	SourceTypeDrive   SourceType = "drive"
	SourceTypeMail    SourceType = "mail"
	SourceTypeChat    SourceType = "chat"
	SourceTypeWiki    SourceType = "wiki"
	SourceTypeTracker SourceType = "tracker"
	SourceTypeWeb     SourceType = "web"
	SourceTypeFiles   SourceType = "files"
)

// SourceTypes enumerates every known source type.
var SourceTypes = []SourceType{
	SourceTypeDrive, SourceTypeMail, SourceTypeChat, SourceTypeWiki,
	SourceTypeTracker, SourceTypeWeb, SourceTypeFiles,
}

// ValidSourceType reports whether t is one of the known source types.
func ValidSourceType(t SourceType) bool {
	for _, known := range SourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SyncStatus is the coarse sync health tag carried on the Source row.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// ServiceCredentials holds the sealed credential blob for one Source.
type ServiceCredentials struct {
	SourceID        string     `json:"source_id"`
	Provider        string     `json:"provider"`
	AuthType        AuthType   `json:"auth_type"`
	Sealed          []byte     `json:"sealed"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AuthType tags the strategy used to validate credentials.
type AuthType string

const (
	AuthTypeOAuth          AuthType = "oauth"
	AuthTypeAPIKey         AuthType = "api-key"
	AuthTypeBotToken       AuthType = "bot-token"
	AuthTypeJWT            AuthType = "jwt"
	AuthTypeServiceAccount AuthType = "service-account"
)

// ConnectorState is the opaque per-source checkpoint document. The coordinator
// persists it without interpreting it; connectors read-modify-write it through
// the SDK surface.
type ConnectorState struct {
	SourceID  string                     `json:"source_id"`
	Cursors   map[string]string          `json:"cursors,omitempty"`
	Documents map[string]PartitionIndex  `json:"documents,omitempty"`
	Extra     map[string]json.RawMessage `json:"extra,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// PartitionIndex records the document IDs and content hashes last seen in one
// partition. Deletion detection and content-level dedup both read it.
type PartitionIndex struct {
	DocumentIDs map[string]string `json:"document_ids,omitempty"` // doc id -> content hash
}

// SyncRun is a single attempt to sync a Source.
type SyncRun struct {
	ID                 string        `json:"id"`
	SourceID           string        `json:"source_id"`
	SourceType         SourceType    `json:"source_type"`
	SyncType           SyncMode      `json:"sync_type"`
	Status             SyncRunStatus `json:"status"`
	TriggerType        TriggerType   `json:"trigger_type"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	DocumentsScanned   int64         `json:"documents_scanned"`
	DocumentsProcessed int64         `json:"documents_processed"`
	DocumentsUpdated   int64         `json:"documents_updated"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"` // heartbeat clock
}

// SyncRunStatus is the sync-run state machine tag.
type SyncRunStatus string

const (
	SyncRunPending   SyncRunStatus = "pending"
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
	SyncRunCancelled SyncRunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SyncRunStatus) Terminal() bool {
	return s == SyncRunCompleted || s == SyncRunFailed || s == SyncRunCancelled
}

// SyncMode selects full or incremental sync.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// TriggerType records what initiated a run.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerWebhook   TriggerType = "webhook"
)

// EventType is the document lifecycle step carried by a queue event.
type EventType string

const (
	EventDocumentCreated EventType = "document_created"
	EventDocumentUpdated EventType = "document_updated"
	EventDocumentDeleted EventType = "document_deleted"
)

// DocumentEvent is the stable wire payload placed on the event queue.
type DocumentEvent struct {
	Type        EventType        `json:"type"`
	SyncRunID   string           `json:"sync_run_id"`
	SourceID    string           `json:"source_id"`
	DocumentID  string           `json:"document_id"`
	ContentID   string           `json:"content_id,omitempty"` // blob id; empty for deletes
	Metadata    DocumentMetadata `json:"metadata"`
	Permissions Permissions      `json:"permissions"`
}

// DocumentMetadata describes the document a DocumentEvent refers to.
type DocumentMetadata struct {
	Title     string            `json:"title,omitempty"`
	Author    string            `json:"author,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	MimeType  string            `json:"mime_type,omitempty"`
	Size      int64             `json:"size,omitempty"`
	URL       string            `json:"url,omitempty"`
	Path      string            `json:"path,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Permissions carries the access scope of a document.
type Permissions struct {
	Public bool     `json:"public"`
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// QueueItemStatus is shared by both durable queues.
type QueueItemStatus string

const (
	QueueStatusPending    QueueItemStatus = "pending"
	QueueStatusProcessing QueueItemStatus = "processing"
	QueueStatusCompleted  QueueItemStatus = "completed"
	QueueStatusFailed     QueueItemStatus = "failed"
	QueueStatusDeadLetter QueueItemStatus = "dead_letter"
)

// EventQueueItem is one durable row on the connector event queue.
type EventQueueItem struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id"`
	Event       DocumentEvent   `json:"event"`
	Status      QueueItemStatus `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// EmbeddingQueueItem is one durable row on the embedding queue.
type EmbeddingQueueItem struct {
	ID                  string          `json:"id"`
	DocumentID          string          `json:"document_id"`
	Status              QueueItemStatus `json:"status"`
	RetryCount          int             `json:"retry_count"`
	Error               string          `json:"error,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// EmbeddingProvider is one embedding backend registration. The embedding queue
// accepts work only while some provider row has IsCurrent set.
type EmbeddingProvider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

// BlobMeta is the metadata recorded for every stored blob.
type BlobMeta struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Backend     string    `json:"backend"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is the indexer-owned row a document event upserts into.
type Document struct {
	ID        string           `json:"id"`
	SourceID  string           `json:"source_id"`
	ContentID string           `json:"content_id,omitempty"`
	Metadata  DocumentMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SyncRequest is the job description dispatched to a connector's /sync.
type SyncRequest struct {
	SyncRunID   string          `json:"sync_run_id"`
	Source      Source          `json:"source"`
	Credentials CredentialSet   `json:"credentials"`
	LastSyncAt  *time.Time      `json:"last_sync_at,omitempty"`
	SyncMode    SyncMode        `json:"sync_mode"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// CredentialSet is the unsealed credential material handed to a connector for
// the duration of one run. It never touches disk on the connector side.
type CredentialSet struct {
	Provider string            `json:"provider"`
	AuthType AuthType          `json:"auth_type"`
	Values   map[string]string `json:"values"`
}

// CancelRequest asks a connector to stop a run.
type CancelRequest struct {
	SyncRunID string `json:"sync_run_id"`
}

// Cancel statuses returned from a connector's /cancel.
const (
	CancelAccepted     = "accepted"
	CancelNotSupported = "not_supported"
	CancelUnknownRun   = "unknown_run"
)

// Manifest describes a connector worker to the coordinator.
type Manifest struct {
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	SyncModes []SyncMode   `json:"sync_modes"`
	Actions   []ActionSpec `json:"actions,omitempty"`
}

// ActionSpec declares one operator-invocable action a connector supports.
type ActionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ActionRequest invokes a declared action on a connector.
type ActionRequest struct {
	SourceID string            `json:"source_id"`
	Action   string            `json:"action"`
	Params   map[string]string `json:"params,omitempty"`
}

// ActionResult is a connector's reply to an ActionRequest.
type ActionResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// QueueStats is the per-status item count over the stats window.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
}
