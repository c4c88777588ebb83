package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// Job is one dispatched sync, parsed from the coordinator's request.
type Job struct {
	SyncRunID   string
	Source      types.Source
	Credentials types.CredentialSet
	LastSyncAt  *time.Time
	Mode        types.SyncMode
	Config      json.RawMessage
}

// Connector is the contract a source integration implements. Sync blocks
// until the run is done; the runtime owns the surrounding lifecycle
// (heartbeats, completion reporting, cancellation).
type Connector interface {
	// Manifest describes the connector to the coordinator.
	Manifest() types.Manifest

	// Sync performs one run, reporting documents through the SDK. Returning
	// nil completes the run; returning an error fails it. When ctx is
	// cancelled the connector should stop at the next safe point.
	Sync(ctx context.Context, job Job, sdk *SDK) error
}

// ActionHandler is optionally implemented by connectors that declare actions
// in their manifest.
type ActionHandler interface {
	Action(ctx context.Context, req *types.ActionRequest) (*types.ActionResult, error)
}
