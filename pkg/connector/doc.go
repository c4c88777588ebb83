/*
Package connector is the worker-side toolkit for source integrations.

A connector implements the Connector interface and is hosted by Runtime,
which serves the worker HTTP protocol: dispatches are acknowledged with 202
and executed in the background with per-run cancellation, while the runtime
heartbeats on the connector's behalf and reports the terminal outcome.

The SDK is the connector's handle back to the coordinator: event emission
with intra-run deduplication, content storage deduplicated by SHA-256,
progress counters, checkpoint state, and completion reporting.

Most connectors do not hand-roll their walk. RunSync is the shared
incremental engine: it derives stable document IDs, skips documents whose
content hash has not moved, detects deletions on full scans, and checkpoints
per partition so interrupted runs resume where they left off. A connector
plugs in by implementing Pager.

Throttle and Authorize cover the two chores every remote API brings: pacing
with retry and credential application.
*/
package connector
