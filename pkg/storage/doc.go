/*
Package storage persists coordinator state in BoltDB.

One database file holds every durable table. This package owns the source,
credential, connector-state, sync-run, and embedding-provider buckets; the
queue and blob packages attach their own buckets to the same handle via DB().

Connector state is only ever written together with a heartbeat bump on the
owning sync run (PutConnectorState), which keeps checkpoints from drifting
ahead of observable progress.
*/
package storage
