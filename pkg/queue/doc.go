/*
Package queue implements the two durable work queues.

The event queue carries document lifecycle events from connectors to the
indexer with claim/ack/nack, bounded retries, and a dead-letter terminal
state. The embedding queue carries document IDs awaiting vectorization and is
gated on an installed embedding provider.

Both queues key rows by ULID, so a bucket cursor walks them oldest first, and
both perform claims inside a single BoltDB write transaction: a claimed row
is simply no longer pending, and competing claimers skip it without blocking.
Delivery is at-least-once; consumers rely on deterministic document IDs to
make duplicate delivery idempotent.
*/
package queue
