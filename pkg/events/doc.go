/*
Package events implements the in-process notification broker.

Writers publish payload-less wakeups when rows land on the durable queues and
full sync-run rows on every ledger write. The SSE progress stream and the
indexer drain loop subscribe; delivery is best-effort, so consumers pair a
subscription with a periodic poll.
*/
package events
