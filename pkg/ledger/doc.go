/*
Package ledger records sync attempts.

Each SyncRun row is appended once and then driven through a strict state
machine; progress counters only grow, and UpdatedAt doubles as the heartbeat
clock the staleness sweep reads. All writes fan out through the notification
broker for the SSE progress stream.
*/
package ledger
