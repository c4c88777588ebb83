/*
Package indexer consumes the durable event queue.

It claims batches of document events, folds them into the documents bucket
(upserts keep their original CreatedAt, deletes are idempotent), acks what
applied and nacks what did not, and enqueues embedding work for every
upsert. The loop wakes on broker notifications and falls back to a poll
tick, since broker signals may drop under load.
*/
package indexer
