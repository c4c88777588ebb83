/*
Package blob implements the content-addressed store for document bodies.

Two backends share one contract: an embedded BoltDB backend and an
S3-compatible object store. IDs are ULIDs, optionally prefixed, and every
blob records its SHA-256 so connectors can dedup identical bodies with
FindByHash before writing. BatchGetText fans out in chunks of 50.
*/
package blob
