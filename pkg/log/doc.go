/*
Package log provides structured logging for Shuttle built on zerolog.

Call Init once at process start, then derive child loggers with
WithComponent, WithSourceID, WithSyncRunID, or WithConnector so every line
carries the fields operators filter on. Console output is the default;
JSONOutput switches to machine-readable lines for log shippers.
*/
package log
