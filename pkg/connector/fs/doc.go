/*
Package fs is the local-filesystem connector.

Each configured root directory is one partition. The cursor settles at the
newest modification time a run observed, so incremental syncs only surface
files written since the last run. It doubles as the reference connector for
the generic sync engine: no credentials, no network, fully testable against
a temp directory.
*/
package fs
