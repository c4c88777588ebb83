/*
Package client provides HTTP clients for both halves of the worker protocol.

ConnectorClient is what the coordinator uses to dispatch work to connector
workers: sync, cancel, manifest, health, and ad-hoc actions. Requests carry a
30 second timeout; sync dispatch is an acknowledgement handshake, not a wait
for completion.

CoordinatorClient is the CLI-facing client for the coordinator API, used by
the trigger and status commands.
*/
package client
