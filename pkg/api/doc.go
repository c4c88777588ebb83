/*
Package api is the coordinator's HTTP surface.

It serves two audiences on one listener. Operators manage sources and
credentials, trigger and cancel syncs, watch progress over Server-Sent
Events, and inspect schedules, connector health, queues, and metrics.
Connector workers report back through the /sdk routes: durable event
emission, content storage with hash dedup, progress counters, heartbeats,
checkpoint state, and terminal outcomes.

Domain sentinels map onto statuses in one place: admission conflicts and
invalid transitions are 409, unknown rows are 404, inactive sources are 422.
*/
package api
