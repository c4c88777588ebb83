/*
Package metrics provides Prometheus instrumentation for the coordinator.

Metrics fall into two groups: event-driven counters and histograms that the
owning packages bump inline (dispatch latency, enqueues, API requests), and
gauge families refreshed by the Collector, which polls stored state every 15
seconds (source counts, in-flight runs, queue depths).

All metrics are registered in init and served by Handler, which the API
server mounts at /metrics.
*/
package metrics
