/*
Package scheduler runs the coordinator's periodic sweep.

Each tick recovers stale sync runs and embedding claims, triggers an
incremental sync for every due source, revives recently failed queue events,
and once a day applies retention cleanup. Admission rejections during the
due-source pass are normal backpressure and leave the source due for the
next tick.
*/
package scheduler
