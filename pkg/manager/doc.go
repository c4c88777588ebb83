/*
Package manager implements sync admission and dispatch.

SyncManager is the only component allowed to create sync runs. Admission
holds one mutex across three checks: no non-terminal run for the source, the
global in-flight cap, and the per-type cap. A run that passes admission is
moved to running and dispatched to its connector over HTTP; a dispatch
failure fails the run and releases its slot immediately.

Slot release is explicit. Whichever path observes a run's terminal
transition (the SDK completion handlers, cancellation, or recovery) calls
Finish exactly once, which frees the slot and settles the source row.

Two recovery paths close runs the connector will never finish: RecoverAll at
startup fails everything left running by the previous process, and
RecoverStale fails runs whose heartbeat has gone quiet past the stale
timeout.
*/
package manager
