/*
Package health provides health checking for connector workers.

HTTPChecker probes a single endpoint with a configurable method, headers,
status range, and timeout. Prober fans HTTP checks out across the configured
connector fleet and is what backs the coordinator's connector listing.
*/
package health
