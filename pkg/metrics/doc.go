// Package metrics provides Prometheus metrics for Galaxy.
//
// All metrics are registered globally at init time under the galaxy_
// namespace. The Collector polls the device registry and the executing
// constellation into the gauge families; counters and histograms are
// incremented inline by the fleet, orchestrator, and synchronizer.
package metrics
