/*
Package metrics exposes Prometheus instrumentation and health endpoints.

All collectors are package-level and registered at init, so any component
can record observations with a plain import. The Collector goroutine
refreshes inventory gauges from the store every 15 seconds.

# Metrics

	ebb_instances_tracked                 gauge     instances in the store
	ebb_clusters_tracked{status}          gauge     clusters by status
	ebb_sweeps_total                      counter   completed sweep passes
	ebb_sweep_duration_seconds            histogram sweep pass duration
	ebb_resources_reclaimed_total{kind}   counter   expired resources removed
	ebb_expiry_warnings_total             counter   warnings published
	ebb_snapshots_total{outcome}          counter   snapshot attempts
	ebb_provider_retries_total{op}        counter   retried provider calls
	ebb_catalog_cache_lookups_total{...}  counter   catalog cache hits/misses
	ebb_provisioning_transitions_total{status} counter cluster outcomes
	ebb_notification_failures_total{channel}   counter dropped notifications

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	metrics.ResourcesReclaimed.WithLabelValues("instance").Inc()

HTTP handlers: Handler() serves /metrics, HealthHandler() serves /health,
LivenessHandler() serves /live.
*/
package metrics
