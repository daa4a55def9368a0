/*
Package metrics exposes Prometheus metrics and process health for the
warden control plane.

All collectors are registered on the default Prometheus registry at package
init and served by Handler() on /metrics.

# Metric Families

	warden_nodes{health}                       gauge      nodes per effective health
	warden_nodes_stale                         gauge      nodes past the liveness window
	warden_fleet_health_score                  gauge      percent of nodes effectively ONLINE
	warden_fleet_cpu_cores                     gauge      sum of node cores
	warden_fleet_ram_gigabytes                 gauge      sum of node RAM in GB
	warden_heartbeats_total{result}            counter    heartbeats by outcome
	warden_heartbeat_duration_seconds          histogram  ingest latency
	warden_nodes_marked_offline_total          counter    sweep transitions to OFFLINE
	warden_reconciliation_duration_seconds     histogram  sweep latency
	warden_tasks_queued_total{kind}            counter    tasks queued per kind
	warden_tasks_delivered_total               counter    tasks handed to daemons
	warden_raft_is_leader                      gauge      1 on the leader
	warden_raft_peers_total                    gauge      voters in the configuration
	warden_raft_applied_index                  gauge      last applied log index
	warden_api_requests_total{route,status}    counter    HTTP requests
	warden_api_request_duration_seconds{route} histogram  HTTP latency

Fleet gauges are refreshed by a Collector that lists nodes on an interval
and runs them through fleet.Summarize. Counters and histograms are updated
inline by the packages that own the operation.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

Components report their state with RegisterComponent / UpdateComponent.
/health is unhealthy if any registered component is unhealthy. /ready
requires every critical component (storage and api by default, plus raft
in cluster mode via SetCriticalComponents) to be registered and healthy.
/live always answers 200 while the process runs.
*/
package metrics
