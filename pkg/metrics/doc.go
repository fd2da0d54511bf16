/*
Package metrics provides Prometheus metrics collection and exposition for
Nimbus.

The metrics package defines and registers all Nimbus metrics using the
Prometheus client library, providing observability into cluster health,
resource utilization, operation latency, and scheduler performance.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers.

# Metrics Catalog

Cluster Metrics:

nimbus_nodes_total{status}:
  - Type: Gauge
  - Description: Total nodes by status (healthy/degraded/down)

nimbus_resource_units_total{kind}:
  - Type: Gauge
  - Description: Total resource units by kind (cpu/gpu/npu/...)

nimbus_resource_unit_capacity{kind,metric}:
  - Type: Gauge
  - Description: Aggregate capacity/used amount per resource unit kind

nimbus_instances_total{state}:
  - Type: Gauge
  - Description: Total instances by state

nimbus_groups_total{state}:
  - Type: Gauge
  - Description: Total instance groups by state

nimbus_object_refs_total:
  - Type: Gauge
  - Description: Total tracked object references

Raft Metrics:

nimbus_raft_is_leader, nimbus_raft_peers_total, nimbus_raft_log_index,
nimbus_raft_applied_index: standard raft health gauges, updated by
pkg/manager's metrics collector on each collection tick.

API Metrics:

nimbus_api_requests_total{method,status} and
nimbus_api_request_duration_seconds{method}: instrumented by the API
server interceptor on every RPC.

Scheduler Metrics:

nimbus_scheduling_latency_seconds, nimbus_instances_scheduled_total,
nimbus_instances_failed_total, nimbus_preemptions_total: recorded by
pkg/scheduler around each doConsume cycle.

Operation Latency Metrics:

nimbus_instance_create_duration_seconds, nimbus_instance_kill_duration_seconds,
nimbus_invoke_duration_seconds, nimbus_group_cascades_total,
nimbus_raft_apply_duration_seconds, nimbus_raft_commit_duration_seconds.

# Usage

	import "github.com/cuemby/nimbus/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("healthy").Set(5)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.InstanceCreateDuration)

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/manager: updates cluster and Raft gauges via MetricsCollector
  - pkg/scheduler: records scheduling latency, preemption, and failure counters
  - pkg/api: instruments API request duration and counts
  - pkg/groupmanager: counts group cascade propagations
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

All metrics are registered once in init() via MustRegister, which
panics on duplicate registration to catch typos early. Labels are kept
low-cardinality (status, state, kind) — never instance or object IDs.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
