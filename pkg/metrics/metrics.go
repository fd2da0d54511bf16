package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	ResourceUnitsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_resource_units_total",
			Help: "Total number of resource units by kind",
		},
		[]string{"kind"},
	)

	ResourceUnitCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_resource_unit_capacity",
			Help: "Capacity and used amount per resource unit kind",
		},
		[]string{"kind", "metric"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_instances_total",
			Help: "Total number of instances by state",
		},
		[]string{"state"},
	)

	GroupsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_groups_total",
			Help: "Total number of instance groups by state",
		},
		[]string{"state"},
	)

	ObjectRefsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_object_refs_total",
			Help: "Total number of tracked object references",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_scheduling_latency_seconds",
			Help:    "Time taken to schedule an instance onto a resource unit in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstancesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_instances_scheduled_total",
			Help: "Total number of instances scheduled",
		},
	)

	InstancesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_instances_failed_total",
			Help: "Total number of instances that failed scheduling or execution",
		},
	)

	PreemptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_preemptions_total",
			Help: "Total number of instances preempted to make room for a higher priority request",
		},
	)

	// Instance operation metrics
	InstanceCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_instance_create_duration_seconds",
			Help:    "Time taken to create an instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceKillDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_instance_kill_duration_seconds",
			Help:    "Time taken to kill an instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InvokeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_invoke_duration_seconds",
			Help:    "Time taken to complete an invoke request in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Group cascade metrics
	GroupCascadesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_group_cascades_total",
			Help: "Total number of group lifecycle cascades (kill-together propagations)",
		},
	)

	// Raft operation metrics
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ResourceUnitsTotal)
	prometheus.MustRegister(ResourceUnitCapacity)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(ObjectRefsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(InstancesScheduled)
	prometheus.MustRegister(InstancesFailed)
	prometheus.MustRegister(PreemptionsTotal)

	prometheus.MustRegister(InstanceCreateDuration)
	prometheus.MustRegister(InstanceKillDuration)
	prometheus.MustRegister(InvokeDuration)
	prometheus.MustRegister(GroupCascadesTotal)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
