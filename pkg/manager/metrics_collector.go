package manager

import (
	"time"

	"github.com/cuemby/nimbus/pkg/metrics"
)

// MetricsCollector periodically samples manager state into the
// Prometheus gauges defined in pkg/metrics.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectNodeMetrics()
	c.collectResourceUnitMetrics()
	c.collectInstanceMetrics()
	c.collectGroupMetrics()
	c.collectObjectRefMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectNodeMetrics() {
	nodes, err := c.manager.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, node := range nodes {
		counts[string(node.Status)]++
	}
	for status, count := range counts {
		metrics.NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *MetricsCollector) collectResourceUnitMetrics() {
	units, err := c.manager.ListResourceUnits()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	capacity := make(map[string]int64)
	used := make(map[string]int64)
	for _, unit := range units {
		counts[unit.Kind]++
		capacity[unit.Kind] += unit.Capacity
		used[unit.Kind] += unit.Used
	}
	for kind, count := range counts {
		metrics.ResourceUnitsTotal.WithLabelValues(kind).Set(float64(count))
		metrics.ResourceUnitCapacity.WithLabelValues(kind, "capacity").Set(float64(capacity[kind]))
		metrics.ResourceUnitCapacity.WithLabelValues(kind, "used").Set(float64(used[kind]))
	}
}

func (c *MetricsCollector) collectInstanceMetrics() {
	instances, err := c.manager.ListInstances()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, inst := range instances {
		counts[string(inst.State)]++
	}
	for state, count := range counts {
		metrics.InstancesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *MetricsCollector) collectGroupMetrics() {
	groups, err := c.manager.ListGroups()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, group := range groups {
		counts[string(group.State)]++
	}
	for state, count := range counts {
		metrics.GroupsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *MetricsCollector) collectObjectRefMetrics() {
	refs, err := c.manager.ListObjectRefs()
	if err != nil {
		return
	}
	metrics.ObjectRefsTotal.Set(float64(len(refs)))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
