// Package groupmanager implements the Instance-Group Manager: the
// master/slave cascade controller that ties a Group's member
// instances to a shared lifecycle. Grounded directly on
// group_manager_actor.h/.cpp (GroupCaches' four indices, the
// MasterBusiness/SlaveBusiness role split keyed off raft leadership,
// FatalGroup's same-lifecycle cascade, and the KILLGROUP_TIMEOUT
// constant), with the master/slave switch itself driven by
// pkg/manager.Manager.IsLeader(), the same way other raft-leadership-gated
// code paths in this package gate their writes.
package groupmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/notifybus"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/rs/zerolog"
)

// KillGroupTimeout bounds how long a cascade kill waits for every
// member to confirm termination before giving up.
const KillGroupTimeout = 60 * time.Second

// killedSeparatelyMsg is reported on a group member whose own Kill
// call already completed before the cascade reached it.
const killedSeparatelyMsg = "instance killed separately"

// GroupCaches holds the four lookup indices the master business needs
// to cascade a failure without re-reading the metadata store on every
// instance event: by group ID, by owning node, by parent instance
// (child groups a now-failed instance spawned), and by group ID to
// member instance set.
type GroupCaches struct {
	mu             sync.RWMutex
	groups         map[string]*types.Group   // groupID -> group
	groupsByNode   map[string]map[string]bool // nodeID -> set of groupIDs
	childGroups    map[string]map[string]bool // parentInstanceID -> set of groupIDs
	groupInstances map[string]map[string]bool // groupID -> set of instanceIDs
}

// NewGroupCaches returns an empty cache set.
func NewGroupCaches() *GroupCaches {
	return &GroupCaches{
		groups:         make(map[string]*types.Group),
		groupsByNode:   make(map[string]map[string]bool),
		childGroups:    make(map[string]map[string]bool),
		groupInstances: make(map[string]map[string]bool),
	}
}

// AddGroup registers a group and indexes its parent-instance
// relationship, if any.
func (c *GroupCaches) AddGroup(g *types.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[g.ID] = g
	if g.ParentInstanceID != "" {
		if c.childGroups[g.ParentInstanceID] == nil {
			c.childGroups[g.ParentInstanceID] = make(map[string]bool)
		}
		c.childGroups[g.ParentInstanceID][g.ID] = true
	}
}

// RemoveGroup deletes a group and its index entries.
func (c *GroupCaches) RemoveGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return
	}
	delete(c.groups, groupID)
	delete(c.groupInstances, groupID)
	if g.ParentInstanceID != "" {
		if set := c.childGroups[g.ParentInstanceID]; set != nil {
			delete(set, groupID)
		}
	}
}

// AddGroupInstance records instanceID as a member of groupID, indexed
// by node for local-failure cascades.
func (c *GroupCaches) AddGroupInstance(groupID, instanceID, nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groupInstances[groupID] == nil {
		c.groupInstances[groupID] = make(map[string]bool)
	}
	c.groupInstances[groupID][instanceID] = true
	if nodeID != "" {
		if c.groupsByNode[nodeID] == nil {
			c.groupsByNode[nodeID] = make(map[string]bool)
		}
		c.groupsByNode[nodeID][groupID] = true
	}
}

// RemoveGroupInstance drops instanceID from groupID's member set.
func (c *GroupCaches) RemoveGroupInstance(groupID, instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set := c.groupInstances[groupID]; set != nil {
		delete(set, instanceID)
		if len(set) == 0 {
			delete(c.groupInstances, groupID)
		}
	}
}

// GetGroup returns a group and whether it exists.
func (c *GroupCaches) GetGroup(groupID string) (*types.Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupID]
	return g, ok
}

// GetGroupInstances returns the member instance IDs of groupID.
func (c *GroupCaches) GetGroupInstances(groupID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.groupInstances[groupID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// GetChildGroups returns the groups spawned by parentInstanceID.
func (c *GroupCaches) GetChildGroups(parentInstanceID string) []*types.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.childGroups[parentInstanceID]
	groups := make([]*types.Group, 0, len(set))
	for id := range set {
		if g, ok := c.groups[id]; ok {
			groups = append(groups, g)
		}
	}
	return groups
}

// GetNodeGroups returns the groups with at least one member on nodeID.
func (c *GroupCaches) GetNodeGroups(nodeID string) []*types.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.groupsByNode[nodeID]
	groups := make([]*types.Group, 0, len(set))
	for id := range set {
		if g, ok := c.groups[id]; ok {
			groups = append(groups, g)
		}
	}
	return groups
}

// KillFunc terminates one instance with the given signal payload and
// is supplied by the caller (pkg/api wires it to the scheduler/worker
// dispatch path); groupmanager only decides which instances to kill
// and in what order.
type KillFunc func(instanceID, reason string) error

// LeaderChecker reports whether this node currently holds raft
// leadership, the same test pkg/manager.Manager.IsLeader backs.
type LeaderChecker interface {
	IsLeader() bool
}

// Manager is the Instance-Group Manager. It runs as master (cascading
// failures, accepting new groups) on the raft leader and as slave
// (cache-only, forwarding writes) everywhere else, mirroring
// GroupManagerActor's UpdateLeaderInfo-driven business switch.
type Manager struct {
	mu            sync.Mutex
	caches        *GroupCaches
	leader        LeaderChecker
	kill          KillFunc
	bus           *notifybus.Bus
	killingGroups map[string]bool
	logger        zerolog.Logger
}

// New constructs a Manager. kill is invoked once per member instance
// during a cascade; bus is used to publish a Signal frame per member
// before it is killed, mirroring ForwardCustomSignalResponse.
func New(leader LeaderChecker, kill KillFunc, bus *notifybus.Bus) *Manager {
	return &Manager{
		caches:        NewGroupCaches(),
		leader:        leader,
		kill:          kill,
		bus:           bus,
		killingGroups: make(map[string]bool),
		logger:        log.WithComponent("groupmanager"),
	}
}

// Caches exposes the underlying index for read paths (QueryResourceGroup).
func (m *Manager) Caches() *GroupCaches { return m.caches }

// RegisterGroup adds a newly created group and its initial members to
// the cache, called once Create has placed every member.
func (m *Manager) RegisterGroup(g *types.Group, memberNodes map[string]string) {
	m.caches.AddGroup(g)
	for _, instanceID := range g.Members {
		m.caches.AddGroupInstance(g.ID, instanceID, memberNodes[instanceID])
	}
}

// OnInstanceAbnormal cascades a same-lifecycle group failure when
// instanceID (a member of some group) goes FATAL, mirroring
// MasterBusiness::OnInstanceAbnormal + FatalGroup. No-op on a slave
// node: cascades only run where raft leadership lives.
func (m *Manager) OnInstanceAbnormal(instanceID, groupID, reason string) error {
	if !m.leader.IsLeader() {
		return nil
	}
	m.processAbnormalChildGroups(instanceID, reason)
	if groupID == "" {
		return nil
	}
	return m.fatalGroup(groupID, instanceID, fmt.Sprintf(
		"instance exit with group together, reason: group(%s) instance(%s) abnormal: %s", groupID, instanceID, reason))
}

// processAbnormalChildGroups fails every group that instanceID parented
// (ranges/bundles it spawned), mirroring ProcessAbnormalInstanceChildrenGroup.
func (m *Manager) processAbnormalChildGroups(instanceID, reason string) {
	for _, g := range m.caches.GetChildGroups(instanceID) {
		g.State = types.GroupStateFailed
		m.logger.Warn().Str("group", g.ID).Str("parent", instanceID).Msg("group parent failed")
		_ = reason
	}
}

// fatalGroup transitions a group to FAILED and cascades kill to every
// member except ignoredInstanceID (the one whose failure triggered
// this), mirroring MasterBusiness::FatalGroup +
// FatalAllInstanceOfGroup. A group that is not SameLifecycle and still
// has live members is left alone, matching the original's early return.
func (m *Manager) fatalGroup(groupID, ignoredInstanceID, reason string) error {
	g, ok := m.caches.GetGroup(groupID)
	if !ok {
		return fmt.Errorf("groupmanager: group %s not found", groupID)
	}
	if g.State == types.GroupStateFailed || g.State == types.GroupStateKilled {
		return nil
	}
	members := m.caches.GetGroupInstances(groupID)
	if !g.SameLifecycle && len(members) > 0 {
		return nil
	}

	g.State = types.GroupStateFailed
	metrics.GroupCascadesTotal.Inc()

	return m.cascadeKill(groupID, members, ignoredInstanceID, reason)
}

// cascadeKill kills every member instance except ignoredInstanceID,
// deduplicating concurrent cascades for the same group via
// killingGroups (mirrors member_->killingGroups) and bounding the
// whole operation to KillGroupTimeout.
func (m *Manager) cascadeKill(groupID string, members []string, ignoredInstanceID, reason string) error {
	m.mu.Lock()
	if m.killingGroups[groupID] {
		m.mu.Unlock()
		return nil
	}
	m.killingGroups[groupID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.killingGroups, groupID)
		m.mu.Unlock()
	}()

	done := make(chan error, 1)
	go func() {
		for _, instanceID := range members {
			if instanceID == ignoredInstanceID {
				continue
			}
			if m.bus != nil {
				m.bus.Publish(&notifybus.Frame{
					RequestID: instanceID,
					Type:      notifybus.FrameSignal,
					Payload:   map[string]string{"reason": reason},
				})
			}
			if err := m.kill(instanceID, reason); err != nil {
				m.logger.Warn().Err(err).Str("instance", instanceID).Msg(killedSeparatelyMsg)
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(KillGroupTimeout):
		return fmt.Errorf("groupmanager: kill group %s timed out after %s", groupID, KillGroupTimeout)
	}
}

// OnInstanceDelete clears a deleted instance's group-cache entry and
// cascades deletion to any groups it parented, mirroring
// ProcessDeleteInstanceChildrenGroup.
func (m *Manager) OnInstanceDelete(instanceID, groupID string) {
	if groupID != "" {
		m.caches.RemoveGroupInstance(groupID, instanceID)
	}
	if !m.leader.IsLeader() {
		return
	}
	for _, child := range m.caches.GetChildGroups(instanceID) {
		m.logger.Info().Str("group", child.ID).Str("parent", instanceID).Msg("parent deleted, removing group")
		m.caches.RemoveGroup(child.ID)
	}
}

// OnBecomeMaster runs a catch-up scan when this node is newly elected
// leader: any group left mid-cascade by the previous master is
// resolved deterministically rather than left dangling, mirroring
// GroupManagerActor::Init's WatchGroups re-sync on leadership change.
func (m *Manager) OnBecomeMaster(groups []*types.Group) {
	for _, g := range groups {
		m.caches.AddGroup(g)
		if g.State == types.GroupStateFailed {
			members := m.caches.GetGroupInstances(g.ID)
			_ = m.cascadeKill(g.ID, members, "", "resuming cascade after leadership change")
		}
	}
}
