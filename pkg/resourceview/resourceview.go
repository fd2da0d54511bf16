// Package resourceview tracks every resource unit known to the
// cluster and the instances currently occupying each one. It is the
// scheduler's read model: Preemption and Priority Scheduler both
// query it, nothing else mutates placement state directly.
//
// Grounded on the per-node bookkeeping scheduler.go originally used,
// generalized from whole-node capacity to a per-unit resource model.
package resourceview

import (
	"sync"

	"github.com/cuemby/nimbus/pkg/types"
)

// View is the concurrency-safe, in-memory resource view. One View is
// shared by the scheduler, preemption controller, and fairness policy
// for a cluster.
type View struct {
	mu        sync.RWMutex
	units     map[string]*types.ResourceUnit
	instances map[string]map[string]*types.Instance // unitID -> instanceID -> instance
}

// New returns an empty View.
func New() *View {
	return &View{
		units:     make(map[string]*types.ResourceUnit),
		instances: make(map[string]map[string]*types.Instance),
	}
}

// AddResourceUnit registers or replaces a unit's static description
// (capacity, labels). Used occupancy is preserved across replacement.
func (v *View) AddResourceUnit(u *types.ResourceUnit) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.units[u.ID]; ok {
		u.Used = existing.Used
	}
	v.units[u.ID] = u
	if _, ok := v.instances[u.ID]; !ok {
		v.instances[u.ID] = make(map[string]*types.Instance)
	}
}

// RemoveResourceUnit drops a unit and every instance record attached
// to it. Callers are expected to have already rescheduled or killed
// any occupants.
func (v *View) RemoveResourceUnit(unitID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.units, unitID)
	delete(v.instances, unitID)
}

// UpdateUnit applies a mutator to a unit under the view's lock,
// letting callers adjust capacity or labels atomically.
func (v *View) UpdateUnit(unitID string, fn func(*types.ResourceUnit)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.units[unitID]
	if !ok {
		return false
	}
	fn(u)
	return true
}

// Unit returns a copy of the unit's current state, or nil.
func (v *View) Unit(unitID string) *types.ResourceUnit {
	v.mu.RLock()
	defer v.mu.RUnlock()
	u, ok := v.units[unitID]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// Units returns every known unit, sorted by nothing in particular —
// callers that need a stable order sort themselves.
func (v *View) Units() []*types.ResourceUnit {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.ResourceUnit, 0, len(v.units))
	for _, u := range v.units {
		out = append(out, u)
	}
	return out
}

// AddInstances records instances as occupying unitID and debits the
// unit's Used capacity by their resource demand.
func (v *View) AddInstances(unitID string, instances ...*types.Instance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.units[unitID]
	if !ok {
		return
	}
	m, ok := v.instances[unitID]
	if !ok {
		m = make(map[string]*types.Instance)
		v.instances[unitID] = m
	}
	for _, inst := range instances {
		if _, exists := m[inst.ID]; exists {
			continue
		}
		m[inst.ID] = inst
		u.Used += demandFor(u.Kind, inst)
	}
}

// RemoveInstances evicts instances from unitID and credits back their
// resource demand.
func (v *View) RemoveInstances(unitID string, instanceIDs ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.units[unitID]
	if !ok {
		return
	}
	m, ok := v.instances[unitID]
	if !ok {
		return
	}
	for _, id := range instanceIDs {
		inst, exists := m[id]
		if !exists {
			continue
		}
		delete(m, id)
		u.Used -= demandFor(u.Kind, inst)
		if u.Used < 0 {
			u.Used = 0
		}
	}
}

// Instances returns the instances currently occupying unitID.
func (v *View) Instances(unitID string) []*types.Instance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m := v.instances[unitID]
	out := make([]*types.Instance, 0, len(m))
	for _, inst := range m {
		out = append(out, inst)
	}
	return out
}

// Snapshot returns a point-in-time ScheduleContext covering every
// known unit and its occupants, for passing into the preemption
// controller or fairness policy.
func (v *View) Snapshot() *types.ScheduleContext {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ctx := &types.ScheduleContext{
		Units:     make([]*types.ResourceUnit, 0, len(v.units)),
		Instances: make(map[string][]*types.Instance, len(v.instances)),
	}
	for _, u := range v.units {
		cp := *u
		ctx.Units = append(ctx.Units, &cp)
	}
	for unitID, m := range v.instances {
		insts := make([]*types.Instance, 0, len(m))
		for _, inst := range m {
			insts = append(insts, inst)
		}
		ctx.Instances[unitID] = insts
	}
	return ctx
}

func demandFor(kind string, inst *types.Instance) int64 {
	if inst.ResourceDemand == nil {
		return 0
	}
	return inst.ResourceDemand[kind]
}
