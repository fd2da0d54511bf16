// Package preemption implements the Preemption Controller: given a
// candidate request that does not fit on any unit as-is, it finds the
// cheapest way to make room by evicting lower-priority instances.
//
// Grounded directly on
// original_source/functionsystem/.../preemption_controller.cpp: the
// same per-unit feasibility/affinity/scoring pipeline
// (IsUnitMeetRequired -> IsResourceAffinityMeetRequired ->
// ChoseInstanceToPreempted), the same cross-unit ordering
// (ComparePreemptableUnit: higher score first, then fewer victims,
// then smaller preempted-resource total, then lexicographic unit ID),
// and the same victim ordering
// (InstanceAffinityComparator: lower priority first, then lower
// instance-affinity score, then higher resource usage, then higher
// instance ID) are kept. Required instance anti-affinity is checked
// against the peer set as it looks after victim removal, not before:
// a unit is only infeasible if the label survives the preemption it
// would perform.
package preemption

import (
	"errors"
	"sort"

	"github.com/cuemby/nimbus/pkg/affinity"
	"github.com/cuemby/nimbus/pkg/types"
)

// ErrNoPreemptableInstance is returned when no unit has any
// combination of victims that would make room for the candidate.
var ErrNoPreemptableInstance = errors.New("DOMAIN_SCHEDULER_NO_PREEMPTABLE_INSTANCE")

// candidateUnit is one unit's preemption plan, scored for ordering.
type candidateUnit struct {
	unitID             string
	score              int64
	preemptedInstances []*types.Instance
	preemptedResources int64
}

// less implements ComparePreemptableUnit: higher score sorts first;
// ties broken by fewer victims, then smaller preempted total, then
// lexicographically smaller unit ID.
func less(l, r candidateUnit) bool {
	if l.score != r.score {
		return l.score > r.score
	}
	if len(l.preemptedInstances) != len(r.preemptedInstances) {
		return len(l.preemptedInstances) < len(r.preemptedInstances)
	}
	if l.preemptedResources != r.preemptedResources {
		return l.preemptedResources < r.preemptedResources
	}
	return l.unitID < r.unitID
}

// Result is the chosen unit and the victims that must be killed to
// make room for the candidate.
type Result struct {
	UnitID             string
	PreemptedInstances []*types.Instance
}

// Decide finds the best unit (and victim set) to preempt onto for
// candidate, given a snapshot of the cluster's occupancy. Returns
// ErrNoPreemptableInstance if no unit has a viable victim set.
func Decide(ctx *types.ScheduleContext, candidate *types.Instance, spec *types.RequestSpec) (Result, error) {
	var candidates []candidateUnit
	for _, unit := range ctx.Units {
		if !isUnitMeetRequired(unit, spec) {
			continue
		}
		score, ok := isResourceAffinityMeetRequired(unit, ctx.Instances[unit.ID], spec)
		if !ok {
			continue
		}
		cu, ok := chooseInstancesToPreempt(unit, ctx.Instances[unit.ID], candidate, spec, score)
		if !ok {
			continue
		}
		candidates = append(candidates, cu)
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoPreemptableInstance
	}
	sort.Slice(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })
	best := candidates[0]
	return Result{UnitID: best.unitID, PreemptedInstances: best.preemptedInstances}, nil
}

// isUnitMeetRequired reports whether unit's total capacity could ever
// satisfy spec's demand, ignoring current occupancy (a coarse
// feasibility gate before the more expensive affinity/victim search).
func isUnitMeetRequired(unit *types.ResourceUnit, spec *types.RequestSpec) bool {
	return spec.ResourceDemand[unit.Kind] <= unit.Capacity
}

// isResourceAffinityMeetRequired evaluates required resource affinity
// against the unit's (static, victim-independent) labels and scores
// the preferred resource affinity. Required instance anti-affinity is
// deliberately not checked here: it depends on which peers remain
// after preemption, so chooseInstancesToPreempt re-checks it against
// the post-victim-removal peer set instead of the pre-removal one.
func isResourceAffinityMeetRequired(unit *types.ResourceUnit, peers []*types.Instance, spec *types.RequestSpec) (int64, bool) {
	if !affinity.RequiredFilter(specAffinity(spec).RequiredResourceAffinity, affinity.UnitLabels(unit)) {
		return 0, false
	}
	score := affinity.CalculateResourceAffinityScore(unit, peers, specAffinity(spec))
	if score == affinity.RequiredAffinityNotMet {
		return 0, false
	}
	return score, true
}

func specAffinity(spec *types.RequestSpec) *types.AffinitySpec {
	if spec.Affinity == nil {
		return &types.AffinitySpec{}
	}
	return spec.Affinity
}

// isInstancePreemptable reports whether victim may be evicted to make
// room for candidate, per IsInstancePreemptable: the victim must
// allow preemption, the candidate must strictly outrank it, and if
// the candidate has required instance affinity, the victim must
// satisfy it (evicting an instance the candidate depends on being
// near would be self-defeating).
func isInstancePreemptable(victim *types.Instance, spec *types.RequestSpec) bool {
	if !allowsPreemption(victim.State) {
		return false
	}
	if spec.Priority <= victim.Priority {
		return false
	}
	if sel := specAffinity(spec).RequiredInstanceAffinity; sel != nil {
		victimLabels := affinity.PeerLabels([]*types.Instance{victim})
		if !affinity.RequiredFilter(sel, victimLabels) {
			return false
		}
	}
	return true
}

// allowsPreemption reports whether an instance in this state is
// eligible to be preempted at all (only running/scheduled work is a
// candidate victim).
func allowsPreemption(s types.InstanceState) bool {
	return s == types.InstanceStateRunning || s == types.InstanceStateScheduled
}

// victimLess implements InstanceAffinityComparator: lower priority
// sorts first; ties broken by lower instance-affinity score (less
// useful to keep), then higher resource usage (frees more), then
// higher instance ID (stable tiebreak).
func victimLess(candidate *types.Instance, spec *types.RequestSpec, l, r *types.Instance) bool {
	if l.Priority != r.Priority {
		return l.Priority < r.Priority
	}
	lScore := affinity.CalculateInstanceAffinityScore(nil, []*types.Instance{l}, specAffinity(spec))
	rScore := affinity.CalculateInstanceAffinityScore(nil, []*types.Instance{r}, specAffinity(spec))
	if lScore != rScore {
		return lScore < rScore
	}
	lUsage := sumDemand(l.ResourceDemand)
	rUsage := sumDemand(r.ResourceDemand)
	if lUsage != rUsage {
		return lUsage > rUsage
	}
	return l.ID > r.ID
}

func sumDemand(d map[string]int64) int64 {
	var total int64
	for _, v := range d {
		total += v
	}
	return total
}

// chooseInstancesToPreempt finds the minimal, priority-ordered victim
// set on unit that frees enough capacity for spec's demand.
func chooseInstancesToPreempt(unit *types.ResourceUnit, peers []*types.Instance, candidate *types.Instance, spec *types.RequestSpec, score int64) (candidateUnit, bool) {
	var eligible []*types.Instance
	for _, p := range peers {
		if isInstancePreemptable(p, spec) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return candidateUnit{}, false
	}
	sort.Slice(eligible, func(i, j int) bool { return victimLess(candidate, spec, eligible[i], eligible[j]) })

	avail := unit.Available()
	demand := spec.ResourceDemand[unit.Kind]
	var chosen []*types.Instance
	var preemptedTotal int64
	for _, victim := range eligible {
		avail += victim.ResourceDemand[unit.Kind]
		preemptedTotal += victim.ResourceDemand[unit.Kind]
		chosen = append(chosen, victim)
		if demand <= avail {
			break
		}
	}
	if demand > avail {
		return candidateUnit{}, false
	}

	// Required instance (anti-)affinity must hold against the unit as
	// it would look after these victims are actually gone: a required
	// anti-affinity label the victim set doesn't remove (carried by a
	// peer that is staying) still disqualifies the unit, even though
	// it was never checked against the pre-removal peer set.
	remainingPeers := subtract(peers, chosen)
	instanceScore := affinity.CalculateInstanceAffinityScore(unit, remainingPeers, specAffinity(spec))
	if instanceScore == affinity.RequiredAffinityNotMet {
		return candidateUnit{}, false
	}
	score += instanceScore
	return candidateUnit{
		unitID:             unit.ID,
		score:              score,
		preemptedInstances: chosen,
		preemptedResources: preemptedTotal,
	}, true
}

func subtract(all, remove []*types.Instance) []*types.Instance {
	removeSet := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removeSet[r.ID] = struct{}{}
	}
	var out []*types.Instance
	for _, i := range all {
		if _, ok := removeSet[i.ID]; !ok {
			out = append(out, i)
		}
	}
	return out
}
