// Package fairness implements the Fairness Policy: it prevents a
// low-priority request from starving behind a flood of pending
// same-shape requests by refusing to schedule anything that looks
// like it would contend with already-pending demand at an equal or
// higher priority.
//
// Grounded directly on
// original_source/functionsystem/.../fairness_policy.cpp: the
// per-priority affinity-count map, the "empty" sentinel for
// no-affinity pending requests (which are treated as consuming all
// resources, so they block everything), and the
// CanSchedule/PrepareForScheduling/StorePendingInfo/ClearPendingInfos
// method names and semantics are kept exactly.
package fairness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/nimbus/pkg/types"
)

// emptyPendingAffinity is the sentinel key for a pending request with
// no required resource affinity/anti-affinity — it is treated as
// capable of consuming any resource, so it conflicts with everything
// at its priority or below.
const emptyPendingAffinity = "empty"

// Policy tracks, per priority level, how many pending requests exist
// for each distinct required-resource-affinity shape.
type Policy struct {
	// pendingReqAffinityCount[priority][affinityKey] = count
	pendingReqAffinityCount map[int32]map[string]int
	// pendingAffinitySelectors[priority] merges the required
	// resource-affinity terms of every pending request at that
	// priority, mirroring pendingReqAffinityMap_ in the original —
	// built solely so PrepareForScheduling can hand it back to the
	// scheduler for placement-side reservation.
	pendingAffinitySelectors map[int32]*types.AffinitySelector
}

// New returns an empty Policy.
func New() *Policy {
	return &Policy{
		pendingReqAffinityCount:  make(map[int32]map[string]int),
		pendingAffinitySelectors: make(map[int32]*types.AffinitySelector),
	}
}

// mergeAffinitySelector folds the terms of from into into, skipping
// any term already present (by termKey), mirroring
// AddPendingAffinityToInstance's MergeFrom of repeated resource terms.
func mergeAffinitySelector(into, from *types.AffinitySelector) *types.AffinitySelector {
	if from == nil || len(from.Terms) == 0 {
		return into
	}
	if into == nil {
		into = &types.AffinitySelector{}
	}
	seen := make(map[string]struct{}, len(into.Terms))
	for _, t := range into.Terms {
		seen[termKey(t)] = struct{}{}
	}
	for _, t := range from.Terms {
		key := termKey(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		into.Terms = append(into.Terms, t)
	}
	return into
}

// serializeResourceAffinity canonicalizes a spec's required resource
// affinity into a comparable string, ignoring preferred (weighted)
// terms — only required constraints narrow what a request can
// conflict with.
func serializeResourceAffinity(spec *types.RequestSpec) string {
	if spec == nil || spec.Affinity == nil || spec.Affinity.RequiredResourceAffinity == nil ||
		len(spec.Affinity.RequiredResourceAffinity.Terms) == 0 {
		return emptyPendingAffinity
	}
	var sb strings.Builder
	terms := append([]types.AffinityTerm(nil), spec.Affinity.RequiredResourceAffinity.Terms...)
	sort.Slice(terms, func(i, j int) bool { return termKey(terms[i]) < termKey(terms[j]) })
	for _, t := range terms {
		sb.WriteString(termKey(t))
		sb.WriteByte(';')
	}
	return sb.String()
}

func termKey(t types.AffinityTerm) string {
	exprs := append([]types.LabelExpression(nil), t.Expressions...)
	sort.Slice(exprs, func(i, j int) bool { return exprs[i].Key < exprs[j].Key })
	var sb strings.Builder
	for _, e := range exprs {
		values := append([]string(nil), e.Values...)
		sort.Strings(values)
		fmt.Fprintf(&sb, "%s:%s:%s,", e.Key, e.Operator, strings.Join(values, "|"))
	}
	return sb.String()
}

// representativeSpecs returns the RequestSpecs StorePendingInfo/
// HasSimilarPendingRequest should evaluate: the single spec for an
// instance item, only the first member's spec for a range (fungible
// replicas), or every member's spec for a heterogeneous group.
func representativeSpecs(item *types.QueueItem) []*types.RequestSpec {
	if item.Kind == types.QueueItemInstance {
		return []*types.RequestSpec{item.Spec}
	}
	if len(item.GroupSpecs) == 0 {
		return nil
	}
	if item.IsRange {
		return item.GroupSpecs[:1]
	}
	return item.GroupSpecs
}

// existNonAffinityPendingAtOrAbove reports whether any priority >=
// priority has a pending request with no required resource affinity
// at all — such a request is assumed to be able to consume any
// resource, so it conflicts with every new request regardless of that
// request's own affinity.
func (p *Policy) existNonAffinityPendingAtOrAbove(priority int32) bool {
	for prio, counts := range p.pendingReqAffinityCount {
		if prio < priority {
			continue
		}
		if counts[emptyPendingAffinity] > 0 {
			return true
		}
	}
	return false
}

func (p *Policy) hasSimilarResourceDemand(spec *types.RequestSpec) bool {
	priority := spec.Priority
	if p.existNonAffinityPendingAtOrAbove(priority) {
		return true
	}
	key := serializeResourceAffinity(spec)
	for prio, counts := range p.pendingReqAffinityCount {
		if prio < priority {
			continue
		}
		if counts[key] > 0 {
			return true
		}
	}
	return false
}

// HasSimilarPendingRequest reports whether item would contend with an
// already-pending request of equal or higher priority.
func (p *Policy) HasSimilarPendingRequest(item *types.QueueItem) bool {
	for _, spec := range representativeSpecs(item) {
		if spec == nil {
			continue
		}
		if p.hasSimilarResourceDemand(spec) {
			return true
		}
	}
	return false
}

// CanSchedule reports whether item is clear to schedule right now.
func (p *Policy) CanSchedule(item *types.QueueItem) bool {
	return !p.HasSimilarPendingRequest(item)
}

// StorePendingInfo records item as pending, incrementing the
// per-priority affinity-shape counter(s) it occupies.
func (p *Policy) StorePendingInfo(item *types.QueueItem) {
	for _, spec := range representativeSpecs(item) {
		if spec == nil {
			continue
		}
		priority := spec.Priority
		key := serializeResourceAffinity(spec)
		if p.pendingReqAffinityCount[priority] == nil {
			p.pendingReqAffinityCount[priority] = make(map[string]int)
		}
		p.pendingReqAffinityCount[priority][key]++

		// Only requests with an actual required-affinity shape are
		// worth reserving units for; the "empty" sentinel already
		// blocks everything via existNonAffinityPendingAtOrAbove and
		// has no terms to propagate.
		if key != emptyPendingAffinity && spec.Affinity != nil {
			p.pendingAffinitySelectors[priority] = mergeAffinitySelector(
				p.pendingAffinitySelectors[priority], spec.Affinity.RequiredResourceAffinity)
		}
	}
}

// PrepareForScheduling attaches to item the merged required-resource-
// affinity terms of every pending request at item's priority or above,
// mirroring AddPendingAffinityToInstance/AddPendingAffinityToGroup:
// the scheduler's place uses this to avoid placing item onto a unit
// that one of those pending, affinity-bound requests specifically
// needs, so it isn't starved out once it is promoted back to running.
func (p *Policy) PrepareForScheduling(item *types.QueueItem) {
	var merged *types.AffinitySelector
	for priority, sel := range p.pendingAffinitySelectors {
		if priority < item.Priority {
			continue
		}
		merged = mergeAffinitySelector(merged, sel)
	}
	item.PendingResourceAffinity = merged
}

// ClearPendingInfos resets all bookkeeping, called at the start of
// every ActivatePendingRequests pass.
func (p *Policy) ClearPendingInfos() {
	p.pendingReqAffinityCount = make(map[int32]map[string]int)
	p.pendingAffinitySelectors = make(map[int32]*types.AffinitySelector)
}
