// Package affinity evaluates the selector grammar used throughout
// scheduling: required filters (hard pass/fail) and preferred scorers
// (weighted), applied against a resource unit's label multiset or a
// candidate instance's peers.
//
// Grounded on
// original_source/functionsystem/.../label_affinity_utils.h: the same
// function set (RequiredFilter/RequiredAntiFilter/AffinityScorer/
// AntiAffinityScorer/CalculateInstanceAffinityScore/
// CalculateResourceAffinityScore) reappears here with the same names
// and the same -1 "not met" sentinel for required-but-failed checks.
package affinity

import "github.com/cuemby/nimbus/pkg/types"

const (
	// RequiredAffinityNotMet is returned by scorers when a required
	// expression fails; callers must treat this as outright
	// infeasible, not as a low score.
	RequiredAffinityNotMet int64 = -1
	ZeroScore              int64 = 0
)

// IsLabelInValues reports whether key is present in labels with at
// least one value present in values.
func IsLabelInValues(labels map[string][]string, key string, values []string) bool {
	have, ok := labels[key]
	if !ok {
		return false
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	for _, v := range have {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// IsMatchLabelExpression evaluates one LabelExpression against a
// label multiset.
func IsMatchLabelExpression(labels map[string][]string, expr types.LabelExpression) bool {
	switch expr.Operator {
	case types.AffinityIn:
		return IsLabelInValues(labels, expr.Key, expr.Values)
	case types.AffinityNotIn:
		return !IsLabelInValues(labels, expr.Key, expr.Values)
	case types.AffinityExists:
		_, ok := labels[expr.Key]
		return ok
	case types.AffinityNotExists:
		_, ok := labels[expr.Key]
		return !ok
	default:
		return false
	}
}

// IsAffinityPriority reports whether selector carries any weighted
// (preferred) term, as opposed to a purely required selector.
func IsAffinityPriority(sel *types.AffinitySelector) bool {
	if sel == nil {
		return false
	}
	for _, t := range sel.Terms {
		if t.Weight > 0 {
			return true
		}
	}
	return false
}

func matchTerm(labels map[string][]string, term types.AffinityTerm) bool {
	for _, expr := range term.Expressions {
		if !IsMatchLabelExpression(labels, expr) {
			return false
		}
	}
	return true
}

// RequiredFilter reports whether any term of sel matches labels (terms
// are disjunctive). A nil selector always passes.
func RequiredFilter(sel *types.AffinitySelector, labels map[string][]string) bool {
	if sel == nil || len(sel.Terms) == 0 {
		return true
	}
	for _, t := range sel.Terms {
		if matchTerm(labels, t) {
			return true
		}
	}
	return false
}

// RequiredAntiFilter reports whether NO term of sel matches labels.
func RequiredAntiFilter(sel *types.AffinitySelector, labels map[string][]string) bool {
	if sel == nil || len(sel.Terms) == 0 {
		return true
	}
	for _, t := range sel.Terms {
		if matchTerm(labels, t) {
			return false
		}
	}
	return true
}

// AffinityScorer sums the weight of every matching term.
func AffinityScorer(sel *types.AffinitySelector, labels map[string][]string) int64 {
	if sel == nil {
		return ZeroScore
	}
	var score int64
	for _, t := range sel.Terms {
		if matchTerm(labels, t) {
			score += int64(t.Weight)
		}
	}
	return score
}

// AntiAffinityScorer sums the weight of every term that does NOT
// match labels (rewarding distance from the selector).
func AntiAffinityScorer(sel *types.AffinitySelector, labels map[string][]string) int64 {
	if sel == nil {
		return ZeroScore
	}
	var score int64
	for _, t := range sel.Terms {
		if !matchTerm(labels, t) {
			score += int64(t.Weight)
		}
	}
	return score
}

// UnitLabels is the label multiset a resource unit exposes: its own
// labels plus a synthesized "node" key so selectors can target a
// specific node by ID.
func UnitLabels(u *types.ResourceUnit) map[string][]string {
	labels := make(map[string][]string, len(u.Labels)+1)
	for k, v := range u.Labels {
		labels[k] = v
	}
	labels["node"] = append(labels["node"], u.NodeID)
	labels["unit"] = append(labels["unit"], u.ID)
	return labels
}

// PeerLabels builds the label multiset formed by a set of candidate
// peer instances, keyed by "function" (function name) and "group"
// (group ID), used when evaluating instance-level (anti-)affinity.
func PeerLabels(peers []*types.Instance) map[string][]string {
	labels := map[string][]string{}
	for _, p := range peers {
		labels["function"] = append(labels["function"], p.FunctionName)
		if p.GroupID != "" {
			labels["group"] = append(labels["group"], p.GroupID)
		}
		for k, v := range p.Labels {
			labels[k] = append(labels[k], v)
		}
	}
	return labels
}

// IsResourceRequiredAffinityPassed checks a candidate unit against a
// request's required resource-affinity/anti-affinity and the peer
// instances already occupying that unit against required
// instance-(anti-)affinity. Returns false if any required check
// fails.
func IsResourceRequiredAffinityPassed(unit *types.ResourceUnit, peers []*types.Instance, spec *types.AffinitySpec) bool {
	if spec == nil {
		return true
	}
	unitLabels := UnitLabels(unit)
	if !RequiredFilter(spec.RequiredResourceAffinity, unitLabels) {
		return false
	}
	peerLabels := PeerLabels(peers)
	if !RequiredFilter(spec.RequiredInstanceAffinity, peerLabels) {
		return false
	}
	if !RequiredAntiFilter(spec.RequiredInstanceAntiAffinity, peerLabels) {
		return false
	}
	return true
}

// CalculateResourceAffinityScore scores a candidate unit's preferred
// resource affinity. Returns RequiredAffinityNotMet if the unit fails
// a required check (callers must treat this as infeasible, not low).
func CalculateResourceAffinityScore(unit *types.ResourceUnit, peers []*types.Instance, spec *types.AffinitySpec) int64 {
	if spec == nil {
		return ZeroScore
	}
	unitLabels := UnitLabels(unit)
	if !RequiredFilter(spec.RequiredResourceAffinity, unitLabels) {
		return RequiredAffinityNotMet
	}
	return AffinityScorer(spec.PreferredResourceAffinity, unitLabels)
}

// CalculateInstanceAffinityScore scores a candidate placement's
// preferred instance affinity/anti-affinity against the instances
// already on the unit. Returns RequiredAffinityNotMet on a required
// check failure.
func CalculateInstanceAffinityScore(unit *types.ResourceUnit, peers []*types.Instance, spec *types.AffinitySpec) int64 {
	if spec == nil {
		return ZeroScore
	}
	peerLabels := PeerLabels(peers)
	if !RequiredFilter(spec.RequiredInstanceAffinity, peerLabels) {
		return RequiredAffinityNotMet
	}
	if !RequiredAntiFilter(spec.RequiredInstanceAntiAffinity, peerLabels) {
		return RequiredAffinityNotMet
	}
	score := AffinityScorer(spec.PreferredInstanceAffinity, peerLabels)
	score += AntiAffinityScorer(spec.PreferredInstanceAntiAffinity, peerLabels)
	return score
}
