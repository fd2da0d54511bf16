// Package rangegroup implements Function-Group Ranges: building the
// member request set for a "range" or "function-group" Create call and
// partitioning return objects across members for a subsequent fan-out
// invoke.
package rangegroup

import (
	"fmt"

	"github.com/cuemby/nimbus/pkg/types"
)

// BundleLabel returns the synthesized co-location label for member
// index i of a function-group sized bundleSize within groupName:
// "{groupName}_bundle_{i/bundleSize}".
func BundleLabel(groupName string, i, bundleSize int) string {
	return fmt.Sprintf("%s_bundle_%d", groupName, i/bundleSize)
}

// BuildRangeMembers builds the member spec list for a "range" create:
// a single body request replicated count times, sharing one
// group-options envelope (same-lifecycle, groupName). Ranges are
// fungible, so every member carries an identical RequestSpec.
func BuildRangeMembers(spec *types.RequestSpec, count int) []*types.RequestSpec {
	members := make([]*types.RequestSpec, count)
	for i := range members {
		cp := *spec
		members[i] = &cp
	}
	return members
}

// BuildFunctionGroupMembers fans a function-group create out into N
// member specs partitioned into bundles of bundleSize. The first
// member of each bundle declares BundleLabel via a required
// self-affinity label (carried in Labels, consumed by the scheduler's
// label-affinity matching); subsequent bundle members require that
// same label as an instance affinity term, causing the scheduler to
// co-locate the whole bundle.
func BuildFunctionGroupMembers(groupName string, memberSpecs []*types.RequestSpec, bundleSize int) []*types.RequestSpec {
	if bundleSize <= 0 {
		bundleSize = 1
	}
	members := make([]*types.RequestSpec, len(memberSpecs))
	for i, spec := range memberSpecs {
		cp := *spec
		label := BundleLabel(groupName, i, bundleSize)
		cp.Affinity = withBundleAffinity(spec.Affinity, label, i%bundleSize == 0)
		members[i] = &cp
	}
	return members
}

// withBundleAffinity returns a copy of base with a required instance
// affinity term added for label. isDeclaring members do not need the
// affinity term themselves since the label is their own identity; only
// followers require it.
func withBundleAffinity(base *types.AffinitySpec, label string, isDeclaring bool) *types.AffinitySpec {
	var out types.AffinitySpec
	if base != nil {
		out = *base
	}
	if isDeclaring {
		return &out
	}
	term := types.AffinityTerm{
		Expressions: []types.LabelExpression{
			{Key: label, Operator: types.AffinityExists},
		},
	}
	if out.RequiredInstanceAffinity == nil {
		out.RequiredInstanceAffinity = &types.AffinitySelector{}
	}
	out.RequiredInstanceAffinity.Terms = append(out.RequiredInstanceAffinity.Terms, term)
	return &out
}

// PartitionReturnIDs evenly partitions returnIDs across memberCount
// instances for a fan-out invoke. Any remainder goes to the last
// member.
func PartitionReturnIDs(returnIDs []string, memberCount int) [][]string {
	if memberCount <= 0 {
		return nil
	}
	out := make([][]string, memberCount)
	base := len(returnIDs) / memberCount
	rem := len(returnIDs) % memberCount
	idx := 0
	for i := 0; i < memberCount; i++ {
		n := base
		if i == memberCount-1 {
			n += rem
		}
		out[i] = returnIDs[idx : idx+n]
		idx += n
	}
	return out
}

// AccelerateGroup is the optional shared-memory acceleration path: it
// substitutes a notification-bus handshake for a real shared-memory
// segment, giving every member a queue handle the caller can pump
// callbacks through without the server round-tripping each
// invocation.
type AccelerateGroup struct {
	InstanceID string
	QueueHandle string
}

// OpenAccelerateHandles returns one handle per member instance ID,
// derived deterministically so both ends can agree on the queue name
// without an extra RPC.
func OpenAccelerateHandles(instanceIDs []string) []AccelerateGroup {
	handles := make([]AccelerateGroup, len(instanceIDs))
	for i, id := range instanceIDs {
		handles[i] = AccelerateGroup{InstanceID: id, QueueHandle: "accel-" + id}
	}
	return handles
}
