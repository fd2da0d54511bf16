package rangegroup_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/rangegroup"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBuildRangeMembersReplicatesSpec(t *testing.T) {
	spec := &types.RequestSpec{FunctionName: "fn", Priority: 5}
	members := rangegroup.BuildRangeMembers(spec, 3)
	require.Len(t, members, 3)
	for _, m := range members {
		require.Equal(t, "fn", m.FunctionName)
		require.NotSame(t, spec, m)
	}
}

func TestBuildFunctionGroupMembersAssignsBundleAffinity(t *testing.T) {
	specs := make([]*types.RequestSpec, 4)
	for i := range specs {
		specs[i] = &types.RequestSpec{FunctionName: "fn"}
	}
	members := rangegroup.BuildFunctionGroupMembers("mygroup", specs, 2)
	require.Len(t, members, 4)

	require.Nil(t, members[0].Affinity.RequiredInstanceAffinity)
	require.NotNil(t, members[1].Affinity.RequiredInstanceAffinity)
	require.Equal(t, "mygroup_bundle_0", members[1].Affinity.RequiredInstanceAffinity.Terms[0].Expressions[0].Key)

	require.Nil(t, members[2].Affinity.RequiredInstanceAffinity)
	require.NotNil(t, members[3].Affinity.RequiredInstanceAffinity)
	require.Equal(t, "mygroup_bundle_1", members[3].Affinity.RequiredInstanceAffinity.Terms[0].Expressions[0].Key)
}

func TestPartitionReturnIDsEvenSplit(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	parts := rangegroup.PartitionReturnIDs(ids, 3)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e", "f"}}, parts)
}

func TestPartitionReturnIDsRemainderGoesToLastMember(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	parts := rangegroup.PartitionReturnIDs(ids, 2)
	require.Equal(t, []string{"a", "b"}, parts[0])
	require.Equal(t, []string{"c", "d", "e"}, parts[1])
}

func TestOpenAccelerateHandlesOnePerInstance(t *testing.T) {
	handles := rangegroup.OpenAccelerateHandles([]string{"i1", "i2"})
	require.Len(t, handles, 2)
	require.Equal(t, "accel-i1", handles[0].QueueHandle)
}
