package fairness_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/fairness"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func instanceItem(priority int32, affinity *types.AffinitySpec) *types.QueueItem {
	return types.NewQueueItem(types.QueueItemInstance, priority, &types.RequestSpec{Priority: priority, Affinity: affinity})
}

func TestNoAffinityPendingBlocksEverythingAtOrAbovePriority(t *testing.T) {
	p := fairness.New()
	p.StorePendingInfo(instanceItem(5, nil))

	require.False(t, p.CanSchedule(instanceItem(5, nil)))
	require.False(t, p.CanSchedule(instanceItem(10, &types.AffinitySpec{
		RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
			{Expressions: []types.LabelExpression{{Key: "gpu", Operator: types.AffinityIn, Values: []string{"a100"}}}},
		}},
	})))
	require.True(t, p.CanSchedule(instanceItem(3, nil)))
}

func TestMatchingAffinityShapeBlocks(t *testing.T) {
	p := fairness.New()
	spec := &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
		{Expressions: []types.LabelExpression{{Key: "gpu", Operator: types.AffinityIn, Values: []string{"a100"}}}},
	}}}
	p.StorePendingInfo(instanceItem(5, spec))

	require.False(t, p.CanSchedule(instanceItem(5, spec)))

	other := &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
		{Expressions: []types.LabelExpression{{Key: "gpu", Operator: types.AffinityIn, Values: []string{"h100"}}}},
	}}}
	require.True(t, p.CanSchedule(instanceItem(5, other)))
}

func TestClearPendingInfosResetsState(t *testing.T) {
	p := fairness.New()
	p.StorePendingInfo(instanceItem(5, nil))
	p.ClearPendingInfos()
	require.True(t, p.CanSchedule(instanceItem(5, nil)))
}

func TestPrepareForSchedulingAttachesPendingAffinityAtOrAbovePriority(t *testing.T) {
	p := fairness.New()
	gpuAffinity := &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
		{Expressions: []types.LabelExpression{{Key: "gpu", Operator: types.AffinityIn, Values: []string{"a100"}}}},
	}}}
	p.StorePendingInfo(instanceItem(5, gpuAffinity))

	higher := instanceItem(10, nil)
	p.PrepareForScheduling(higher)
	require.NotNil(t, higher.PendingResourceAffinity)
	require.Len(t, higher.PendingResourceAffinity.Terms, 1)

	lower := instanceItem(1, nil)
	p.PrepareForScheduling(lower)
	require.Nil(t, lower.PendingResourceAffinity)
}

func TestPrepareForSchedulingIgnoresEmptyAffinityPending(t *testing.T) {
	p := fairness.New()
	p.StorePendingInfo(instanceItem(5, nil))

	item := instanceItem(5, nil)
	p.PrepareForScheduling(item)
	require.Nil(t, item.PendingResourceAffinity)
}

func TestRangeGroupOnlyConsidersFirstMember(t *testing.T) {
	p := fairness.New()
	group := types.NewQueueItem(types.QueueItemGroup, 5, nil)
	group.IsRange = true
	group.GroupSpecs = []*types.RequestSpec{
		{Priority: 5},
		{Priority: 5, Affinity: &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
			{Expressions: []types.LabelExpression{{Key: "gpu", Operator: types.AffinityIn, Values: []string{"a100"}}}},
		}}}},
	}
	p.StorePendingInfo(group)
	require.False(t, p.CanSchedule(instanceItem(5, nil)))
}
