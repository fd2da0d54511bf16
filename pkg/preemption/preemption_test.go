package preemption_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/preemption"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestDecidePreemptsLowerPriorityVictim(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4, Used: 4}
	victim := &types.Instance{ID: "low", Priority: 1, State: types.InstanceStateRunning, ResourceDemand: map[string]int64{"cpu": 4}}
	ctx := &types.ScheduleContext{
		Units:     []*types.ResourceUnit{unit},
		Instances: map[string][]*types.Instance{"u1": {victim}},
	}
	candidate := &types.Instance{ID: "cand", Priority: 10}
	spec := &types.RequestSpec{Priority: 10, PreemptAllowed: true, ResourceDemand: map[string]int64{"cpu": 4}}

	res, err := preemption.Decide(ctx, candidate, spec)
	require.NoError(t, err)
	require.Equal(t, "u1", res.UnitID)
	require.Len(t, res.PreemptedInstances, 1)
	require.Equal(t, "low", res.PreemptedInstances[0].ID)
}

func TestDecideFailsWhenVictimHasEqualPriority(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4, Used: 4}
	victim := &types.Instance{ID: "peer", Priority: 10, State: types.InstanceStateRunning, ResourceDemand: map[string]int64{"cpu": 4}}
	ctx := &types.ScheduleContext{
		Units:     []*types.ResourceUnit{unit},
		Instances: map[string][]*types.Instance{"u1": {victim}},
	}
	candidate := &types.Instance{ID: "cand", Priority: 10}
	spec := &types.RequestSpec{Priority: 10, ResourceDemand: map[string]int64{"cpu": 4}}

	_, err := preemption.Decide(ctx, candidate, spec)
	require.ErrorIs(t, err, preemption.ErrNoPreemptableInstance)
}

func TestDecideSucceedsWhenAntiAffinityLabelLeavesWithTheVictim(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4, Used: 4}
	low := &types.Instance{
		ID: "low", Priority: 1, State: types.InstanceStateRunning,
		ResourceDemand: map[string]int64{"cpu": 4}, Labels: map[string]string{"foo": "bar"},
	}
	ctx := &types.ScheduleContext{
		Units:     []*types.ResourceUnit{unit},
		Instances: map[string][]*types.Instance{"u1": {low}},
	}
	candidate := &types.Instance{ID: "hi", Priority: 5}
	spec := &types.RequestSpec{
		Priority: 5, PreemptAllowed: true, ResourceDemand: map[string]int64{"cpu": 4},
		Affinity: &types.AffinitySpec{RequiredInstanceAntiAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
			{Expressions: []types.LabelExpression{{Key: "foo", Operator: types.AffinityExists}}},
		}}},
	}

	res, err := preemption.Decide(ctx, candidate, spec)
	require.NoError(t, err)
	require.Equal(t, "u1", res.UnitID)
	require.Len(t, res.PreemptedInstances, 1)
	require.Equal(t, "low", res.PreemptedInstances[0].ID)
}

func TestDecideFailsWhenAntiAffinityLabelSurvivesOnANonPreemptablePeer(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 8, Used: 8}
	low := &types.Instance{
		ID: "low", Priority: 1, State: types.InstanceStateRunning,
		ResourceDemand: map[string]int64{"cpu": 4}, Labels: map[string]string{"foo": "bar"},
	}
	stays := &types.Instance{
		ID: "stays", Priority: 10, State: types.InstanceStateRunning,
		ResourceDemand: map[string]int64{"cpu": 4}, Labels: map[string]string{"foo": "baz"},
	}
	ctx := &types.ScheduleContext{
		Units:     []*types.ResourceUnit{unit},
		Instances: map[string][]*types.Instance{"u1": {low, stays}},
	}
	candidate := &types.Instance{ID: "hi", Priority: 5}
	spec := &types.RequestSpec{
		Priority: 5, PreemptAllowed: true, ResourceDemand: map[string]int64{"cpu": 4},
		Affinity: &types.AffinitySpec{RequiredInstanceAntiAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
			{Expressions: []types.LabelExpression{{Key: "foo", Operator: types.AffinityExists}}},
		}}},
	}

	_, err := preemption.Decide(ctx, candidate, spec)
	require.ErrorIs(t, err, preemption.ErrNoPreemptableInstance)
}

func TestDecidePicksFewestVictims(t *testing.T) {
	unitA := &types.ResourceUnit{ID: "a", Kind: "cpu", Capacity: 4, Used: 4}
	unitB := &types.ResourceUnit{ID: "b", Kind: "cpu", Capacity: 8, Used: 8}
	victimA := &types.Instance{ID: "va", Priority: 1, State: types.InstanceStateRunning, ResourceDemand: map[string]int64{"cpu": 4}}
	victimB1 := &types.Instance{ID: "vb1", Priority: 1, State: types.InstanceStateRunning, ResourceDemand: map[string]int64{"cpu": 2}}
	victimB2 := &types.Instance{ID: "vb2", Priority: 1, State: types.InstanceStateRunning, ResourceDemand: map[string]int64{"cpu": 2}}

	ctx := &types.ScheduleContext{
		Units: []*types.ResourceUnit{unitA, unitB},
		Instances: map[string][]*types.Instance{
			"a": {victimA},
			"b": {victimB1, victimB2},
		},
	}
	candidate := &types.Instance{ID: "cand", Priority: 10}
	spec := &types.RequestSpec{Priority: 10, ResourceDemand: map[string]int64{"cpu": 4}}

	res, err := preemption.Decide(ctx, candidate, spec)
	require.NoError(t, err)
	require.Equal(t, "a", res.UnitID)
	require.Len(t, res.PreemptedInstances, 1)
}
