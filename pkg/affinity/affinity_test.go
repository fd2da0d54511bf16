package affinity_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/affinity"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func gpuTerm() types.AffinityTerm {
	return types.AffinityTerm{
		Expressions: []types.LabelExpression{
			{Key: "gpu", Operator: types.AffinityIn, Values: []string{"a100", "h100"}},
		},
		Weight: 10,
	}
}

func TestRequiredFilterMatchesOnAnyTerm(t *testing.T) {
	sel := &types.AffinitySelector{Terms: []types.AffinityTerm{gpuTerm()}}
	require.True(t, affinity.RequiredFilter(sel, map[string][]string{"gpu": {"h100"}}))
	require.False(t, affinity.RequiredFilter(sel, map[string][]string{"gpu": {"v100"}}))
}

func TestRequiredFilterNilSelectorAlwaysPasses(t *testing.T) {
	require.True(t, affinity.RequiredFilter(nil, map[string][]string{}))
}

func TestCalculateResourceAffinityScoreNotMet(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", NodeID: "n1", Labels: map[string][]string{"gpu": {"v100"}}}
	spec := &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{gpuTerm()}}}
	require.Equal(t, affinity.RequiredAffinityNotMet, affinity.CalculateResourceAffinityScore(unit, nil, spec))
}

func TestCalculateResourceAffinityScorePreferred(t *testing.T) {
	unit := &types.ResourceUnit{ID: "u1", NodeID: "n1", Labels: map[string][]string{"gpu": {"h100"}}}
	spec := &types.AffinitySpec{PreferredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{gpuTerm()}}}
	require.Equal(t, int64(10), affinity.CalculateResourceAffinityScore(unit, nil, spec))
}

func TestAntiAffinityScorerRewardsNonMatch(t *testing.T) {
	sel := &types.AffinitySelector{Terms: []types.AffinityTerm{
		{Expressions: []types.LabelExpression{{Key: "function", Operator: types.AffinityIn, Values: []string{"hot-path"}}}, Weight: 5},
	}}
	labels := map[string][]string{"function": {"other"}}
	require.Equal(t, int64(5), affinity.AntiAffinityScorer(sel, labels))
}
