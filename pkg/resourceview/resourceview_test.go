package resourceview_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/resourceview"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestAddAndRemoveInstancesAdjustsUsed(t *testing.T) {
	v := resourceview.New()
	v.AddResourceUnit(&types.ResourceUnit{ID: "u1", NodeID: "n1", Kind: "cpu", Capacity: 8})

	inst := &types.Instance{ID: "i1", ResourceDemand: map[string]int64{"cpu": 2}}
	v.AddInstances("u1", inst)

	require.Equal(t, int64(2), v.Unit("u1").Used)
	require.Equal(t, int64(6), v.Unit("u1").Available())

	v.RemoveInstances("u1", "i1")
	require.Equal(t, int64(0), v.Unit("u1").Used)
}

func TestRemoveResourceUnitDropsOccupants(t *testing.T) {
	v := resourceview.New()
	v.AddResourceUnit(&types.ResourceUnit{ID: "u1", Capacity: 4})
	v.AddInstances("u1", &types.Instance{ID: "i1"})
	v.RemoveResourceUnit("u1")
	require.Nil(t, v.Unit("u1"))
	require.Empty(t, v.Instances("u1"))
}

func TestSnapshotIsPointInTimeCopy(t *testing.T) {
	v := resourceview.New()
	v.AddResourceUnit(&types.ResourceUnit{ID: "u1", Capacity: 4})
	snap := v.Snapshot()
	v.UpdateUnit("u1", func(u *types.ResourceUnit) { u.Capacity = 100 })
	require.Equal(t, int64(4), snap.Units[0].Capacity)
}
