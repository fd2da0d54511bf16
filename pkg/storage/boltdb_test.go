package storage_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCreateGetListInstance(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	inst := &types.Instance{ID: "inst-1", FunctionName: "fn", State: types.InstanceStateRunning, GroupID: "g1", UnitID: "u1"}
	require.NoError(t, store.CreateInstance(inst))

	got, err := store.GetInstance("inst-1")
	require.NoError(t, err)
	require.Equal(t, inst.FunctionName, got.FunctionName)

	byGroup, err := store.ListInstancesByGroup("g1")
	require.NoError(t, err)
	require.Len(t, byGroup, 1)

	byUnit, err := store.ListInstancesByUnit("u1")
	require.NoError(t, err)
	require.Len(t, byUnit, 1)

	require.NoError(t, store.DeleteInstance("inst-1"))
	_, err = store.GetInstance("inst-1")
	require.Error(t, err)
}

func TestResourceUnitUpsertAndListByNode(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	unit := &types.ResourceUnit{ID: "u1", NodeID: "n1", Kind: "cpu", Capacity: 4}
	require.NoError(t, store.CreateResourceUnit(unit))
	unit.Used = 2
	require.NoError(t, store.UpdateResourceUnit(unit))

	got, err := store.GetResourceUnit("u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Used)

	byNode, err := store.ListResourceUnitsByNode("n1")
	require.NoError(t, err)
	require.Len(t, byNode, 1)
}

func TestGroupAndObjectRefLifecycle(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	group := &types.Group{ID: "g1", Name: "range-1", State: types.GroupStateRunning}
	require.NoError(t, store.CreateGroup(group))
	groups, err := store.ListGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	ref := &types.ObjectRef{ID: "obj-1", State: types.ObjectStateReady}
	require.NoError(t, store.CreateObjectRef(ref))
	refs, err := store.ListObjectRefs()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.NoError(t, store.DeleteObjectRef("obj-1"))
}
