package groupmanager_test

import (
	"sync"
	"testing"

	"github.com/cuemby/nimbus/pkg/groupmanager"
	"github.com/cuemby/nimbus/pkg/notifybus"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

type neverLeader struct{}

func (neverLeader) IsLeader() bool { return false }

func TestFatalGroupCascadesKillToOtherMembers(t *testing.T) {
	var mu sync.Mutex
	killed := map[string]string{}
	kill := func(instanceID, reason string) error {
		mu.Lock()
		defer mu.Unlock()
		killed[instanceID] = reason
		return nil
	}

	m := groupmanager.New(alwaysLeader{}, kill, notifybus.New())
	g := &types.Group{ID: "g1", Members: []string{"i1", "i2", "i3"}, SameLifecycle: true, State: types.GroupStateRunning}
	m.RegisterGroup(g, map[string]string{"i1": "n1", "i2": "n1", "i3": "n2"})

	require.NoError(t, m.OnInstanceAbnormal("i2", "g1", "exit code 1"))

	got, ok := m.Caches().GetGroup("g1")
	require.True(t, ok)
	require.Equal(t, types.GroupStateFailed, got.State)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, killed, "i1")
	require.Contains(t, killed, "i3")
	require.NotContains(t, killed, "i2")
}

func TestNonSameLifecycleGroupSurvivesSingleMemberFailure(t *testing.T) {
	kill := func(instanceID, reason string) error { return nil }
	m := groupmanager.New(alwaysLeader{}, kill, notifybus.New())
	g := &types.Group{ID: "g1", Members: []string{"i1", "i2"}, SameLifecycle: false, State: types.GroupStateRunning}
	m.RegisterGroup(g, map[string]string{"i1": "n1", "i2": "n1"})

	require.NoError(t, m.OnInstanceAbnormal("i1", "g1", "oom"))

	got, _ := m.Caches().GetGroup("g1")
	require.Equal(t, types.GroupStateRunning, got.State)
}

func TestSlaveNodeDoesNotCascade(t *testing.T) {
	called := false
	kill := func(instanceID, reason string) error {
		called = true
		return nil
	}
	m := groupmanager.New(neverLeader{}, kill, notifybus.New())
	g := &types.Group{ID: "g1", Members: []string{"i1", "i2"}, SameLifecycle: true, State: types.GroupStateRunning}
	m.RegisterGroup(g, map[string]string{"i1": "n1", "i2": "n1"})

	require.NoError(t, m.OnInstanceAbnormal("i1", "g1", "oom"))
	require.False(t, called)
}

func TestOnInstanceDeleteCascadesChildGroupRemoval(t *testing.T) {
	m := groupmanager.New(alwaysLeader{}, func(string, string) error { return nil }, notifybus.New())
	parent := &types.Group{ID: "child-group", ParentInstanceID: "parent-1", Members: []string{"c1"}}
	m.RegisterGroup(parent, map[string]string{"c1": "n1"})

	m.OnInstanceDelete("parent-1", "")

	_, ok := m.Caches().GetGroup("child-group")
	require.False(t, ok)
}
