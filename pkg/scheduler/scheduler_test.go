package scheduler_test

import (
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/resourceview"
	"github.com/cuemby/nimbus/pkg/scheduler"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func newView(t *testing.T, units ...*types.ResourceUnit) *resourceview.View {
	t.Helper()
	v := resourceview.New()
	for _, u := range units {
		v.AddResourceUnit(u)
	}
	return v
}

func TestEnqueueAndPlaceOnFreeUnit(t *testing.T) {
	view := newView(t, &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4})
	s := scheduler.New(view)

	item := types.NewQueueItem(types.QueueItemInstance, 5, &types.RequestSpec{
		FunctionName:   "fn",
		ResourceDemand: map[string]int64{"cpu": 2},
	})
	item.InstanceID = "inst-1"

	s.Enqueue(item)
	s.ConsumeRunningQueue()

	select {
	case res := <-item.Done():
		require.NoError(t, res.Err)
		require.Equal(t, "u1", res.UnitID)
	case <-time.After(time.Second):
		t.Fatal("schedule did not complete")
	}
	require.True(t, s.CheckIsRunningQueueEmpty())
}

func TestCancelledItemResolvesWithError(t *testing.T) {
	view := newView(t, &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4})
	s := scheduler.New(view)

	item := types.NewQueueItem(types.QueueItemInstance, 1, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 1},
	})
	item.Cancel()
	s.Enqueue(item)
	s.ConsumeRunningQueue()

	select {
	case res := <-item.Done():
		require.ErrorIs(t, res.Err, scheduler.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancelled item never resolved")
	}
}

func TestExhaustedUnitWithoutPreemptionSuspendsToPending(t *testing.T) {
	view := newView(t, &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 2, Used: 2})
	s := scheduler.New(view)

	item := types.NewQueueItem(types.QueueItemInstance, 1, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 1},
		PreemptAllowed: false,
		Timeout:        5 * time.Second,
	})
	s.Enqueue(item)
	s.ConsumeRunningQueue()

	require.True(t, s.CheckIsRunningQueueEmpty())
	select {
	case res := <-item.Done():
		t.Fatalf("expected item to stay pending, got result %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExhaustedUnitWithZeroTimeoutFailsFast(t *testing.T) {
	view := newView(t, &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 2, Used: 2})
	s := scheduler.New(view)

	item := types.NewQueueItem(types.QueueItemInstance, 1, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 1},
		PreemptAllowed: false,
	})
	s.Enqueue(item)
	s.ConsumeRunningQueue()

	select {
	case res := <-item.Done():
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("expected a zero-timeout request to resolve synchronously")
	}
}

func TestPendingAffinityReservesUnitForAPendingRequest(t *testing.T) {
	u1 := &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 4, Labels: map[string][]string{"model": {"a100"}}}
	u2 := &types.ResourceUnit{ID: "u2", Kind: "cpu", Capacity: 4}
	view := newView(t, u1, u2)
	s := scheduler.New(view)

	gpuAffinity := &types.AffinitySpec{RequiredResourceAffinity: &types.AffinitySelector{Terms: []types.AffinityTerm{
		{Expressions: []types.LabelExpression{{Key: "model", Operator: types.AffinityIn, Values: []string{"a100"}}}},
	}}}
	blocked := types.NewQueueItem(types.QueueItemInstance, 10, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 5},
		Priority:       10,
		Affinity:       gpuAffinity,
		Timeout:        5 * time.Second,
	})
	s.Enqueue(blocked)
	s.ConsumeRunningQueue()
	require.False(t, s.CheckIsPendingQueueEmpty())

	other := types.NewQueueItem(types.QueueItemInstance, 10, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 2},
		Priority:       10,
	})
	other.InstanceID = "other"
	s.Enqueue(other)
	s.ConsumeRunningQueue()

	select {
	case res := <-other.Done():
		require.NoError(t, res.Err)
		require.Equal(t, "u2", res.UnitID)
	case <-time.After(time.Second):
		t.Fatal("schedule did not complete")
	}
}

func TestPreemptionUnblocksAnExhaustedUnit(t *testing.T) {
	view := newView(t, &types.ResourceUnit{ID: "u1", Kind: "cpu", Capacity: 2, Used: 2})
	view.AddInstances("u1", &types.Instance{
		ID:             "victim",
		Priority:       1,
		State:          types.InstanceStateRunning,
		ResourceDemand: map[string]int64{"cpu": 2},
	})
	s := scheduler.New(view)

	item := types.NewQueueItem(types.QueueItemInstance, 10, &types.RequestSpec{
		ResourceDemand: map[string]int64{"cpu": 2},
		Priority:       10,
		PreemptAllowed: true,
	})
	item.InstanceID = "cand"
	s.Enqueue(item)
	s.ConsumeRunningQueue()

	select {
	case res := <-item.Done():
		require.NoError(t, res.Err)
		require.Equal(t, "u1", res.UnitID)
		require.Equal(t, []string{"victim"}, res.Preempted)
	case <-time.After(time.Second):
		t.Fatal("preemptive schedule did not complete")
	}
}
