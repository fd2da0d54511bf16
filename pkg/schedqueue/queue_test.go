package schedqueue_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/schedqueue"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestHigherPriorityServedFirst(t *testing.T) {
	q := schedqueue.New()
	low := types.NewQueueItem(types.QueueItemInstance, 1, nil)
	high := types.NewQueueItem(types.QueueItemInstance, 5, nil)
	q.Enqueue(low)
	q.Enqueue(high)
	require.Same(t, high, q.Front())
}

func TestSamePriorityIsFIFO(t *testing.T) {
	q := schedqueue.New()
	a := types.NewQueueItem(types.QueueItemInstance, 1, nil)
	b := types.NewQueueItem(types.QueueItemInstance, 1, nil)
	q.Enqueue(a)
	q.Enqueue(b)
	require.Same(t, a, q.Front())
	q.Dequeue()
	require.Same(t, b, q.Front())
}

func TestExtendMergesIntoDestinationPreservingOrder(t *testing.T) {
	pending := schedqueue.New()
	running := schedqueue.New()
	runningItem := types.NewQueueItem(types.QueueItemInstance, 1, nil)
	running.Enqueue(runningItem)
	pendingItem := types.NewQueueItem(types.QueueItemInstance, 1, nil)
	pending.Enqueue(pendingItem)

	pending.Extend(running)
	require.True(t, pending.CheckIsQueueEmpty())
	require.Equal(t, 2, running.Len())
	require.Same(t, runningItem, running.Front())
}
