// Package schedqueue implements the Schedule Queue: a priority queue
// where items of the same priority are served in arrival order (a
// "time-sorted queue" in the original), used for both the running and
// pending queues of the Priority Scheduler.
//
// Grounded on priority_scheduler.cpp's use of TimeSortedQueue: higher
// numeric priority is served first, Extend merges one queue's
// contents into another preserving that order, and
// CheckIsQueueEmpty/Front/Dequeue/Enqueue are kept as named operations.
package schedqueue

import (
	"sort"
	"sync"

	"github.com/cuemby/nimbus/pkg/types"
)

// Queue is a priority-bucketed FIFO: within one priority level, items
// are served in enqueue order; across priorities, higher priority is
// served first.
type Queue struct {
	mu      sync.Mutex
	buckets map[int32][]*types.QueueItem
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{buckets: make(map[int32][]*types.QueueItem)}
}

// Enqueue appends item to its priority bucket.
func (q *Queue) Enqueue(item *types.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buckets[item.Priority] = append(q.buckets[item.Priority], item)
}

// highestPriority returns the highest occupied priority bucket, or
// false if the queue is empty. Caller must hold q.mu.
func (q *Queue) highestPriority() (int32, bool) {
	first := true
	var best int32
	for p, items := range q.buckets {
		if len(items) == 0 {
			continue
		}
		if first || p > best {
			best = p
			first = false
		}
	}
	return best, !first
}

// Front returns (without removing) the next item to be served, or nil
// if the queue is empty.
func (q *Queue) Front() *types.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.highestPriority()
	if !ok {
		return nil
	}
	return q.buckets[p][0]
}

// Dequeue removes and discards the current front item.
func (q *Queue) Dequeue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.highestPriority()
	if !ok {
		return
	}
	q.buckets[p] = q.buckets[p][1:]
}

// CheckIsQueueEmpty reports whether any item remains in the queue.
func (q *Queue) CheckIsQueueEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.highestPriority()
	return !ok
}

// Extend moves every item out of q and appends it to dst, preserving
// each item's original priority/arrival ordering within dst.
func (q *Queue) Extend(dst *Queue) {
	q.mu.Lock()
	priorities := make([]int32, 0, len(q.buckets))
	for p := range q.buckets {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	dst.mu.Lock()
	for _, p := range priorities {
		dst.buckets[p] = append(dst.buckets[p], q.buckets[p]...)
	}
	dst.mu.Unlock()
	q.buckets = make(map[int32][]*types.QueueItem)
	q.mu.Unlock()
}

// Len returns the total number of items across all priorities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, items := range q.buckets {
		n += len(items)
	}
	return n
}
