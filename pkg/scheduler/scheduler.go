// Package scheduler implements the Priority Scheduler: the main
// schedule-decision loop that dequeues schedule requests, applies the
// fairness policy, places instances against resource units (falling
// back to preemption), and resolves each request's promise.
//
// Keeps a ticker-driven loop with a zerolog logger and metrics.Timer
// usage, driving control flow grounded on
// original_source/.../priority_scheduler.cpp:
// ActivatePendingRequests/ConsumeRunningQueue/DoConsume/OnScheduleDone.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nimbus/pkg/affinity"
	"github.com/cuemby/nimbus/pkg/fairness"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/preemption"
	"github.com/cuemby/nimbus/pkg/resourceview"
	"github.com/cuemby/nimbus/pkg/rpcerrors"
	"github.com/cuemby/nimbus/pkg/schedqueue"
	"github.com/cuemby/nimbus/pkg/types"
)

// ErrCancelled resolves a QueueItem that was cancelled before it
// reached the front of the queue.
var ErrCancelled = rpcerrors.New(rpcerrors.CodeInternal, "schedule request cancelled")

// Scheduler is the cluster's single leader-elected priority scheduler.
// One Scheduler instance runs per cluster; its methods are safe only
// when called from the Scheduler's own goroutine (Enqueue is the
// exception — it may be called from any goroutine).
type Scheduler struct {
	mu         sync.Mutex
	running    *schedqueue.Queue
	pending    *schedqueue.Queue
	policy     *fairness.Policy
	view       *resourceview.View
	logger     zerolog.Logger
	stopCh     chan struct{}
	tickPeriod time.Duration
}

// New builds a Scheduler backed by view for resource occupancy.
func New(view *resourceview.View) *Scheduler {
	return &Scheduler{
		running:    schedqueue.New(),
		pending:    schedqueue.New(),
		policy:     fairness.New(),
		view:       view,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
		tickPeriod: 50 * time.Millisecond,
	}
}

// Start begins the scheduler's drive loop in its own goroutine.
func (s *Scheduler) Start() { go s.run() }

// Stop halts the drive loop.
func (s *Scheduler) Stop() { close(s.stopCh) }

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.ActivatePendingRequests()
			s.ConsumeRunningQueue()
		case <-s.stopCh:
			return
		}
	}
}

// Enqueue admits a QueueItem into the running queue, or the pending
// queue if the fairness policy judges it would contend with
// already-pending demand.
func (s *Scheduler) Enqueue(item *types.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.policy.CanSchedule(item) {
		s.logger.Debug().Str("request", item.GroupID+item.InstanceID).Msg("similar pending request exists, deferring")
		s.pending.Enqueue(item)
		return
	}
	s.running.Enqueue(item)
}

// ActivatePendingRequests promotes every pending item into the
// running queue ahead of items already there (pending demand is
// considered higher priority than what is already running), and
// resets the fairness policy's bookkeeping.
func (s *Scheduler) ActivatePendingRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.CheckIsQueueEmpty() {
		return
	}
	s.pending.Extend(s.running)
	s.pending = schedqueue.New()
	s.policy.ClearPendingInfos()
}

// ConsumeRunningQueue drains the running queue completely, one
// DoConsume step at a time.
func (s *Scheduler) ConsumeRunningQueue() {
	s.mu.Lock()
	empty := s.running.CheckIsQueueEmpty()
	s.mu.Unlock()
	if empty {
		return
	}
	for {
		s.mu.Lock()
		done := s.running.CheckIsQueueEmpty()
		s.mu.Unlock()
		if done {
			return
		}
		s.doConsume()
	}
}

// doConsume services exactly one item at the front of the running
// queue: skip if cancelled, defer to pending if fairness disallows,
// otherwise place it and route the outcome through onScheduleDone.
func (s *Scheduler) doConsume() {
	s.mu.Lock()
	item := s.running.Front()
	if item == nil {
		s.mu.Unlock()
		return
	}
	if item.Cancelled() {
		s.running.Dequeue()
		s.mu.Unlock()
		item.Complete(types.ScheduleResult{Err: ErrCancelled})
		return
	}
	if !s.policy.CanSchedule(item) {
		s.pending.Enqueue(item)
		s.running.Dequeue()
		s.mu.Unlock()
		return
	}
	s.policy.PrepareForScheduling(item)
	s.mu.Unlock()

	timer := metrics.NewTimer()
	result := s.place(item)
	timer.ObserveDuration(metrics.SchedulingLatency)

	s.mu.Lock()
	s.onScheduleDone(item, result)
	s.running.Dequeue()
	s.mu.Unlock()
}

// needSuspend classifies a placement error as retryable (push back to
// pending and wait for more capacity) vs. terminal: NeedSuspend(code,
// timeout) holds only for RESOURCE_NOT_ENOUGH/AFFINITY_SCHEDULE_FAILED
// and only when the caller gave a non-zero schedule-option timeout —
// a zero timeout always returns synchronously to the caller instead of
// parking the request in pending indefinitely.
func needSuspend(err error, timeout time.Duration) bool {
	if timeout == 0 {
		return false
	}
	if err == preemption.ErrNoPreemptableInstance {
		return true
	}
	status, ok := err.(*rpcerrors.Status)
	return ok && status.Code == rpcerrors.CodeResourceExhausted
}

// itemTimeout returns the schedule-option timeout governing item: the
// instance spec's timeout, or the first member's for a group (members
// of one group share one timeout, mirroring the IsRange optimization
// used elsewhere for group-wide, member-invariant fields).
func itemTimeout(item *types.QueueItem) time.Duration {
	if item.Spec != nil {
		return item.Spec.Timeout
	}
	if len(item.GroupSpecs) > 0 {
		return item.GroupSpecs[0].Timeout
	}
	return 0
}

// onScheduleDone mirrors OnScheduleDone: a retryable failure goes back
// to pending with StorePendingInfo recorded; anything else resolves
// the item's promise (applying the placement to the resource view on
// success).
func (s *Scheduler) onScheduleDone(item *types.QueueItem, result types.ScheduleResult) {
	if item.Cancelled() {
		s.logger.Warn().Msg("schedule completed after cancellation, rolling back")
		if result.Err == nil {
			s.rollback(item, result)
		}
		return
	}
	if result.Err != nil && needSuspend(result.Err, itemTimeout(item)) {
		s.logger.Warn().Err(result.Err).Msg("schedule deferred, insufficient resources")
		s.pending.Enqueue(item)
		s.policy.StorePendingInfo(item)
		return
	}
	if result.Err == nil {
		s.commit(item, result)
	}
	item.Complete(result)
}

func (s *Scheduler) commit(item *types.QueueItem, result types.ScheduleResult) {
	for _, id := range result.Preempted {
		s.view.RemoveInstances(result.UnitID, id)
	}
	if item.Kind == types.QueueItemInstance {
		s.view.AddInstances(result.UnitID, &types.Instance{
			ID:             item.InstanceID,
			FunctionName:   item.Spec.FunctionName,
			Priority:       item.Priority,
			ResourceDemand: item.Spec.ResourceDemand,
			State:          types.InstanceStateScheduled,
		})
	}
}

func (s *Scheduler) rollback(item *types.QueueItem, result types.ScheduleResult) {
	if item.Kind == types.QueueItemInstance {
		s.view.RemoveInstances(result.UnitID, item.InstanceID)
	}
}

// pendingAffinityReserve is subtracted from a unit's score when it
// matches the pending-affinity terms PrepareForScheduling attached to
// the item: such a unit is preferentially left for the pending,
// affinity-bound requests that specifically need it, but remains
// usable by this item when it is the only feasible option.
const pendingAffinityReserve int64 = 1 << 30

// place chooses a unit for item's request, first by direct fit, then
// by preemption if PreemptAllowed and no unit fits directly.
func (s *Scheduler) place(item *types.QueueItem) types.ScheduleResult {
	spec := item.Spec
	if spec == nil {
		return types.ScheduleResult{Err: rpcerrors.New(rpcerrors.CodeParamInvalid, "missing request spec")}
	}
	ctx := s.view.Snapshot()

	type candidate struct {
		unit  *types.ResourceUnit
		score int64
	}
	var feasible []candidate
	for _, unit := range ctx.Units {
		if spec.ResourceDemand[unit.Kind] > unit.Available() {
			continue
		}
		peers := ctx.Instances[unit.ID]
		if spec.Affinity != nil && !affinity.IsResourceRequiredAffinityPassed(unit, peers, spec.Affinity) {
			continue
		}
		score := affinity.CalculateResourceAffinityScore(unit, peers, spec.Affinity) +
			affinity.CalculateInstanceAffinityScore(unit, peers, spec.Affinity)
		if score == affinity.RequiredAffinityNotMet {
			continue
		}
		if item.PendingResourceAffinity != nil && affinity.RequiredFilter(item.PendingResourceAffinity, affinity.UnitLabels(unit)) {
			score -= pendingAffinityReserve
		}
		feasible = append(feasible, candidate{unit: unit, score: score})
	}

	if len(feasible) > 0 {
		sort.Slice(feasible, func(i, j int) bool {
			if feasible[i].score != feasible[j].score {
				return feasible[i].score > feasible[j].score
			}
			return feasible[i].unit.ID < feasible[j].unit.ID
		})
		return types.ScheduleResult{UnitID: feasible[0].unit.ID}
	}

	if !spec.PreemptAllowed {
		return types.ScheduleResult{Err: rpcerrors.New(rpcerrors.CodeResourceExhausted, "no unit has capacity and preemption is not allowed")}
	}

	candidateInstance := &types.Instance{ID: item.InstanceID, Priority: item.Priority}
	res, err := preemption.Decide(ctx, candidateInstance, spec)
	if err != nil {
		return types.ScheduleResult{Err: err}
	}
	victimIDs := make([]string, len(res.PreemptedInstances))
	for i, v := range res.PreemptedInstances {
		victimIDs[i] = v.ID
	}
	return types.ScheduleResult{UnitID: res.UnitID, Preempted: victimIDs}
}

// CheckIsRunningQueueEmpty reports whether the running queue is
// currently empty.
func (s *Scheduler) CheckIsRunningQueueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running.CheckIsQueueEmpty()
}

// CheckIsPendingQueueEmpty reports whether the pending queue is
// currently empty.
func (s *Scheduler) CheckIsPendingQueueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.CheckIsQueueEmpty()
}
