package types

import (
	"fmt"
	"time"
)

// Node is a worker machine that hosts instances and reports resource
// units to the cluster.
type Node struct {
	ID            string
	Address       string
	Labels        map[string]string
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NodeStatus is the worker-reported health of a node.
type NodeStatus string

const (
	NodeStatusHealthy  NodeStatus = "healthy"
	NodeStatusDegraded NodeStatus = "degraded"
	NodeStatusDown     NodeStatus = "down"
)

// ResourceUnit is one schedulable slice of capacity on a node: a CPU
// core set, a GPU, or any other named allocatable quantity. The
// scheduler places instances against units, not against whole nodes.
type ResourceUnit struct {
	ID       string
	NodeID   string
	Kind     string // e.g. "cpu", "gpu", "npu"
	Capacity int64
	Used     int64
	Labels   map[string][]string // multiset: a label key may repeat with different values
}

// Available returns the unreserved capacity on the unit.
func (u *ResourceUnit) Available() int64 {
	return u.Capacity - u.Used
}

// InstanceState is the lifecycle state of a function instance.
type InstanceState string

const (
	InstanceStatePending   InstanceState = "pending"
	InstanceStateScheduled InstanceState = "scheduled"
	InstanceStateRunning   InstanceState = "running"
	InstanceStateFailed    InstanceState = "failed"
	InstanceStateKilled    InstanceState = "killed"
)

// Instance is one running (or about to run) copy of a function,
// bound to a resource unit once scheduled.
type Instance struct {
	ID             string
	FunctionName   string
	GroupID        string // empty for a standalone instance
	NodeID         string
	UnitID         string
	State          InstanceState
	Priority       int32
	Concurrency    int32
	Affinity       *AffinitySpec
	ResourceDemand map[string]int64
	Labels         map[string]string
	CreatedAt      time.Time
	ScheduledAt    time.Time
	SameLifecycle  bool // tied to its group: killed/failed together
	ParentGroupIDs []string
}

// GroupState is the lifecycle state of an instance group.
type GroupState string

const (
	GroupStatePending GroupState = "pending"
	GroupStateRunning GroupState = "running"
	GroupStateFailed  GroupState = "failed"
	GroupStateKilled  GroupState = "killed"
)

// Group is a set of instances managed as a unit: a range, a
// function-group bundle, or a same-lifecycle cohort. Every instance in
// a Group shares Group.SameLifecycle semantics: if SameLifecycle is
// true, one member failing fails the whole group.
type Group struct {
	ID              string
	Name            string
	ParentInstanceID string // set when this group was spawned by an instance
	Members         []string // instance IDs
	State           GroupState
	SameLifecycle   bool
	CreatedAt       time.Time
}

// QueueItemKind distinguishes the three shapes a schedule queue holds.
type QueueItemKind string

const (
	QueueItemInstance QueueItemKind = "instance"
	QueueItemGroup    QueueItemKind = "group"
)

// QueueItem is one unit of schedule work: either a single instance or
// an entire group scheduled atomically.
type QueueItem struct {
	Kind        QueueItemKind
	InstanceID  string
	GroupID     string
	Priority    int32
	EnqueuedAt  time.Time
	Spec        *RequestSpec
	// GroupSpecs holds one RequestSpec per member when Kind is
	// QueueItemGroup; empty for a single-instance item.
	GroupSpecs []*RequestSpec
	// IsRange marks a group whose members are fungible range
	// replicas: fairness and scheduling only need to evaluate the
	// first member's spec, matching the original's range optimization.
	IsRange bool
	// PendingResourceAffinity is set by fairness.PrepareForScheduling
	// to the merged required-resource-affinity terms of every pending
	// request at this item's priority or above. place treats a unit
	// matching these terms as reserved for those pending requests and
	// prefers a different unit when a feasible one exists.
	PendingResourceAffinity *AffinitySelector
	done                    chan ScheduleResult
	cancelled               bool
}

// NewQueueItem constructs a QueueItem with its completion channel
// ready to receive exactly one ScheduleResult.
func NewQueueItem(kind QueueItemKind, priority int32, spec *RequestSpec) *QueueItem {
	return &QueueItem{
		Kind:       kind,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Spec:       spec,
		done:       make(chan ScheduleResult, 1),
	}
}

// Done returns the channel the scheduler publishes this item's
// ScheduleResult to exactly once.
func (q *QueueItem) Done() <-chan ScheduleResult { return q.done }

// Complete publishes res on the item's done channel. Safe to call at
// most once per item.
func (q *QueueItem) Complete(res ScheduleResult) {
	q.done <- res
}

// Cancel marks the item cancelled. The scheduler checks this flag the
// next time the item reaches the front of its queue.
func (q *QueueItem) Cancel() { q.cancelled = true }

// Cancelled reports whether Cancel was called.
func (q *QueueItem) Cancelled() bool { return q.cancelled }

// ScheduleResult is what a QueueItem resolves to once the scheduler
// has made a placement decision (or given up).
type ScheduleResult struct {
	UnitID       string
	NodeID       string
	Preempted    []string // instance IDs preempted to make room
	Err          error
}

// RequestSpec describes the resource and affinity requirements of one
// schedule request, independent of whether it is for an instance or a
// group.
type RequestSpec struct {
	FunctionName   string
	ResourceDemand map[string]int64
	Affinity       *AffinitySpec
	Priority       int32
	PreemptAllowed bool
	// Timeout is the caller's schedule-option timeout: zero means the
	// request must resolve synchronously (fail fast instead of
	// waiting in pending) on a retryable placement error; non-zero
	// allows the scheduler to suspend the request to the pending
	// queue for up to Timeout before giving up.
	Timeout time.Duration
}

// ScheduleContext carries the inputs a scheduling decision needs
// beyond the request itself: the candidate units and their current
// occupants.
type ScheduleContext struct {
	Units     []*ResourceUnit
	Instances map[string][]*Instance // unit ID -> instances occupying it
}

// ObjectState is the one-shot lifecycle of an object reference.
type ObjectState string

const (
	ObjectStateUnready ObjectState = "unready"
	ObjectStateReady    ObjectState = "ready"
	ObjectStateError    ObjectState = "error"
)

// ObjectRef is a content-addressed handle returned by an invocation,
// tracked by global reference count until explicitly released.
type ObjectRef struct {
	ID        string
	State     ObjectState
	Err       error
	RefCount  int64
	CreatedAt time.Time
	NestedIDs []string // object IDs this object transitively references
}

// AffinityOperator is a single predicate applied to a label's values.
type AffinityOperator string

const (
	AffinityIn       AffinityOperator = "In"
	AffinityNotIn    AffinityOperator = "NotIn"
	AffinityExists   AffinityOperator = "Exists"
	AffinityNotExists AffinityOperator = "NotExists"
)

// LabelExpression is one predicate: key Operator values. Values is
// ignored for Exists/NotExists.
type LabelExpression struct {
	Key      string
	Operator AffinityOperator
	Values   []string
}

// AffinityTerm is a sub-condition: all of its expressions must match
// (conjunctive). A weight applies when the term is used in a
// "preferred" list; required lists ignore weight.
type AffinityTerm struct {
	Expressions []LabelExpression
	Weight      int32
}

// AffinitySelector is a disjunction of AffinityTerms: any one term
// matching satisfies the selector.
type AffinitySelector struct {
	Terms []AffinityTerm
}

// AffinitySpec is the full affinity/anti-affinity configuration for a
// schedule request, at both the resource-unit and instance level.
type AffinitySpec struct {
	RequiredResourceAffinity   *AffinitySelector
	PreferredResourceAffinity  *AffinitySelector
	RequiredInstanceAffinity   *AffinitySelector
	PreferredInstanceAffinity  *AffinitySelector
	RequiredInstanceAntiAffinity  *AffinitySelector
	PreferredInstanceAntiAffinity *AffinitySelector
}

// ValidateLabel enforces the label-key grammar used by affinity
// selectors and function names: 1-63 characters, letters, digits, and
// hyphens.
func ValidateLabel(s string) error {
	if len(s) == 0 || len(s) > 63 {
		return fmt.Errorf("label %q: length must be 1-63", s)
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return fmt.Errorf("label %q: invalid character %q", s, r)
		}
	}
	return nil
}
