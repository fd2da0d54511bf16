// Package rpcmsg defines the wire messages for the Nimbus API surface
// and a grpc.ServiceDesc that dispatches them without protoc-generated
// stubs. Message types are plain, JSON-tagged Go structs exchanged
// through a hand-registered "json" codec (see codec.go) instead of a
// protobuf wire format, so this package plays the role of generated
// client/server stubs by hand while keeping the same
// grpc.Server/grpc.ClientConn transport.
package rpcmsg

import "time"

// CreateRequest asks the server to schedule a new function instance.
type CreateRequest struct {
	RequestID      string
	FunctionName   string
	ResourceDemand map[string]int64
	Affinity       *AffinitySpec
	Priority       int32
	Concurrency    int32
	PreemptAllowed bool
	Labels         map[string]string
	GroupID        string // set when created as a group member
	NeedOrder      bool
	// Timeout is the schedule-option timeout; zero means a placement
	// failure must resolve synchronously instead of suspending to the
	// pending queue.
	Timeout time.Duration
}

// CreateResponse acknowledges a Create call. The actual placement
// result arrives later as a Notify frame correlated by RequestID.
type CreateResponse struct {
	RequestID  string
	InstanceID string
}

// InvokeRequest issues a call against an already-scheduled instance.
type InvokeRequest struct {
	RequestID  string
	InstanceID string
	Args       []string // object IDs of bound arguments
	NeedOrder  bool
}

// InvokeResponse acknowledges an Invoke call.
type InvokeResponse struct {
	RequestID   string
	InvokeSeqNo int64
}

// KillSignal is one of the integer signal numbers assigned to
// instance termination.
type KillSignal int32

const (
	SignalShutDown         KillSignal = 15
	SignalGroupExit        KillSignal = 64
	SignalKillInstance     KillSignal = 100
	SignalKillGroupInstance KillSignal = 101
	SignalKillInstanceSync KillSignal = 102
	SignalKillAllInstances KillSignal = 103
	SignalAccelerate       KillSignal = 104
)

// KillRequest terminates one instance, a whole group, or every
// instance owned by the caller, depending on which ID field is set.
type KillRequest struct {
	RequestID  string
	InstanceID string
	GroupID    string
	All        bool
	Signal     KillSignal
}

// KillResponse acknowledges a Kill call.
type KillResponse struct {
	RequestID string
}

// CreateResourceGroupRequest creates a new instance group (a range or
// a function-group bundle).
type CreateResourceGroupRequest struct {
	RequestID     string
	Name          string
	Members       []*CreateRequest
	SameLifecycle bool
	IsRange       bool
	BundleSize    int32
}

// CreateResourceGroupResponse returns the created group's ID and the
// instance IDs allocated to its members, in member order.
type CreateResourceGroupResponse struct {
	RequestID   string
	GroupID     string
	InstanceIDs []string
	// QueueHandles names one notification-bus queue per member, in
	// member order, for callers that want to pump per-member frames
	// directly instead of polling QueryResourceGroup.
	QueueHandles []string
}

// RemoveResourceGroupRequest tears down a group and cascades kill to
// its members.
type RemoveResourceGroupRequest struct {
	RequestID string
	GroupID   string
}

// RemoveResourceGroupResponse acknowledges a RemoveResourceGroup call.
type RemoveResourceGroupResponse struct {
	RequestID string
}

// QueryResourcesRequest asks for the cluster's current resource-unit
// inventory, served over HTTP at /global-scheduler/resources.
type QueryResourcesRequest struct {
	NodeID string // optional filter
}

// QueryResourcesResponse lists resource units matching the query.
type QueryResourcesResponse struct {
	Units []*ResourceUnitInfo
}

// ResourceUnitInfo is the wire representation of a types.ResourceUnit.
type ResourceUnitInfo struct {
	ID       string
	NodeID   string
	Kind     string
	Capacity int64
	Used     int64
}

// QueryNamedInstancesRequest asks for instances matching a function
// name, served over HTTP at /instance-manager/named-ins.
type QueryNamedInstancesRequest struct {
	FunctionName string
}

// QueryNamedInstancesResponse lists matching instances.
type QueryNamedInstancesResponse struct {
	Instances []*InstanceInfo
}

// InstanceInfo is the wire representation of a types.Instance.
type InstanceInfo struct {
	ID           string
	FunctionName string
	GroupID      string
	NodeID       string
	UnitID       string
	State        string
	Priority     int32
}

// QueryResourceGroupRequest asks for a group's membership and state,
// served over HTTP at /resource-group/rgroup.
type QueryResourceGroupRequest struct {
	GroupID string
}

// QueryResourceGroupResponse returns the group's current snapshot.
type QueryResourceGroupResponse struct {
	GroupID string
	Name    string
	State   string
	Members []string
}

// AffinitySpec mirrors types.AffinitySpec over the wire; pkg/api
// converts between the two at the RPC boundary.
type AffinitySpec struct {
	RequiredResourceAffinity      *AffinitySelector
	PreferredResourceAffinity     *AffinitySelector
	RequiredInstanceAffinity      *AffinitySelector
	PreferredInstanceAffinity     *AffinitySelector
	RequiredInstanceAntiAffinity  *AffinitySelector
	PreferredInstanceAntiAffinity *AffinitySelector
}

// AffinitySelector mirrors types.AffinitySelector.
type AffinitySelector struct {
	Terms []AffinityTerm
}

// AffinityTerm mirrors types.AffinityTerm.
type AffinityTerm struct {
	Expressions []LabelExpression
	Weight      int32
}

// LabelExpression mirrors types.LabelExpression.
type LabelExpression struct {
	Key      string
	Operator string
	Values   []string
}

// Frame is the wire form of a pkg/notifybus.Frame delivered on the
// async receive loop: a Notify (completion), Checkpoint, Recover,
// Signal, or Shutdown message.
type Frame struct {
	RequestID string
	Type      string
	Payload   map[string]string
	Error     *ErrorDetail
}

// WatchFramesRequest opens the async receive loop for one request ID,
// served by the NimbusAPI_WatchFrames server-streaming RPC.
type WatchFramesRequest struct {
	RequestID string
}

// ErrorDetail is the wire form of an *rpcerrors.Status.
type ErrorDetail struct {
	Code    int32
	Message string
}
