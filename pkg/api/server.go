package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/nimbus/pkg/groupmanager"
	"github.com/cuemby/nimbus/pkg/invokeorder"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/manager"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/notifybus"
	"github.com/cuemby/nimbus/pkg/objectstore"
	"github.com/cuemby/nimbus/pkg/rangegroup"
	"github.com/cuemby/nimbus/pkg/resourceview"
	"github.com/cuemby/nimbus/pkg/rpcerrors"
	"github.com/cuemby/nimbus/pkg/rpcmsg"
	"github.com/cuemby/nimbus/pkg/scheduler"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/cuemby/nimbus/pkg/waitmanager"
)

// Server implements rpcmsg.NimbusAPIServer: the single gRPC front door
// onto the cluster manager, scheduler, object store, and group
// manager. One Server runs per raft member; write RPCs are rejected
// unless this node currently holds leadership.
type Server struct {
	manager *manager.Manager
	grpc    *grpc.Server
	logger  zerolog.Logger

	view        *resourceview.View
	scheduler   *scheduler.Scheduler
	objectStore *objectstore.Store
	boundReqs   *objectstore.BoundRequest
	waitOrder   *invokeorder.Manager
	groupMgr    *groupmanager.Manager
	waitMgr     *waitmanager.Manager
}

// NewServer builds an API server wired to mgr. If tlsConfig is nil the
// gRPC listener is unencrypted, suitable for same-host or
// already-meshed deployments; pkg/invokeadaptor's caller supplies a
// crypto/tls.Config when it wants transport security.
func NewServer(mgr *manager.Manager, tlsConfig *tls.Config) (*Server, error) {
	view := resourceview.New()
	units, err := mgr.ListResourceUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to load resource units: %w", err)
	}
	for _, u := range units {
		view.AddResourceUnit(u)
	}

	store := objectstore.New()

	s := &Server{
		manager:     mgr,
		logger:      log.WithComponent("api"),
		view:        view,
		scheduler:   scheduler.New(view),
		objectStore: store,
		boundReqs:   objectstore.NewBoundRequest(),
		waitOrder:   invokeorder.New(),
		waitMgr:     waitmanager.New(store),
	}
	s.groupMgr = groupmanager.New(mgr, s.killInstance, mgr.NotifyBus())

	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	s.grpc = grpc.NewServer(opts...)

	return s, nil
}

// Start begins serving on addr and blocks until the listener fails or
// Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	rpcmsg.RegisterNimbusAPIServer(s.grpc, s)
	s.scheduler.Start()
	s.logger.Info().Str("addr", addr).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server and the scheduler loop.
func (s *Server) Stop() {
	s.scheduler.Stop()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// DialLocal returns an insecure in-process client connection to this
// server, for same-binary callers (cmd/nimbusctl against a co-located
// nimbusd) that don't need a real network hop.
func DialLocal(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (s *Server) ensureLeader() error {
	if !s.manager.IsLeader() {
		leaderAddr := s.manager.LeaderAddr()
		if leaderAddr == "" {
			return rpcerrors.New(rpcerrors.CodeLeaderUnknown, "no leader elected yet")
		}
		return rpcerrors.New(rpcerrors.CodeLeaderUnknown, "not the leader, current leader is at %s", leaderAddr)
	}
	return nil
}

// Create schedules a new function instance. The call acknowledges
// with an instance ID immediately; the actual placement result
// arrives later as a Notify frame on WatchFrames, correlated by
// RequestID.
func (s *Server) Create(ctx context.Context, req *rpcmsg.CreateRequest) (*rpcmsg.CreateResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if err := validateCreate(req.FunctionName, req.Concurrency, req.Labels); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	instanceID := uuid.NewString()
	spec := &types.RequestSpec{
		FunctionName:   req.FunctionName,
		ResourceDemand: req.ResourceDemand,
		Affinity:       fromWireAffinity(req.Affinity),
		Priority:       req.Priority,
		PreemptAllowed: req.PreemptAllowed,
		Timeout:        req.Timeout,
	}

	instance := &types.Instance{
		ID:             instanceID,
		FunctionName:   req.FunctionName,
		GroupID:        req.GroupID,
		State:          types.InstanceStatePending,
		Priority:       req.Priority,
		Concurrency:    req.Concurrency,
		Affinity:       spec.Affinity,
		ResourceDemand: req.ResourceDemand,
		Labels:         req.Labels,
		CreatedAt:      time.Now(),
	}
	if err := s.manager.CreateInstance(instance); err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to persist instance")
	}
	if req.NeedOrder {
		s.waitOrder.RegisterInstance(instanceID)
	}

	item := types.NewQueueItem(types.QueueItemInstance, req.Priority, spec)
	item.InstanceID = instanceID
	item.GroupID = req.GroupID
	s.scheduler.Enqueue(item)

	go s.awaitPlacement(req.RequestID, instanceID, item, timer)

	return &rpcmsg.CreateResponse{RequestID: req.RequestID, InstanceID: instanceID}, nil
}

// awaitPlacement waits for the scheduler to resolve item, then commits
// the outcome to the metadata store and publishes a Notify frame.
func (s *Server) awaitPlacement(requestID, instanceID string, item *types.QueueItem, timer *metrics.Timer) {
	result := <-item.Done()
	timer.ObserveDuration(metrics.InstanceCreateDuration)

	frame := &notifybus.Frame{RequestID: requestID, Type: notifybus.FrameNotify, Payload: map[string]string{"instance_id": instanceID}}

	instance, err := s.manager.GetInstance(instanceID)
	if err != nil {
		s.logger.Error().Err(err).Str("instance", instanceID).Msg("instance vanished before placement could be recorded")
		return
	}

	if result.Err != nil {
		metrics.InstancesFailed.Inc()
		instance.State = types.InstanceStateFailed
		_ = s.manager.UpdateInstance(instance)
		frame.Err = result.Err
		s.manager.NotifyBus().Publish(frame)
		return
	}

	metrics.InstancesScheduled.Inc()
	instance.NodeID = result.NodeID
	instance.UnitID = result.UnitID
	instance.State = types.InstanceStateScheduled
	instance.ScheduledAt = time.Now()
	if err := s.manager.UpdateInstance(instance); err != nil {
		s.logger.Error().Err(err).Str("instance", instanceID).Msg("failed to persist scheduled instance")
	}
	for _, victimID := range result.Preempted {
		metrics.PreemptionsTotal.Inc()
		s.killInstance(victimID, "preempted to make room for a higher priority request")
	}
	s.manager.NotifyBus().Publish(frame)
}

func validateCreate(functionName string, concurrency int32, labels map[string]string) error {
	if functionName == "" || len(functionName) > 64 {
		return rpcerrors.New(rpcerrors.CodeParamInvalid, "function name must be 1-64 characters")
	}
	if concurrency < 0 || concurrency > 1000 {
		return rpcerrors.New(rpcerrors.CodeConcurrencyOutOfRange, "concurrency %d out of range [0, 1000]", concurrency)
	}
	for k := range labels {
		if err := types.ValidateLabel(k); err != nil {
			return rpcerrors.Wrap(rpcerrors.CodeLabelInvalid, err, "invalid label")
		}
	}
	return nil
}

// Invoke issues a call against an already-scheduled instance, binding
// the argument object IDs to the request and assigning its sequence
// number if ordering was requested.
func (s *Server) Invoke(ctx context.Context, req *rpcmsg.InvokeRequest) (*rpcmsg.InvokeResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InvokeDuration)

	instance, err := s.manager.GetInstance(req.InstanceID)
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeFunctionNotFound, err, "instance %s not found", req.InstanceID)
	}
	if instance.State != types.InstanceStateRunning && instance.State != types.InstanceStateScheduled {
		return nil, rpcerrors.New(rpcerrors.CodeInternal, "instance %s is not invokable in state %s", req.InstanceID, instance.State)
	}

	if len(req.Args) > 0 {
		s.boundReqs.BindObjRefInReq(s.objectStore, req.RequestID, req.Args)
		defer s.boundReqs.UnbindObjRefInReq(s.objectStore, req.RequestID)

		result := s.waitMgr.Wait(req.Args, len(req.Args), waitmanager.WaitTimeout)
		if len(result.UnreadyIDs) > 0 {
			return nil, rpcerrors.New(rpcerrors.CodeInternal, "invoke %s timed out waiting on bound objects %v", req.RequestID, result.UnreadyIDs)
		}
		for id, cause := range result.ExceptionIDs {
			return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, cause, "bound object %s failed before invoke %s could start", id, req.RequestID)
		}
	}

	var seq int64
	if req.NeedOrder {
		seq = s.waitOrder.Invoke(req.InstanceID)
	}

	return &rpcmsg.InvokeResponse{RequestID: req.RequestID, InvokeSeqNo: seq}, nil
}

// Kill terminates one instance, every member of a group, or every
// instance in the cluster, depending on which selector field is set.
func (s *Server) Kill(ctx context.Context, req *rpcmsg.KillRequest) (*rpcmsg.KillResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}

	switch {
	case req.All:
		instances, err := s.manager.ListInstances()
		if err != nil {
			return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to list instances")
		}
		for _, inst := range instances {
			s.killInstance(inst.ID, "kill-all requested")
		}
		s.waitOrder.ClearAll()
	case req.GroupID != "":
		members := s.groupMgr.Caches().GetGroupInstances(req.GroupID)
		for _, id := range members {
			s.killInstance(id, "group removed")
		}
		if err := s.manager.DeleteGroup(req.GroupID); err != nil {
			return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to delete group %s", req.GroupID)
		}
		s.groupMgr.Caches().RemoveGroup(req.GroupID)
	case req.InstanceID != "":
		instance, err := s.manager.GetInstance(req.InstanceID)
		if err != nil {
			return nil, rpcerrors.Wrap(rpcerrors.CodeFunctionNotFound, err, "instance %s not found", req.InstanceID)
		}
		s.killInstance(req.InstanceID, fmt.Sprintf("kill signal %d", req.Signal))
		if req.Signal == rpcmsg.SignalKillGroupInstance && instance.GroupID != "" {
			_ = s.groupMgr.OnInstanceAbnormal(req.InstanceID, instance.GroupID, "killed with group-cascade signal")
		}
	default:
		return nil, rpcerrors.New(rpcerrors.CodeParamInvalid, "kill request must set instance_id, group_id, or all")
	}

	return &rpcmsg.KillResponse{RequestID: req.RequestID}, nil
}

// killInstance is the KillFunc handed to the group manager for
// cascades, and the shared path every Kill selector funnels through:
// it clears sequencing state, credits back resource-view occupancy,
// removes the group-cache entry, and deletes the instance record.
func (s *Server) killInstance(instanceID, reason string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InstanceKillDuration)

	instance, err := s.manager.GetInstance(instanceID)
	if err != nil {
		return nil // already gone; killing a killed instance is a no-op
	}
	s.waitOrder.ClearInstance(instanceID)
	if instance.UnitID != "" {
		s.view.RemoveInstances(instance.UnitID, instanceID)
	}
	s.groupMgr.OnInstanceDelete(instanceID, instance.GroupID)
	s.logger.Info().Str("instance", instanceID).Str("reason", reason).Msg("killing instance")
	return s.manager.DeleteInstance(instanceID)
}

// CreateResourceGroup fans a range or function-group bundle out into N
// member instances sharing one lifecycle envelope, scheduling every
// member independently and registering the group once the last member
// is placed.
func (s *Server) CreateResourceGroup(ctx context.Context, req *rpcmsg.CreateResourceGroupRequest) (*rpcmsg.CreateResourceGroupResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if len(req.Members) == 0 {
		return nil, rpcerrors.New(rpcerrors.CodeParamInvalid, "resource group must have at least one member")
	}

	groupID := uuid.NewString()
	specs := make([]*types.RequestSpec, len(req.Members))
	for i, m := range req.Members {
		if err := validateCreate(m.FunctionName, m.Concurrency, m.Labels); err != nil {
			return nil, err
		}
		specs[i] = &types.RequestSpec{
			FunctionName:   m.FunctionName,
			ResourceDemand: m.ResourceDemand,
			Affinity:       fromWireAffinity(m.Affinity),
			Priority:       m.Priority,
			PreemptAllowed: m.PreemptAllowed,
			Timeout:        m.Timeout,
		}
	}

	var members []*types.RequestSpec
	if req.IsRange {
		members = rangegroup.BuildRangeMembers(specs[0], len(specs))
	} else {
		members = rangegroup.BuildFunctionGroupMembers(req.Name, specs, int(req.BundleSize))
	}

	instanceIDs := make([]string, len(members))
	items := make([]*types.QueueItem, len(members))
	for i, spec := range members {
		instanceID := uuid.NewString()
		instanceIDs[i] = instanceID
		instance := &types.Instance{
			ID:             instanceID,
			FunctionName:   spec.FunctionName,
			GroupID:        groupID,
			State:          types.InstanceStatePending,
			Priority:       spec.Priority,
			Affinity:       spec.Affinity,
			ResourceDemand: spec.ResourceDemand,
			SameLifecycle:  req.SameLifecycle,
			CreatedAt:      time.Now(),
		}
		if err := s.manager.CreateInstance(instance); err != nil {
			return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to persist group member")
		}
		item := types.NewQueueItem(types.QueueItemInstance, spec.Priority, spec)
		item.InstanceID = instanceID
		item.GroupID = groupID
		items[i] = item
		s.scheduler.Enqueue(item)
	}

	group := &types.Group{
		ID:            groupID,
		Name:          req.Name,
		Members:       instanceIDs,
		State:         types.GroupStatePending,
		SameLifecycle: req.SameLifecycle,
		CreatedAt:     time.Now(),
	}
	if err := s.manager.CreateGroup(group); err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to persist group")
	}

	go s.awaitGroupPlacement(req.RequestID, group, instanceIDs, items)

	handles := rangegroup.OpenAccelerateHandles(instanceIDs)
	queueHandles := make([]string, len(handles))
	for i, h := range handles {
		queueHandles[i] = h.QueueHandle
	}

	return &rpcmsg.CreateResourceGroupResponse{
		RequestID:    req.RequestID,
		GroupID:      groupID,
		InstanceIDs:  instanceIDs,
		QueueHandles: queueHandles,
	}, nil
}

// awaitGroupPlacement waits for every member's placement, commits each
// to the metadata store and the group cache, marks the group Running
// once every member lands, and publishes one Notify frame for the
// whole group.
func (s *Server) awaitGroupPlacement(requestID string, group *types.Group, instanceIDs []string, items []*types.QueueItem) {
	memberNodes := make(map[string]string, len(items))
	anyFailed := false

	for i, item := range items {
		result := <-item.Done()
		instanceID := instanceIDs[i]
		instance, err := s.manager.GetInstance(instanceID)
		if err != nil {
			continue
		}
		if result.Err != nil {
			anyFailed = true
			instance.State = types.InstanceStateFailed
			_ = s.manager.UpdateInstance(instance)
			continue
		}
		instance.NodeID = result.NodeID
		instance.UnitID = result.UnitID
		instance.State = types.InstanceStateScheduled
		instance.ScheduledAt = time.Now()
		_ = s.manager.UpdateInstance(instance)
		memberNodes[instanceID] = result.NodeID
		for _, victimID := range result.Preempted {
			metrics.PreemptionsTotal.Inc()
			s.killInstance(victimID, "preempted to make room for a group member")
		}
	}

	group.State = types.GroupStateRunning
	if anyFailed {
		group.State = types.GroupStateFailed
	}
	_ = s.manager.UpdateGroup(group)
	s.groupMgr.RegisterGroup(group, memberNodes)

	if anyFailed {
		_ = s.groupMgr.OnInstanceAbnormal("", group.ID, "one or more group members failed to schedule")
	}

	s.manager.NotifyBus().Publish(&notifybus.Frame{
		RequestID: requestID,
		Type:      notifybus.FrameNotify,
		Payload:   map[string]string{"group_id": group.ID},
	})
}

// RemoveResourceGroup tears down a group: kills every member and
// deletes the group record.
func (s *Server) RemoveResourceGroup(ctx context.Context, req *rpcmsg.RemoveResourceGroupRequest) (*rpcmsg.RemoveResourceGroupResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	group, err := s.manager.GetGroup(req.GroupID)
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeFunctionNotFound, err, "group %s not found", req.GroupID)
	}
	for _, instanceID := range group.Members {
		s.killInstance(instanceID, "resource group removed")
	}
	if err := s.manager.DeleteGroup(req.GroupID); err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to delete group %s", req.GroupID)
	}
	s.groupMgr.Caches().RemoveGroup(req.GroupID)
	return &rpcmsg.RemoveResourceGroupResponse{RequestID: req.RequestID}, nil
}

// QueryResources lists the cluster's resource-unit inventory, optionally
// filtered to one node.
func (s *Server) QueryResources(ctx context.Context, req *rpcmsg.QueryResourcesRequest) (*rpcmsg.QueryResourcesResponse, error) {
	units, err := s.manager.ListResourceUnits()
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to list resource units")
	}
	resp := &rpcmsg.QueryResourcesResponse{}
	for _, u := range units {
		if req.NodeID != "" && u.NodeID != req.NodeID {
			continue
		}
		resp.Units = append(resp.Units, &rpcmsg.ResourceUnitInfo{
			ID: u.ID, NodeID: u.NodeID, Kind: u.Kind, Capacity: u.Capacity, Used: u.Used,
		})
	}
	return resp, nil
}

// QueryNamedInstances lists instances matching a function name.
func (s *Server) QueryNamedInstances(ctx context.Context, req *rpcmsg.QueryNamedInstancesRequest) (*rpcmsg.QueryNamedInstancesResponse, error) {
	instances, err := s.manager.ListInstances()
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeInternal, err, "failed to list instances")
	}
	resp := &rpcmsg.QueryNamedInstancesResponse{}
	for _, inst := range instances {
		if req.FunctionName != "" && inst.FunctionName != req.FunctionName {
			continue
		}
		resp.Instances = append(resp.Instances, &rpcmsg.InstanceInfo{
			ID: inst.ID, FunctionName: inst.FunctionName, GroupID: inst.GroupID,
			NodeID: inst.NodeID, UnitID: inst.UnitID, State: string(inst.State), Priority: inst.Priority,
		})
	}
	return resp, nil
}

// QueryResourceGroup returns a group's membership and lifecycle state.
func (s *Server) QueryResourceGroup(ctx context.Context, req *rpcmsg.QueryResourceGroupRequest) (*rpcmsg.QueryResourceGroupResponse, error) {
	group, err := s.manager.GetGroup(req.GroupID)
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.CodeFunctionNotFound, err, "group %s not found", req.GroupID)
	}
	return &rpcmsg.QueryResourceGroupResponse{
		GroupID: group.ID, Name: group.Name, State: string(group.State), Members: group.Members,
	}, nil
}

// WatchFrames streams the async Notify/Checkpoint/Recover/Signal/
// Shutdown frames published for one request ID until the client
// disconnects.
func (s *Server) WatchFrames(req *rpcmsg.WatchFramesRequest, stream rpcmsg.NimbusAPI_WatchFramesServer) error {
	ch := s.manager.NotifyBus().Subscribe(req.RequestID)
	defer s.manager.NotifyBus().Unsubscribe(req.RequestID)

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(toWireFrame(frame)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func toWireFrame(f *notifybus.Frame) *rpcmsg.Frame {
	wire := &rpcmsg.Frame{RequestID: f.RequestID, Type: string(f.Type), Payload: f.Payload}
	if f.Err != nil {
		code := rpcerrors.CodeInternal
		if status, ok := f.Err.(*rpcerrors.Status); ok {
			code = status.Code
		}
		wire.Error = &rpcmsg.ErrorDetail{Code: int32(code), Message: f.Err.Error()}
	}
	return wire
}

func fromWireAffinity(a *rpcmsg.AffinitySpec) *types.AffinitySpec {
	if a == nil {
		return nil
	}
	return &types.AffinitySpec{
		RequiredResourceAffinity:      fromWireSelector(a.RequiredResourceAffinity),
		PreferredResourceAffinity:     fromWireSelector(a.PreferredResourceAffinity),
		RequiredInstanceAffinity:      fromWireSelector(a.RequiredInstanceAffinity),
		PreferredInstanceAffinity:     fromWireSelector(a.PreferredInstanceAffinity),
		RequiredInstanceAntiAffinity:  fromWireSelector(a.RequiredInstanceAntiAffinity),
		PreferredInstanceAntiAffinity: fromWireSelector(a.PreferredInstanceAntiAffinity),
	}
}

func fromWireSelector(sel *rpcmsg.AffinitySelector) *types.AffinitySelector {
	if sel == nil {
		return nil
	}
	out := &types.AffinitySelector{Terms: make([]types.AffinityTerm, len(sel.Terms))}
	for i, term := range sel.Terms {
		exprs := make([]types.LabelExpression, len(term.Expressions))
		for j, e := range term.Expressions {
			exprs[j] = types.LabelExpression{Key: e.Key, Operator: types.AffinityOperator(e.Operator), Values: e.Values}
		}
		out.Terms[i] = types.AffinityTerm{Expressions: exprs, Weight: term.Weight}
	}
	return out
}
