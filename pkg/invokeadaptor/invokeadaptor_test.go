package invokeadaptor_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/nimbus/pkg/invokeadaptor"
	"github.com/cuemby/nimbus/pkg/rpcmsg"
)

type fakeServer struct {
	notify *rpcmsg.Frame
}

func (f fakeServer) Create(ctx context.Context, in *rpcmsg.CreateRequest) (*rpcmsg.CreateResponse, error) {
	return &rpcmsg.CreateResponse{RequestID: in.RequestID, InstanceID: "inst-" + in.FunctionName}, nil
}

func (f fakeServer) Invoke(ctx context.Context, in *rpcmsg.InvokeRequest) (*rpcmsg.InvokeResponse, error) {
	return &rpcmsg.InvokeResponse{RequestID: in.RequestID, InvokeSeqNo: 7}, nil
}

func (f fakeServer) Kill(ctx context.Context, in *rpcmsg.KillRequest) (*rpcmsg.KillResponse, error) {
	return &rpcmsg.KillResponse{RequestID: in.RequestID}, nil
}

func (f fakeServer) CreateResourceGroup(ctx context.Context, in *rpcmsg.CreateResourceGroupRequest) (*rpcmsg.CreateResourceGroupResponse, error) {
	return &rpcmsg.CreateResourceGroupResponse{RequestID: in.RequestID, GroupID: "group-" + in.Name, InstanceIDs: []string{"i1", "i2"}, QueueHandles: []string{"accel-i1", "accel-i2"}}, nil
}

func (f fakeServer) RemoveResourceGroup(ctx context.Context, in *rpcmsg.RemoveResourceGroupRequest) (*rpcmsg.RemoveResourceGroupResponse, error) {
	return &rpcmsg.RemoveResourceGroupResponse{RequestID: in.RequestID}, nil
}

func (f fakeServer) QueryResources(ctx context.Context, in *rpcmsg.QueryResourcesRequest) (*rpcmsg.QueryResourcesResponse, error) {
	return &rpcmsg.QueryResourcesResponse{Units: []*rpcmsg.ResourceUnitInfo{{ID: "u1", NodeID: in.NodeID}}}, nil
}

func (f fakeServer) QueryNamedInstances(ctx context.Context, in *rpcmsg.QueryNamedInstancesRequest) (*rpcmsg.QueryNamedInstancesResponse, error) {
	return &rpcmsg.QueryNamedInstancesResponse{Instances: []*rpcmsg.InstanceInfo{{ID: "i1", FunctionName: in.FunctionName}}}, nil
}

func (f fakeServer) QueryResourceGroup(ctx context.Context, in *rpcmsg.QueryResourceGroupRequest) (*rpcmsg.QueryResourceGroupResponse, error) {
	return &rpcmsg.QueryResourceGroupResponse{GroupID: in.GroupID, State: "running"}, nil
}

func (f fakeServer) WatchFrames(req *rpcmsg.WatchFramesRequest, stream rpcmsg.NimbusAPI_WatchFramesServer) error {
	return stream.Send(&rpcmsg.Frame{RequestID: req.RequestID, Type: "notify", Payload: map[string]string{"instance_id": "inst-1"}})
}

func newTestClient(t *testing.T) *invokeadaptor.Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	rpcmsg.RegisterNimbusAPIServer(srv, fakeServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	// invokeadaptor.New dials a real address; tests instead build the
	// client around a bufconn-backed grpc.ClientConn directly since
	// New has no dialer override hook (matching pkg/client.NewClient's
	// own lack of one).
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return invokeadaptor.NewFromConn(conn)
}

func TestCreateWaitsForNotifyFrame(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	instanceID, err := client.Create(ctx, invokeadaptor.CreateOptions{FunctionName: "fn"})
	require.NoError(t, err)
	require.Equal(t, "inst-fn", instanceID)
}

func TestInvokeReturnsSequenceNumber(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seq, err := client.Invoke(ctx, "inst-1", nil, true)
	require.NoError(t, err)
	require.Equal(t, int64(7), seq)
}

func TestQueryResourceGroupRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.QueryResourceGroup(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "g1", resp.GroupID)
	require.Equal(t, "running", resp.State)
}

func TestCreateResourceGroupReturnsMemberIDs(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	groupID, instanceIDs, queueHandles, err := client.CreateResourceGroup(ctx, "mygroup", []invokeadaptor.CreateOptions{{FunctionName: "fn"}}, true, 0, false)
	require.NoError(t, err)
	require.Equal(t, "group-mygroup", groupID)
	require.Equal(t, []string{"i1", "i2"}, instanceIDs)
	require.Equal(t, []string{"accel-i1", "accel-i2"}, queueHandles)
}
