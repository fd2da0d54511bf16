package rpcmsg_test

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/nimbus/pkg/rpcmsg"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeServer struct{}

func (fakeServer) Create(ctx context.Context, in *rpcmsg.CreateRequest) (*rpcmsg.CreateResponse, error) {
	return &rpcmsg.CreateResponse{RequestID: in.RequestID, InstanceID: "inst-" + in.FunctionName}, nil
}

func (fakeServer) Invoke(ctx context.Context, in *rpcmsg.InvokeRequest) (*rpcmsg.InvokeResponse, error) {
	return &rpcmsg.InvokeResponse{RequestID: in.RequestID, InvokeSeqNo: 1}, nil
}

func (fakeServer) Kill(ctx context.Context, in *rpcmsg.KillRequest) (*rpcmsg.KillResponse, error) {
	return &rpcmsg.KillResponse{RequestID: in.RequestID}, nil
}

func (fakeServer) CreateResourceGroup(ctx context.Context, in *rpcmsg.CreateResourceGroupRequest) (*rpcmsg.CreateResourceGroupResponse, error) {
	return &rpcmsg.CreateResourceGroupResponse{RequestID: in.RequestID, GroupID: "group-" + in.Name}, nil
}

func (fakeServer) RemoveResourceGroup(ctx context.Context, in *rpcmsg.RemoveResourceGroupRequest) (*rpcmsg.RemoveResourceGroupResponse, error) {
	return &rpcmsg.RemoveResourceGroupResponse{RequestID: in.RequestID}, nil
}

func (fakeServer) QueryResources(ctx context.Context, in *rpcmsg.QueryResourcesRequest) (*rpcmsg.QueryResourcesResponse, error) {
	return &rpcmsg.QueryResourcesResponse{}, nil
}

func (fakeServer) QueryNamedInstances(ctx context.Context, in *rpcmsg.QueryNamedInstancesRequest) (*rpcmsg.QueryNamedInstancesResponse, error) {
	return &rpcmsg.QueryNamedInstancesResponse{}, nil
}

func (fakeServer) QueryResourceGroup(ctx context.Context, in *rpcmsg.QueryResourceGroupRequest) (*rpcmsg.QueryResourceGroupResponse, error) {
	return &rpcmsg.QueryResourceGroupResponse{GroupID: in.GroupID}, nil
}

func (fakeServer) WatchFrames(req *rpcmsg.WatchFramesRequest, stream rpcmsg.NimbusAPI_WatchFramesServer) error {
	return stream.Send(&rpcmsg.Frame{RequestID: req.RequestID, Type: "notify", Payload: map[string]string{"instance_id": "inst-1"}})
}

func dialer(t *testing.T) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	rpcmsg.RegisterNimbusAPIServer(srv, fakeServer{})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
}

func TestCreateRoundTripOverJSONCodec(t *testing.T) {
	ctx := context.Background()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(dialer(t)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := rpcmsg.NewNimbusAPIClient(conn)
	resp, err := client.Create(ctx, &rpcmsg.CreateRequest{RequestID: "req-1", FunctionName: "fn"})
	require.NoError(t, err)
	require.Equal(t, "req-1", resp.RequestID)
	require.Equal(t, "inst-fn", resp.InstanceID)
}

func TestQueryResourceGroupRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(dialer(t)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := rpcmsg.NewNimbusAPIClient(conn)
	resp, err := client.QueryResourceGroup(ctx, &rpcmsg.QueryResourceGroupRequest{GroupID: "g1"})
	require.NoError(t, err)
	require.Equal(t, "g1", resp.GroupID)
}

func TestWatchFramesStreamsOneFrame(t *testing.T) {
	ctx := context.Background()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(dialer(t)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := rpcmsg.NewNimbusAPIClient(conn)
	stream, err := client.WatchFrames(ctx, &rpcmsg.WatchFramesRequest{RequestID: "req-1"})
	require.NoError(t, err)

	frame, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "req-1", frame.RequestID)
	require.Equal(t, "notify", frame.Type)

	_, err = stream.Recv()
	require.Error(t, err)
}
