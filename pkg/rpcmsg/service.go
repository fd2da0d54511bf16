package rpcmsg

import (
	"context"

	"google.golang.org/grpc"
)

// NimbusAPIServer is implemented by pkg/api.Server. It stands in for
// the protoc-generated server interface a real .proto file would
// produce.
type NimbusAPIServer interface {
	Create(context.Context, *CreateRequest) (*CreateResponse, error)
	Invoke(context.Context, *InvokeRequest) (*InvokeResponse, error)
	Kill(context.Context, *KillRequest) (*KillResponse, error)
	CreateResourceGroup(context.Context, *CreateResourceGroupRequest) (*CreateResourceGroupResponse, error)
	RemoveResourceGroup(context.Context, *RemoveResourceGroupRequest) (*RemoveResourceGroupResponse, error)
	QueryResources(context.Context, *QueryResourcesRequest) (*QueryResourcesResponse, error)
	QueryNamedInstances(context.Context, *QueryNamedInstancesRequest) (*QueryNamedInstancesResponse, error)
	QueryResourceGroup(context.Context, *QueryResourceGroupRequest) (*QueryResourceGroupResponse, error)
	WatchFrames(*WatchFramesRequest, NimbusAPI_WatchFramesServer) error
}

// NimbusAPI_WatchFramesServer is the server-side handle for the
// WatchFrames server-streaming RPC: the async Notify/Checkpoint/
// Recover/Signal/Shutdown delivery loop to a connected client.
type NimbusAPI_WatchFramesServer interface {
	Send(*Frame) error
	grpc.ServerStream
}

type watchFramesServer struct {
	grpc.ServerStream
}

func (s *watchFramesServer) Send(f *Frame) error {
	return s.ServerStream.SendMsg(f)
}

func watchFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchFramesRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NimbusAPIServer).WatchFrames(req, &watchFramesServer{stream})
}

// RegisterNimbusAPIServer wires srv into gRPC's method dispatch table,
// the hand-written equivalent of a protoc-generated RegisterXServer
// call.
func RegisterNimbusAPIServer(s grpc.ServiceRegistrar, srv NimbusAPIServer) {
	s.RegisterService(&nimbusAPIServiceDesc, srv)
}

func handlerFor[Req any, Resp any](method func(NimbusAPIServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(NimbusAPIServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(NimbusAPIServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

func unaryHandler[Req any, Resp any](fullMethod string, method func(NimbusAPIServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	h := handlerFor(method)
	return grpc.MethodDesc{
		MethodName: fullMethod,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			return h(srv, ctx, dec, interceptor)
		},
	}
}

var nimbusAPIServiceDesc = grpc.ServiceDesc{
	ServiceName: "nimbus.NimbusAPI",
	HandlerType: (*NimbusAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Create", NimbusAPIServer.Create),
		unaryHandler("Invoke", NimbusAPIServer.Invoke),
		unaryHandler("Kill", NimbusAPIServer.Kill),
		unaryHandler("CreateResourceGroup", NimbusAPIServer.CreateResourceGroup),
		unaryHandler("RemoveResourceGroup", NimbusAPIServer.RemoveResourceGroup),
		unaryHandler("QueryResources", NimbusAPIServer.QueryResources),
		unaryHandler("QueryNamedInstances", NimbusAPIServer.QueryNamedInstances),
		unaryHandler("QueryResourceGroup", NimbusAPIServer.QueryResourceGroup),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchFrames",
			Handler:       watchFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "nimbus/api.proto",
}

// NimbusAPIClient is the hand-written equivalent of a protoc-generated
// client interface, implemented by rpcmsg.Client.
type NimbusAPIClient interface {
	Create(ctx context.Context, in *CreateRequest) (*CreateResponse, error)
	Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error)
	Kill(ctx context.Context, in *KillRequest) (*KillResponse, error)
	CreateResourceGroup(ctx context.Context, in *CreateResourceGroupRequest) (*CreateResourceGroupResponse, error)
	RemoveResourceGroup(ctx context.Context, in *RemoveResourceGroupRequest) (*RemoveResourceGroupResponse, error)
	QueryResources(ctx context.Context, in *QueryResourcesRequest) (*QueryResourcesResponse, error)
	QueryNamedInstances(ctx context.Context, in *QueryNamedInstancesRequest) (*QueryNamedInstancesResponse, error)
	QueryResourceGroup(ctx context.Context, in *QueryResourceGroupRequest) (*QueryResourceGroupResponse, error)
	WatchFrames(ctx context.Context, in *WatchFramesRequest) (NimbusAPI_WatchFramesClient, error)
}

// NimbusAPI_WatchFramesClient is the client-side handle returned by
// WatchFrames; callers loop on Recv until it returns io.EOF or an
// error.
type NimbusAPI_WatchFramesClient interface {
	Recv() (*Frame, error)
	grpc.ClientStream
}

type watchFramesClient struct {
	grpc.ClientStream
}

func (c *watchFramesClient) Recv() (*Frame, error) {
	f := new(Frame)
	if err := c.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

type nimbusAPIClient struct {
	cc grpc.ClientConnInterface
}

// NewNimbusAPIClient wraps a *grpc.ClientConn (or any
// grpc.ClientConnInterface, including an in-process pipe) with the
// NimbusAPI method set.
func NewNimbusAPIClient(cc grpc.ClientConnInterface) NimbusAPIClient {
	return &nimbusAPIClient{cc: cc}
}

func invoke[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	callOpt := grpc.CallContentSubtype(codecName)
	if err := cc.Invoke(ctx, "/nimbus.NimbusAPI/"+method, req, resp, callOpt); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *nimbusAPIClient) Create(ctx context.Context, in *CreateRequest) (*CreateResponse, error) {
	return invoke[CreateRequest, CreateResponse](ctx, c.cc, "Create", in)
}

func (c *nimbusAPIClient) Invoke(ctx context.Context, in *InvokeRequest) (*InvokeResponse, error) {
	return invoke[InvokeRequest, InvokeResponse](ctx, c.cc, "Invoke", in)
}

func (c *nimbusAPIClient) Kill(ctx context.Context, in *KillRequest) (*KillResponse, error) {
	return invoke[KillRequest, KillResponse](ctx, c.cc, "Kill", in)
}

func (c *nimbusAPIClient) CreateResourceGroup(ctx context.Context, in *CreateResourceGroupRequest) (*CreateResourceGroupResponse, error) {
	return invoke[CreateResourceGroupRequest, CreateResourceGroupResponse](ctx, c.cc, "CreateResourceGroup", in)
}

func (c *nimbusAPIClient) RemoveResourceGroup(ctx context.Context, in *RemoveResourceGroupRequest) (*RemoveResourceGroupResponse, error) {
	return invoke[RemoveResourceGroupRequest, RemoveResourceGroupResponse](ctx, c.cc, "RemoveResourceGroup", in)
}

func (c *nimbusAPIClient) QueryResources(ctx context.Context, in *QueryResourcesRequest) (*QueryResourcesResponse, error) {
	return invoke[QueryResourcesRequest, QueryResourcesResponse](ctx, c.cc, "QueryResources", in)
}

func (c *nimbusAPIClient) QueryNamedInstances(ctx context.Context, in *QueryNamedInstancesRequest) (*QueryNamedInstancesResponse, error) {
	return invoke[QueryNamedInstancesRequest, QueryNamedInstancesResponse](ctx, c.cc, "QueryNamedInstances", in)
}

func (c *nimbusAPIClient) QueryResourceGroup(ctx context.Context, in *QueryResourceGroupRequest) (*QueryResourceGroupResponse, error) {
	return invoke[QueryResourceGroupRequest, QueryResourceGroupResponse](ctx, c.cc, "QueryResourceGroup", in)
}

func (c *nimbusAPIClient) WatchFrames(ctx context.Context, in *WatchFramesRequest) (NimbusAPI_WatchFramesClient, error) {
	desc := &grpc.StreamDesc{StreamName: "WatchFrames", ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, "/nimbus.NimbusAPI/WatchFrames", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &watchFramesClient{stream}, nil
}
