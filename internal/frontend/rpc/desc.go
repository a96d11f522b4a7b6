// Package rpc exposes the chat service over gRPC. Messages are
// google.protobuf.Struct values, and the service descriptor is declared here
// by hand in the shape protoc-gen-go-grpc would emit.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "roomchat.v1.ChatService"

// Full method names.
const (
	ChatService_CreateRoom_FullMethodName  = "/" + ServiceName + "/CreateRoom"
	ChatService_ListRooms_FullMethodName   = "/" + ServiceName + "/ListRooms"
	ChatService_JoinRoom_FullMethodName    = "/" + ServiceName + "/JoinRoom"
	ChatService_SendMessage_FullMethodName = "/" + ServiceName + "/SendMessage"
	ChatService_Connect_FullMethodName     = "/" + ServiceName + "/Connect"
)

// ChatServiceServer is the server API for the chat service.
type ChatServiceServer interface {
	CreateRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterChatServiceServer registers srv with s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatService_ServiceDesc, srv)
}

// ChatService_ServiceDesc is the grpc.ServiceDesc for the chat service.
var ChatService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRoom", Handler: unaryHandler(ChatService_CreateRoom_FullMethodName, ChatServiceServer.CreateRoom)},
		{MethodName: "ListRooms", Handler: unaryHandler(ChatService_ListRooms_FullMethodName, ChatServiceServer.ListRooms)},
		{MethodName: "JoinRoom", Handler: unaryHandler(ChatService_JoinRoom_FullMethodName, ChatServiceServer.JoinRoom)},
		{MethodName: "SendMessage", Handler: unaryHandler(ChatService_SendMessage_FullMethodName, ChatServiceServer.SendMessage)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
		},
	},
}

type unaryMethod func(ChatServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChatServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChatServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).Connect(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ChatServiceClient is the client API for the chat service.
type ChatServiceClient interface {
	CreateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	JoinRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Connect(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type chatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewChatServiceClient creates a client over cc.
func NewChatServiceClient(cc grpc.ClientConnInterface) ChatServiceClient {
	return &chatServiceClient{cc}
}

func (c *chatServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) CreateRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ChatService_CreateRoom_FullMethodName, in, opts)
}

func (c *chatServiceClient) ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ChatService_ListRooms_FullMethodName, in, opts)
}

func (c *chatServiceClient) JoinRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ChatService_JoinRoom_FullMethodName, in, opts)
}

func (c *chatServiceClient) SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ChatService_SendMessage_FullMethodName, in, opts)
}

func (c *chatServiceClient) Connect(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[0], ChatService_Connect_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
