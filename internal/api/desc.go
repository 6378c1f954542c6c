package api

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "wabridge.v1.Bridge"

// BridgeServer is the control service of the daemon.
type BridgeServer interface {
	Init(context.Context, *Empty) (*StatusResponse, error)
	Status(context.Context, *Empty) (*StatusResponse, error)
	Logout(context.Context, *Empty) (*StatusResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SearchMessages(context.Context, *SearchRequest) (*SearchResponse, error)
	Watch(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of Watch.
type WatchStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

// RegisterBridgeServer registers srv on s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&bridgeServiceDesc, srv)
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Init", BridgeServer.Init),
		unary("Status", BridgeServer.Status),
		unary("Logout", BridgeServer.Logout),
		unary("Send", BridgeServer.Send),
		unary("ListChats", BridgeServer.ListChats),
		unary("ListMessages", BridgeServer.ListMessages),
		unary("SearchMessages", BridgeServer.SearchMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "wabridge/v1/bridge",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unary[Req, Resp any](name string, call func(BridgeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BridgeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BridgeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).Watch(in, &watchServerStream{stream})
}

type watchServerStream struct {
	grpc.ServerStream
}

func (s *watchServerStream) Send(e *EventEnvelope) error {
	return s.SendMsg(e)
}
