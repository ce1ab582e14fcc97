package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "wppcrm.v1.ConsoleService"

// ConsoleServer is the server API of the console daemon. Every message
// travels as a google.protobuf.Struct holding the JSON form of the Go type.
type ConsoleServer interface {
	ListContacts(context.Context, *ListContactsRequest) (*ListContactsResponse, error)
	ListEmployees(context.Context, *Empty) (*ListEmployeesResponse, error)
	Assign(context.Context, *AssignRequest) (*Empty, error)
	Unassign(context.Context, *AssignRequest) (*Empty, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	SendStatus(context.Context, *SendStatusRequest) (*SendMessageResponse, error)
	OpenConversation(context.Context, *ConversationRequest) (*ListMessagesResponse, error)
	CloseConversation(context.Context, *ConversationRequest) (*Empty, error)
	ListMessages(context.Context, *ConversationRequest) (*ListMessagesResponse, error)
	ListOutbox(context.Context, *ConversationRequest) (*ListOutboxResponse, error)
	Reconcile(context.Context, *Empty) (*ReconcileResponse, error)
	GetStats(context.Context, *Empty) (*StatsResponse, error)
	PutDocuments(context.Context, *PutDocumentsRequest) (*PutDocumentsResponse, error)
	WatchEvents(*WatchRequest, EventSender) error
}

// EventSender is the server side of a WatchEvents stream.
type EventSender interface {
	Send(*EventView) error
	Context() context.Context
}

// ServiceDesc registers a ConsoleServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsoleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListContacts", ConsoleServer.ListContacts),
		unary("ListEmployees", ConsoleServer.ListEmployees),
		unary("Assign", ConsoleServer.Assign),
		unary("Unassign", ConsoleServer.Unassign),
		unary("SendMessage", ConsoleServer.SendMessage),
		unary("SendStatus", ConsoleServer.SendStatus),
		unary("OpenConversation", ConsoleServer.OpenConversation),
		unary("CloseConversation", ConsoleServer.CloseConversation),
		unary("ListMessages", ConsoleServer.ListMessages),
		unary("ListOutbox", ConsoleServer.ListOutbox),
		unary("Reconcile", ConsoleServer.Reconcile),
		unary("GetStats", ConsoleServer.GetStats),
		unary("PutDocuments", ConsoleServer.PutDocuments),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ConsoleServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the gRPC method path of name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, fn func(ConsoleServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := fromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
				}
				resp, err := fn(srv.(ConsoleServer), ctx, r)
				if err != nil {
					return nil, err
				}
				return toStruct(resp)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, call)
		},
	}
}

type eventSender struct {
	grpc.ServerStream
}

func (s eventSender) Send(e *EventView) error {
	out, err := toStruct(e)
	if err != nil {
		return err
	}
	return s.SendMsg(out)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req WatchRequest
	if err := fromStruct(in, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode WatchEvents request: %v", err)
	}
	return srv.(ConsoleServer).WatchEvents(&req, eventSender{stream})
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
