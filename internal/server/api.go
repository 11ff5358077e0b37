package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "intake.v1.IntakeService"

// Method names as they appear on the wire.
const (
	MethodProcessDocument = "ProcessDocument"
	MethodSubmitDocument  = "SubmitDocument"
	MethodCompleteReview  = "CompleteReview"
	MethodCancelItem      = "CancelItem"
	MethodGetItem         = "GetItem"
	MethodListItems       = "ListItems"
	MethodExportItems     = "ExportItems"
)

// FullMethod returns "/intake.v1.IntakeService/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// IntakeServer is the server API. Requests and responses are JSON objects
// carried as google.protobuf.Struct; the export returns raw XLSX bytes.
type IntakeServer interface {
	ProcessDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteReview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportItems(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// IntakeServiceDesc describes IntakeServer for grpc.Server.RegisterService.
var IntakeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntakeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodProcessDocument, IntakeServer.ProcessDocument),
		unary(MethodSubmitDocument, IntakeServer.SubmitDocument),
		unary(MethodCompleteReview, IntakeServer.CompleteReview),
		unary(MethodCancelItem, IntakeServer.CancelItem),
		unary(MethodGetItem, IntakeServer.GetItem),
		unary(MethodListItems, IntakeServer.ListItems),
		unary(MethodExportItems, IntakeServer.ExportItems),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intake/v1/intake.proto",
}

// RegisterIntakeServer registers srv on s.
func RegisterIntakeServer(s grpc.ServiceRegistrar, srv IntakeServer) {
	s.RegisterService(&IntakeServiceDesc, srv)
}

func unary[Resp proto.Message](name string, call func(IntakeServer, context.Context, *structpb.Struct) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(IntakeServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}
