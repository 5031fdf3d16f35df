package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "oed.v1.DesignEngine"

// Method names.
const (
	MethodRecordOutcome    = "RecordOutcome"
	MethodRecordTrial      = "RecordTrial"
	MethodNextDesign       = "NextDesign"
	MethodCurrentEstimates = "CurrentEstimates"
	MethodAwait            = "Await"
)

// DesignEngineServer is the server side of oed.v1.DesignEngine. Requests and
// responses are google.protobuf.Struct so presentation clients in any language
// can call it without generated stubs.
type DesignEngineServer interface {
	RecordOutcome(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordTrial(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NextDesign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CurrentEstimates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Await(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DesignEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DesignEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(DesignEngineServer), ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DesignEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodRecordOutcome, Handler: unaryHandler(MethodRecordOutcome, DesignEngineServer.RecordOutcome)},
		{MethodName: MethodRecordTrial, Handler: unaryHandler(MethodRecordTrial, DesignEngineServer.RecordTrial)},
		{MethodName: MethodNextDesign, Handler: unaryHandler(MethodNextDesign, DesignEngineServer.NextDesign)},
		{MethodName: MethodCurrentEstimates, Handler: unaryHandler(MethodCurrentEstimates, DesignEngineServer.CurrentEstimates)},
		{MethodName: MethodAwait, Handler: unaryHandler(MethodAwait, DesignEngineServer.Await)},
	},
	Metadata: "oed/v1/design_engine.proto",
}

// RegisterDesignEngineServer attaches srv to s.
func RegisterDesignEngineServer(s grpc.ServiceRegistrar, srv DesignEngineServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
// #endregion service-desc
