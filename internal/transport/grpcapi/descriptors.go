package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

const (
	authServiceName    = "transit.AuthService"
	fleetServiceName   = "transit.FleetService"
	sessionServiceName = "transit.SessionService"
	ingestServiceName  = "transit.IngestionService"
	protoFile          = "transit_tracker.proto"
)

// unary builds a MethodDesc handler that decodes Req and routes through the interceptor chain.
func unary[Req any, Resp any](service, method string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(*Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(*Server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: authServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(authServiceName, "IssueToken", (*Server).IssueToken),
	},
	Metadata: protoFile,
}

var fleetServiceDesc = grpc.ServiceDesc{
	ServiceName: fleetServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(fleetServiceName, "RegisterVehicle", (*Server).RegisterVehicle),
		unary(fleetServiceName, "GetVehicle", (*Server).GetVehicle),
		unary(fleetServiceName, "FindVehicleByPlate", (*Server).FindVehicleByPlate),
		unary(fleetServiceName, "ListVehicles", (*Server).ListVehicles),
		unary(fleetServiceName, "UpdateLocation", (*Server).UpdateLocation),
		unary(fleetServiceName, "ChangeStatus", (*Server).ChangeStatus),
		unary(fleetServiceName, "AssignRoute", (*Server).AssignRoute),
		unary(fleetServiceName, "UnassignRoute", (*Server).UnassignRoute),
	},
	Metadata: protoFile,
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(sessionServiceName, "StartSession", (*Server).StartSession),
		unary(sessionServiceName, "GetSession", (*Server).GetSession),
		unary(sessionServiceName, "SuspendSession", (*Server).SuspendSession),
		unary(sessionServiceName, "ResumeSession", (*Server).ResumeSession),
		unary(sessionServiceName, "EndSession", (*Server).EndSession),
	},
	Metadata: protoFile,
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(ingestServiceName, "Run", (*Server).RunIngestion),
		unary(ingestServiceName, "ChangeStatuses", (*Server).ChangeStatuses),
		unary(ingestServiceName, "ProviderHealth", (*Server).ProviderHealth),
	},
	Metadata: protoFile,
}
