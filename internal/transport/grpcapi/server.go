package grpcapi

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"transit-tracker/internal/auth"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

var (
	operators = []string{domain.RoleAdmin, domain.RoleDispatcher}
	anyone    = []string{domain.RoleAdmin, domain.RoleDispatcher, domain.RoleDriver}
)

// methodRoles lists who may call each method. Methods missing here are public.
var methodRoles = map[string][]string{
	"/" + fleetServiceName + "/RegisterVehicle":    {domain.RoleAdmin},
	"/" + fleetServiceName + "/GetVehicle":         anyone,
	"/" + fleetServiceName + "/FindVehicleByPlate": anyone,
	"/" + fleetServiceName + "/ListVehicles":       anyone,
	"/" + fleetServiceName + "/UpdateLocation":     anyone,
	"/" + fleetServiceName + "/ChangeStatus":       operators,
	"/" + fleetServiceName + "/AssignRoute":        operators,
	"/" + fleetServiceName + "/UnassignRoute":      operators,
	"/" + sessionServiceName + "/StartSession":     anyone,
	"/" + sessionServiceName + "/GetSession":       anyone,
	"/" + sessionServiceName + "/SuspendSession":   anyone,
	"/" + sessionServiceName + "/ResumeSession":    anyone,
	"/" + sessionServiceName + "/EndSession":       anyone,
	"/" + ingestServiceName + "/Run":               operators,
	"/" + ingestServiceName + "/ChangeStatuses":    operators,
	"/" + ingestServiceName + "/ProviderHealth":    operators,
}

type Server struct {
	svc    *service.Service
	ingest transport.Ingestor
	auth   *auth.Authenticator
	log    *zap.Logger
}

// NewServer registers the JSON-coded services on a gRPC server instrumented with otelgrpc.
// ing may be nil, in which case the ingestion service answers Unavailable.
func NewServer(svc *service.Service, ing transport.Ingestor, authenticator *auth.Authenticator, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	server := &Server{svc: svc, ingest: ing, auth: authenticator, log: log}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(server.logInterceptor, server.authInterceptor),
	}, opts...)
	grpcServer := grpc.NewServer(opts...)

	grpcServer.RegisterService(&authServiceDesc, server)
	grpcServer.RegisterService(&fleetServiceDesc, server)
	grpcServer.RegisterService(&sessionServiceDesc, server)
	grpcServer.RegisterService(&ingestServiceDesc, server)

	return grpcServer
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Info("grpc request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}

func (s *Server) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	roles, guarded := methodRoles[info.FullMethod]
	if !guarded {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	header := ""
	if values := md.Get("authorization"); len(values) > 0 {
		header = values[0]
	}
	claims, err := s.auth.Authorize(header, roles...)
	if err != nil {
		return nil, toStatus(err)
	}
	return handler(auth.ContextWithClaims(ctx, claims), req)
}

func (s *Server) IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	token, exp, err := s.auth.IssueToken(req.Name, req.Role)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TokenResponse{Token: token, ExpiresAt: exp.Format(time.RFC3339)}, nil
}

func (s *Server) RegisterVehicle(ctx context.Context, req *RegisterVehicleRequest) (*transport.VehicleResponse, error) {
	v, err := s.svc.RegisterVehicle(ctx, service.RegisterVehicleCommand{
		LicensePlate: req.LicensePlate,
		Type:         req.Type,
		Capacity:     req.Capacity,
		Model:        req.Model,
	})
	return vehicleReply(v, err)
}

func (s *Server) GetVehicle(ctx context.Context, req *VehicleRequest) (*transport.VehicleResponse, error) {
	return vehicleReply(s.svc.GetVehicle(ctx, req.VehicleID))
}

func (s *Server) FindVehicleByPlate(ctx context.Context, req *VehicleRequest) (*transport.VehicleResponse, error) {
	return vehicleReply(s.svc.FindVehicleByLicensePlate(ctx, req.VehicleID))
}

func (s *Server) ListVehicles(ctx context.Context, req *ListVehiclesRequest) (*ListVehiclesResponse, error) {
	filter := service.VehicleFilter{Limit: req.Limit, Offset: req.Offset}
	if req.Status != "" {
		st, ok := domain.ParseVehicleStatus(strings.ToUpper(req.Status))
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "unknown vehicle status")
		}
		filter.Status = &st
	}
	vehicles, err := s.svc.ListVehicles(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListVehiclesResponse{Vehicles: transport.FromVehicles(vehicles)}, nil
}

func (s *Server) UpdateLocation(ctx context.Context, req *LocationRequest) (*transport.LocationOutcomeResponse, error) {
	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "timestamp must be RFC3339")
		}
		ts = parsed
	}
	out, err := s.svc.UpdateLocation(ctx, service.LocationCommand{
		VehicleRef:     req.VehicleRef,
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.AccuracyMeters,
		SpeedKmh:       req.SpeedKmh,
		BearingDegrees: req.BearingDegrees,
		Timestamp:      ts,
		Source:         "grpc:" + auth.Actor(ctx),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := transport.FromLocationOutcome(out)
	return &resp, nil
}

func (s *Server) ChangeStatus(ctx context.Context, req *StatusRequest) (*transport.VehicleResponse, error) {
	return vehicleReply(s.svc.ChangeStatus(ctx, statusCommand(ctx, req)))
}

func (s *Server) AssignRoute(ctx context.Context, req *RouteRequest) (*transport.VehicleResponse, error) {
	return vehicleReply(s.svc.AssignRoute(ctx, req.VehicleID, req.RouteID))
}

func (s *Server) UnassignRoute(ctx context.Context, req *RouteRequest) (*transport.VehicleResponse, error) {
	reason := req.Reason
	if reason == "" {
		reason = "unassigned by " + auth.Actor(ctx)
	}
	return vehicleReply(s.svc.UnassignRoute(ctx, req.VehicleID, reason))
}

func (s *Server) StartSession(ctx context.Context, req *StartSessionRequest) (*transport.SessionResponse, error) {
	cmd := service.StartSessionCommand{VehicleID: req.VehicleID, RouteID: req.RouteID, DriverID: req.DriverID}
	if req.StartLocation != nil {
		cmd.StartLocation = &domain.Coordinate{
			Lat:            req.StartLocation.Lat,
			Lng:            req.StartLocation.Lng,
			AccuracyMeters: req.StartLocation.AccuracyMeters,
		}
	}
	return sessionReply(s.svc.StartSession(ctx, cmd))
}

func (s *Server) GetSession(ctx context.Context, req *SessionRequest) (*transport.SessionResponse, error) {
	return sessionReply(s.svc.GetSession(ctx, req.SessionID))
}

func (s *Server) SuspendSession(ctx context.Context, req *SessionRequest) (*transport.SessionResponse, error) {
	return sessionReply(s.svc.SuspendSession(ctx, req.SessionID, req.Reason))
}

func (s *Server) ResumeSession(ctx context.Context, req *SessionRequest) (*transport.SessionResponse, error) {
	return sessionReply(s.svc.ResumeSession(ctx, req.SessionID))
}

func (s *Server) EndSession(ctx context.Context, req *SessionRequest) (*transport.SessionResponse, error) {
	return sessionReply(s.svc.EndSession(ctx, req.SessionID, req.Reason))
}

func (s *Server) RunIngestion(ctx context.Context, req *RunIngestionRequest) (*ingest.IngestionResult, error) {
	if s.ingest == nil {
		return nil, status.Error(codes.Unavailable, "ingestion is disabled")
	}
	res := s.ingest.Run(ctx, req.Providers)
	if res.NoProviders {
		return nil, status.Error(codes.NotFound, domain.CodeNoProviders+": no matching providers")
	}
	return &res, nil
}

func (s *Server) ChangeStatuses(ctx context.Context, req *BatchStatusRequest) (*BatchStatusResponse, error) {
	if s.ingest == nil {
		return nil, status.Error(codes.Unavailable, "ingestion is disabled")
	}
	cmds := make([]service.StatusCommand, 0, len(req.Changes))
	for i := range req.Changes {
		cmds = append(cmds, statusCommand(ctx, &req.Changes[i]))
	}
	res := s.ingest.ChangeStatuses(ctx, cmds)
	return &BatchStatusResponse{Succeeded: res.Succeeded, Failed: res.Failed, Results: res.Results}, nil
}

func (s *Server) ProviderHealth(ctx context.Context, _ *Empty) (*ProviderHealthResponse, error) {
	if s.ingest == nil {
		return nil, status.Error(codes.Unavailable, "ingestion is disabled")
	}
	out := &ProviderHealthResponse{Providers: map[string]ProviderHealth{}, Filter: s.ingest.FilterStats()}
	for name, h := range s.ingest.ProviderHealth() {
		out.Providers[name] = ProviderHealth{
			Healthy:      h.Healthy,
			SuccessCount: h.SuccessCount,
			FailureCount: h.FailureCount,
			LastError:    h.LastError,
		}
	}
	return out, nil
}

func statusCommand(ctx context.Context, req *StatusRequest) service.StatusCommand {
	return service.StatusCommand{
		VehicleID: req.VehicleID,
		Status:    domain.VehicleStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Reason:    req.Reason,
		ChangedBy: auth.Actor(ctx),
	}
}

func vehicleReply(v *domain.Vehicle, err error) (*transport.VehicleResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	resp := transport.FromVehicle(v)
	return &resp, nil
}

func sessionReply(sess *domain.TrackingSession, err error) (*transport.SessionResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	resp := transport.FromSession(sess)
	return &resp, nil
}
