package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"transit-tracker/internal/auth"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/provider"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc    *service.Service
	ingest transport.Ingestor
	auth   *auth.Authenticator
	health Pinger
	log    *zap.Logger
}

type Option func(*Server)

func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

func NewServer(svc *service.Service, ing transport.Ingestor, authenticator *auth.Authenticator, log *zap.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, ingest: ing, auth: authenticator, log: log}
	for _, opt := range opts {
		opt(s)
	}

	operators := []string{domain.RoleAdmin, domain.RoleDispatcher}
	anyone := []string{domain.RoleAdmin, domain.RoleDispatcher, domain.RoleDriver}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Post("/auth/token", s.handleIssueToken)

	r.Route("/vehicles", func(r chi.Router) {
		r.With(s.requireRole(anyone...)).Get("/", s.handleListVehicles)
		r.With(s.requireRole(anyone...)).Get("/{id}", s.handleGetVehicle)
		r.With(s.requireRole(anyone...)).Get("/by-plate/{plate}", s.handleFindByPlate)
		r.With(s.requireRole(anyone...)).Post("/{ref}/location", s.handleUpdateLocation)

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(operators...))
			r.Post("/{id}/status", s.handleChangeStatus)
			r.Post("/status", s.handleBatchStatus)
			r.Put("/{id}/route", s.handleAssignRoute)
			r.Delete("/{id}/route", s.handleUnassignRoute)
		})
		r.With(s.requireRole(domain.RoleAdmin)).Post("/", s.handleRegisterVehicle)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(s.requireRole(anyone...))
		r.Post("/", s.handleStartSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/suspend", s.handleSuspendSession)
		r.Post("/{id}/resume", s.handleResumeSession)
		r.Post("/{id}/end", s.handleEndSession)
		r.Post("/{id}/fixes", s.handleSessionFix)
	})

	r.Route("/ingestion", func(r chi.Router) {
		r.Use(s.requireRole(operators...))
		r.Post("/runs", s.handleRunIngestion)
		r.Get("/stats", s.handleFilterStats)
		r.Get("/providers", s.handleProviderHealth)
	})

	return r
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.auth.Authorize(r.Header.Get("Authorization"), roles...)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, exp, err := s.auth.IssueToken(req.Name, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp,
	})
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicensePlate string `json:"license_plate"`
		Type         string `json:"type"`
		Capacity     int    `json:"capacity"`
		Model        string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.svc.RegisterVehicle(r.Context(), service.RegisterVehicleCommand{
		LicensePlate: req.LicensePlate,
		Type:         req.Type,
		Capacity:     req.Capacity,
		Model:        req.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, transport.FromVehicle(v))
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.VehicleFilter{}
	if raw := q.Get("status"); raw != "" {
		st, ok := domain.ParseVehicleStatus(strings.ToUpper(raw))
		if !ok {
			writeError(w, domain.Invalid("INVALID_STATUS", "unknown vehicle status", map[string]any{"status": raw}))
			return
		}
		filter.Status = &st
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	vehicles, err := s.svc.ListVehicles(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicles(vehicles))
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicle(v))
}

func (s *Server) handleFindByPlate(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.FindVehicleByLicensePlate(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicle(v))
}

type fixRequest struct {
	Lat            float64    `json:"lat"`
	Lng            float64    `json:"lng"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	SpeedKmh       float64    `json:"speed_kmh"`
	BearingDegrees float64    `json:"bearing_degrees"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (f fixRequest) timestamp() time.Time {
	if f.Timestamp == nil {
		return time.Time{}
	}
	return *f.Timestamp
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.svc.UpdateLocation(r.Context(), service.LocationCommand{
		VehicleRef:     chi.URLParam(r, "ref"),
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.AccuracyMeters,
		SpeedKmh:       req.SpeedKmh,
		BearingDegrees: req.BearingDegrees,
		Timestamp:      req.timestamp(),
		Source:         "api:" + auth.Actor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromLocationOutcome(out))
}

type statusRequest struct {
	VehicleID string `json:"vehicle_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

func (req statusRequest) command(ctx context.Context) service.StatusCommand {
	return service.StatusCommand{
		VehicleID: req.VehicleID,
		Status:    domain.VehicleStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Reason:    req.Reason,
		ChangedBy: auth.Actor(ctx),
	}
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.VehicleID = chi.URLParam(r, "id")
	v, err := s.svc.ChangeStatus(r.Context(), req.command(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicle(v))
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "unavailable", Message: "batch status changes are disabled"})
		return
	}
	var req struct {
		Changes []statusRequest `json:"changes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cmds := make([]service.StatusCommand, 0, len(req.Changes))
	for _, c := range req.Changes {
		cmds = append(cmds, c.command(r.Context()))
	}
	respondJSON(w, http.StatusOK, s.ingest.ChangeStatuses(r.Context(), cmds))
}

func (s *Server) handleAssignRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RouteID string `json:"route_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.svc.AssignRoute(r.Context(), chi.URLParam(r, "id"), req.RouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicle(v))
}

func (s *Server) handleUnassignRoute(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "unassigned by " + auth.Actor(r.Context())
	}
	v, err := s.svc.UnassignRoute(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromVehicle(v))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleID     string              `json:"vehicle_id"`
		RouteID       string              `json:"route_id"`
		DriverID      string              `json:"driver_id"`
		StartLocation *transport.Location `json:"start_location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cmd := service.StartSessionCommand{VehicleID: req.VehicleID, RouteID: req.RouteID, DriverID: req.DriverID}
	if req.StartLocation != nil {
		cmd.StartLocation = &domain.Coordinate{
			Lat:            req.StartLocation.Lat,
			Lng:            req.StartLocation.Lng,
			AccuracyMeters: req.StartLocation.AccuracyMeters,
		}
	}
	sess, err := s.svc.StartSession(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, transport.FromSession(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromSession(sess))
}

func (s *Server) handleSuspendSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.svc.SuspendSession(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromSession(sess))
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.ResumeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromSession(sess))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.svc.EndSession(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, transport.FromSession(sess))
}

func (s *Server) handleSessionFix(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.ProcessSessionFix(r.Context(), chi.URLParam(r, "id"), service.SessionFixCommand{
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.AccuracyMeters,
		SpeedKmh:       req.SpeedKmh,
		BearingDegrees: req.BearingDegrees,
		Timestamp:      req.timestamp(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"accepted":     res.Accepted,
		"filtered":     res.Filtered,
		"delta_meters": res.DeltaMeters,
	})
}

func (s *Server) handleRunIngestion(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "unavailable", Message: "ingestion is disabled"})
		return
	}
	var req struct {
		Providers []string `json:"providers"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	res := s.ingest.Run(r.Context(), req.Providers)
	status := http.StatusOK
	if res.NoProviders {
		status = http.StatusNotFound
	}
	respondJSON(w, status, res)
}

func (s *Server) handleFilterStats(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondJSON(w, http.StatusOK, ingest.FilterStats{Rejected: map[ingest.Rejection]int64{}})
		return
	}
	respondJSON(w, http.StatusOK, s.ingest.FilterStats())
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondJSON(w, http.StatusOK, map[string]provider.HealthStatus{})
		return
	}
	respondJSON(w, http.StatusOK, s.ingest.ProviderHealth())
}
