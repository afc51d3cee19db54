package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/auth"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/provider"
	"transit-tracker/internal/repo/memory"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

type fakeIngestor struct {
	runNames []string
	result   ingest.IngestionResult
	changes  []service.StatusCommand
}

func (f *fakeIngestor) Run(_ context.Context, names []string) ingest.IngestionResult {
	f.runNames = names
	return f.result
}

func (f *fakeIngestor) ChangeStatuses(_ context.Context, cmds []service.StatusCommand) ingest.BatchStatusResult {
	f.changes = cmds
	out := ingest.BatchStatusResult{}
	for _, c := range cmds {
		out.Succeeded++
		out.Results = append(out.Results, service.Succeeded(c.VehicleID))
	}
	return out
}

func (f *fakeIngestor) FilterStats() ingest.FilterStats {
	return ingest.FilterStats{Checked: 3, Accepted: 2, Rejected: map[ingest.Rejection]int64{ingest.RejectCooldown: 1}}
}

func (f *fakeIngestor) ProviderHealth() map[string]provider.HealthStatus {
	return map[string]provider.HealthStatus{"static": {Healthy: true, SuccessCount: 4}}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type harness struct {
	t       *testing.T
	handler http.Handler
	auth    *auth.Authenticator
	ingest  *fakeIngestor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	svc := service.New(memory.New(), domain.DefaultSessionLimits(), nil)
	authenticator := auth.New("secret", time.Hour)
	ing := &fakeIngestor{}
	return &harness{
		t:       t,
		handler: NewServer(svc, ing, authenticator, nil, opts...),
		auth:    authenticator,
		ingest:  ing,
	}
}

func (h *harness) token(role string) string {
	h.t.Helper()
	token, _, err := h.auth.IssueToken("tester-"+role, role)
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (h *harness) registerActive(plate string) transport.VehicleResponse {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/vehicles", h.token(domain.RoleAdmin), map[string]any{
		"license_plate": plate, "type": "bus", "capacity": 60,
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[transport.VehicleResponse](h.t, rec)

	rec = h.do(http.MethodPost, "/vehicles/"+v.ID+"/status", h.token(domain.RoleDispatcher), map[string]any{
		"status": "active", "reason": "shift start",
	})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[transport.VehicleResponse](h.t, rec)
}

func TestIssueToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/auth/token", "", map[string]string{"name": "alice", "role": domain.RoleDriver})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.NotEmpty(t, resp["token"])

	rec = h.do(http.MethodPost, "/auth/token", "", map[string]string{"name": "alice", "role": "pilot"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRoleEnforcement(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"license_plate": "ABC-1"}

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/vehicles", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/vehicles", "garbage", body).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/vehicles", h.token(domain.RoleDriver), body).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/ingestion/runs", h.token(domain.RoleDriver), nil).Code)
}

func TestVehicleLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	driver := h.token(domain.RoleDriver)

	rec := h.do(http.MethodPost, "/vehicles", h.token(domain.RoleAdmin), map[string]any{"license_plate": "BUS-7"})
	require.Equal(t, http.StatusCreated, rec.Code)
	v := decode[transport.VehicleResponse](t, rec)
	assert.Equal(t, "AT_DEPOT", v.Status)
	assert.Equal(t, int64(1), v.Version)

	fix := map[string]any{"lat": 40.4168, "lng": -3.7038, "accuracy_meters": 5, "speed_kmh": 20}

	rec = h.do(http.MethodPost, "/vehicles/BUS-7/location", driver, fix)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[transport.LocationOutcomeResponse](t, rec)
	assert.True(t, out.Accepted)
	assert.True(t, out.FirstUpdate)
	assert.Equal(t, v.ID, out.VehicleID)

	rec = h.do(http.MethodGet, "/vehicles/by-plate/bus-7", driver, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[transport.VehicleResponse](t, rec)
	require.NotNil(t, got.CurrentLocation)
	assert.InDelta(t, 40.4168, got.CurrentLocation.Lat, 1e-9)

	admin := h.token(domain.RoleAdmin)
	rec = h.do(http.MethodPost, "/vehicles/"+v.ID+"/status", admin, map[string]any{"status": "ACTIVE"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "missing reason")

	rec = h.do(http.MethodPost, "/vehicles/"+v.ID+"/status", admin, map[string]any{"status": "RETIRED", "reason": "scrapped"})
	assert.Equal(t, http.StatusConflict, rec.Code, "AT_DEPOT cannot retire directly")

	h.do(http.MethodPost, "/vehicles/"+v.ID+"/status", admin, map[string]any{"status": "ACTIVE", "reason": "ready"})
	rec = h.do(http.MethodPost, "/vehicles/"+v.ID+"/status", admin, map[string]any{"status": "RETIRED", "reason": "scrapped"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/vehicles/"+v.ID+"/location", driver, fix)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.CodeVehicleNotTrackable, decode[errorResponse](t, rec).Code)
}

func TestRouteAssignmentEndpoints(t *testing.T) {
	h := newHarness(t)
	dispatcher := h.token(domain.RoleDispatcher)
	v := h.registerActive("RT-1")

	rec := h.do(http.MethodPut, "/vehicles/"+v.ID+"/route", dispatcher, map[string]string{"route_id": "L1"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[transport.VehicleResponse](t, rec)
	require.NotNil(t, got.RouteID)
	assert.Equal(t, "L1", *got.RouteID)

	rec = h.do(http.MethodPut, "/vehicles/"+v.ID+"/route", dispatcher, map[string]string{"route_id": "L2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/vehicles/"+v.ID+"/route?reason=detour", dispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[transport.VehicleResponse](t, rec)
	assert.Nil(t, got.RouteID)
	assert.NotNil(t, got.RouteClearedAt)
}

func TestListVehiclesFilter(t *testing.T) {
	h := newHarness(t)
	h.registerActive("L-1")
	h.do(http.MethodPost, "/vehicles", h.token(domain.RoleAdmin), map[string]any{"license_plate": "L-2"})

	rec := h.do(http.MethodGet, "/vehicles?status=active", h.token(domain.RoleDriver), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]transport.VehicleResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "L-1", list[0].LicensePlate)

	rec = h.do(http.MethodGet, "/vehicles?status=flying", h.token(domain.RoleDriver), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodGet, "/vehicles/does-not-exist", h.token(domain.RoleDriver), nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t)
	driver := h.token(domain.RoleDriver)
	v := h.registerActive("S-1")

	rec := h.do(http.MethodPost, "/sessions", driver, map[string]any{
		"vehicle_id":     v.ID,
		"route_id":       "L9",
		"start_location": map[string]float64{"lat": 40.0, "lng": -3.0},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[transport.SessionResponse](t, rec)
	assert.Equal(t, "ACTIVE", sess.Status)

	rec = h.do(http.MethodPost, "/sessions", driver, map[string]any{"vehicle_id": v.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/sessions/"+sess.ID+"/suspend", driver, map[string]string{"reason": "break"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SUSPENDED", decode[transport.SessionResponse](t, rec).Status)

	rec = h.do(http.MethodPost, "/sessions/"+sess.ID+"/resume", driver, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/sessions/"+sess.ID+"/fixes", driver, map[string]any{"lat": 40.001, "lng": -3.0, "speed_kmh": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, rec)["accepted"])

	rec = h.do(http.MethodPost, "/sessions/"+sess.ID+"/end", driver, map[string]string{"reason": "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ENDED", decode[transport.SessionResponse](t, rec).Status)

	rec = h.do(http.MethodGet, "/sessions/"+sess.ID, driver, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestionEndpoints(t *testing.T) {
	h := newHarness(t)
	dispatcher := h.token(domain.RoleDispatcher)

	h.ingest.result = ingest.IngestionResult{Successful: true, ProvidersRun: 1, TotalFetched: 5}
	rec := h.do(http.MethodPost, "/ingestion/runs", dispatcher, map[string]any{"providers": []string{"static"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"static"}, h.ingest.runNames)
	assert.Equal(t, 5, decode[ingest.IngestionResult](t, rec).TotalFetched)

	h.ingest.result = ingest.IngestionResult{NoProviders: true}
	rec = h.do(http.MethodPost, "/ingestion/runs", dispatcher, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/ingestion/stats", dispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), decode[ingest.FilterStats](t, rec).Checked)

	rec = h.do(http.MethodGet, "/ingestion/providers", dispatcher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]provider.HealthStatus](t, rec)
	assert.True(t, health["static"].Healthy)

	rec = h.do(http.MethodPost, "/vehicles/status", dispatcher, map[string]any{
		"changes": []map[string]string{{"vehicle_id": "a", "status": "active", "reason": "r"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.ingest.changes, 1)
	assert.Equal(t, domain.VehicleStatusActive, h.ingest.changes[0].Status)
	assert.Equal(t, "tester-dispatcher", h.ingest.changes[0].ChangedBy)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)

	h = newHarness(t, WithHealthCheck(failingPinger{}))
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, StatusFor(domain.ProviderFailure(domain.CodeProviderTimeout, "slow", nil)))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.Stale(domain.CodeGPSTooOld, "old", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
