package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/domain"
)

const feedJSON = `{"fixes":[
 {"vehicle_id":"BUS-101","lat":24.7136,"lng":46.6753,"accuracy":8,"speed_ms":11.5,"bearing":92,"timestamp":"2026-05-01T10:00:00Z","metadata":{"route":"12"}},
 {"vehicle_id":"BUS-102","lat":24.70,"lng":46.68,"accuracy":15,"timestamp":"2026-05-01T10:00:03Z"}
]}`

func TestHTTPProvider_Stream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer ts.Close()

	p := NewHTTPProvider("bridge", HTTPOptions{FeedURL: ts.URL, Client: NewClient(time.Second)})
	assert.True(t, p.Available(context.Background()))

	fixes, err := Drain(p.Stream(context.Background()))
	require.NoError(t, err)
	require.Len(t, fixes, 2)

	assert.Equal(t, "BUS-101", fixes[0].VehicleIdentifier)
	assert.Equal(t, "bridge", fixes[0].Provider)
	require.NotNil(t, fixes[0].SpeedMS)
	assert.Equal(t, 11.5, *fixes[0].SpeedMS)
	assert.Equal(t, "12", fixes[0].Metadata["route"])
	assert.Nil(t, fixes[1].SpeedMS)
	assert.Nil(t, fixes[1].Bearing)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 3, 0, time.UTC), fixes[1].Timestamp.UTC())

	h := p.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(1), h.SuccessCount)
}

func TestHTTPProvider_Non2xxIsProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := NewHTTPProvider("flaky", HTTPOptions{FeedURL: ts.URL})
	fixes, err := Drain(p.Stream(context.Background()))
	assert.Empty(t, fixes)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, domain.CodeProviderTransport, domain.CodeOf(err))
	assert.Equal(t, 502, domain.FieldsOf(err)["status_code"])

	h := p.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, int64(1), h.FailureCount)
}

func TestHTTPProvider_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	p := NewHTTPProvider("slow", HTTPOptions{FeedURL: ts.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Drain(p.Stream(ctx))
	assert.Equal(t, domain.CodeProviderTimeout, domain.CodeOf(err))
}

func TestHTTPProvider_HealthEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewHTTPProvider("down", HTTPOptions{FeedURL: ts.URL, HealthURL: ts.URL + "/health"})
	assert.False(t, p.Available(context.Background()))
	assert.Contains(t, p.Health().LastError, "503")
}

func TestStaticProvider(t *testing.T) {
	p := NewStatic("demo", RawFix{VehicleIdentifier: "a"}, RawFix{VehicleIdentifier: "b"})
	fixes, err := Drain(p.Stream(context.Background()))
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.Equal(t, "demo", fixes[1].Provider)

	boom := errors.New("socket closed")
	p.FailAfter = boom
	fixes, err = Drain(p.Stream(context.Background()))
	assert.Len(t, fixes, 2)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.Health().FailureCount)
}

func TestStaticProvider_DelayHonoursDeadline(t *testing.T) {
	p := NewStatic("slow", RawFix{VehicleIdentifier: "a"}, RawFix{VehicleIdentifier: "b"})
	p.Delay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	fixes, err := Drain(p.Stream(ctx))
	assert.Empty(t, fixes)
	assert.Equal(t, domain.CodeProviderTimeout, domain.CodeOf(err))
}
