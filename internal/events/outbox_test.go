package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/domain"
)

type memOutbox struct {
	pending   []Event
	published []string
	failures  map[string]string
}

func (m *memOutbox) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	if len(m.pending) < limit {
		limit = len(m.pending)
	}
	return append([]Event(nil), m.pending[:limit]...), nil
}

func (m *memOutbox) MarkPublished(ctx context.Context, ids []string) error {
	done := map[string]bool{}
	for _, id := range ids {
		done[id] = true
	}
	kept := m.pending[:0]
	for _, e := range m.pending {
		if !done[e.ID] {
			kept = append(kept, e)
		}
	}
	m.pending = kept
	m.published = append(m.published, ids...)
	return nil
}

func (m *memOutbox) MarkFailed(ctx context.Context, id, reason string) error {
	if m.failures == nil {
		m.failures = map[string]string{}
	}
	m.failures[id] = reason
	for i := range m.pending {
		if m.pending[i].ID == id {
			m.pending[i].Attempts++
		}
	}
	return nil
}

type flakyPublisher struct {
	failType string
	sent     []Event
}

func (p *flakyPublisher) Publish(ctx context.Context, e Event) error {
	if e.Type == p.failType {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, e)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func registeredVehicleEvents(t *testing.T) []domain.Event {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err := domain.NewVehicle(domain.NewVehicleID(), domain.VehicleProfile{LicensePlate: "BUS-1"}, now)
	require.NoError(t, err)
	require.NoError(t, v.ChangeStatus(domain.VehicleStatusActive, "shift start", "dispatcher", now))
	return v.PullEvents()
}

func TestFromDomain_Envelope(t *testing.T) {
	evts := registeredVehicleEvents(t)
	envs, err := FromDomainAll(evts)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	assert.Equal(t, domain.EventVehicleRegistered, envs[0].Type)
	assert.Equal(t, domain.AggregateVehicle, envs[0].AggregateType)
	assert.Equal(t, evts[0].AggregateID(), envs[0].AggregateID)
	assert.NotEqual(t, envs[0].ID, envs[1].ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(envs[1].Payload, &payload))
	assert.Equal(t, "AT_DEPOT", payload["old_status"])
	assert.Equal(t, "ACTIVE", payload["new_status"])
	assert.Equal(t, "dispatcher", payload["changed_by"])
	assert.Contains(t, payload, "occurred_at")
}

func TestOutboxWorker_RunOnceKeepsFailedEvents(t *testing.T) {
	envs, err := FromDomainAll(registeredVehicleEvents(t))
	require.NoError(t, err)

	repo := &memOutbox{pending: envs}
	pub := &flakyPublisher{failType: domain.EventVehicleStatusChanged}
	w := &OutboxWorker{Repo: repo, Publisher: pub, BatchSize: 10}

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, repo.pending, 1)
	assert.Equal(t, domain.EventVehicleStatusChanged, repo.pending[0].Type)
	assert.Equal(t, 1, repo.pending[0].Attempts)
	assert.Equal(t, "broker unavailable", repo.failures[repo.pending[0].ID])

	pub.failType = ""
	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, repo.pending)
	assert.Len(t, pub.sent, 2)
}

func TestOutboxWorker_StartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &OutboxWorker{Repo: &memOutbox{}, Publisher: NoopPublisher{}, PollInterval: 5 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
