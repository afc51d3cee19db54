package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"transit-tracker/internal/domain"
)

// Event is the outbox envelope around a serialized domain event.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`

	// Attempts counts failed publishes so far. Not part of the wire envelope.
	Attempts int `json:"-"`
}

func NewEvent(eventType, aggregateType, aggregateID string, payload any, occurredAt time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       data,
		OccurredAt:    occurredAt,
	}, nil
}

func FromDomain(e domain.Event) (Event, error) {
	return NewEvent(e.EventType(), e.AggregateType(), e.AggregateID(), e, e.OccurredAt())
}

// FromDomainAll converts a drained aggregate buffer, preserving order.
func FromDomainAll(evts []domain.Event) ([]Event, error) {
	out := make([]Event, 0, len(evts))
	for _, e := range evts {
		env, err := FromDomain(e)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}
