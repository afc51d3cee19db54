package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"transit-tracker/internal/events"
)

const DefaultSubject = "fleet.events"

// Publisher sends each envelope to <subject>.<event type>, e.g. fleet.events.vehicle.status_changed,
// so consumers can subscribe per aggregate with wildcards.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func New(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker outbox"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Subject(event events.Event) string {
	return p.subject + "." + event.Type
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(event))
	msg.Data = data
	// JetStream uses this header for duplicate suppression on redelivery.
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Header.Set("Aggregate-Id", event.AggregateID)
	return p.nc.PublishMsg(msg)
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

var _ events.Publisher = (*Publisher)(nil)
