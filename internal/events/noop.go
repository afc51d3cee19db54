package events

import "context"

// NoopPublisher drops events. Used when the outbox relay runs without a broker.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
