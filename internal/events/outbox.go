package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// OutboxWorker relays committed events to the publisher. Delivery is at least once:
// an event whose publish fails stays pending, gets its attempt recorded, and is retried on
// the next poll behind events that have failed less often.
type OutboxWorker struct {
	Repo         OutboxRepository
	Publisher    Publisher
	PollInterval time.Duration
	BatchSize    int
	Logger       *zap.Logger
}

func (w *OutboxWorker) Start(ctx context.Context) error {
	w.defaults()

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	w.Logger.Info("outbox worker started", zap.Duration("poll_interval", w.PollInterval), zap.Int("batch_size", w.BatchSize))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.Warn("outbox poll failed", zap.Error(err))
			}
		}
	}
}

// RunOnce relays one batch and returns how many events were published.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	w.defaults()

	evts, err := w.Repo.FetchPending(ctx, w.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(evts) == 0 {
		return 0, nil
	}
	published := make([]string, 0, len(evts))
	for _, evt := range evts {
		if err := w.Publisher.Publish(ctx, evt); err != nil {
			w.Logger.Warn("publish failed",
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type),
				zap.Int("attempt", evt.Attempts+1),
				zap.Error(err))
			if markErr := w.Repo.MarkFailed(ctx, evt.ID, err.Error()); markErr != nil {
				return 0, markErr
			}
			continue
		}
		published = append(published, evt.ID)
	}
	if len(published) == 0 {
		return 0, nil
	}
	if err := w.Repo.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	w.Logger.Debug("outbox batch relayed", zap.Int("published", len(published)), zap.Int("fetched", len(evts)))
	return len(published), nil
}

func (w *OutboxWorker) defaults() {
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 50
	}
}
