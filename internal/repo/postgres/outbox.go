package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"transit-tracker/internal/events"
)

// FetchPending returns unpublished events, those with fewer failed attempts first.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, outboxFetchPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Event, error) {
		var evt events.Event
		var payload []byte
		err := row.Scan(&evt.ID, &evt.Type, &evt.AggregateType, &evt.AggregateID, &payload, &evt.OccurredAt, &evt.Attempts)
		evt.Payload = payload
		return evt, err
	})
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, outboxMarkPublishedSQL, ids); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkFailed records a failed publish so the relay can push the event behind fresher ones.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	if _, err := s.pool.Exec(ctx, outboxMarkFailedSQL, id, reason); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
