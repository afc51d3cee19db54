package transport

import (
	"context"

	"transit-tracker/internal/ingest"
	"transit-tracker/internal/provider"
	"transit-tracker/internal/service"
)

// Ingestor is the slice of the ingestion coordinator the servers expose.
type Ingestor interface {
	Run(ctx context.Context, names []string) ingest.IngestionResult
	ChangeStatuses(ctx context.Context, cmds []service.StatusCommand) ingest.BatchStatusResult
	FilterStats() ingest.FilterStats
	ProviderHealth() map[string]provider.HealthStatus
}

var _ Ingestor = (*ingest.Coordinator)(nil)
