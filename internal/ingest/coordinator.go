package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/provider"
	"transit-tracker/internal/service"
)

const tracerName = "transit-tracker/internal/ingest"

// maxErrorsPerProvider caps the error strings kept per provider; further failures are only counted.
const maxErrorsPerProvider = 50

// LocationUpdater is the part of the application service the coordinator dispatches to.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, cmd service.LocationCommand) (*service.LocationOutcome, error)
	ChangeStatus(ctx context.Context, cmd service.StatusCommand) (*domain.Vehicle, error)
}

type CoordinatorConfig struct {
	BatchSize                    int
	FetchTimeout                 time.Duration
	MaxConcurrentBatches         int
	MaxConcurrentLocationUpdates int
	MaxConcurrentStatusChanges   int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 4
	}
	if c.MaxConcurrentLocationUpdates <= 0 {
		c.MaxConcurrentLocationUpdates = 20
	}
	if c.MaxConcurrentStatusChanges <= 0 {
		c.MaxConcurrentStatusChanges = 10
	}
	return c
}

type ProviderResult struct {
	Provider    string        `json:"provider"`
	Ran         bool          `json:"ran"`
	Fetched     int           `json:"fetched"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	Filtered    int           `json:"filtered"`
	Unchanged   int           `json:"unchanged"`
	SuccessRate float64       `json:"success_rate"`
	Err         string        `json:"error,omitempty"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

type IngestionResult struct {
	Successful      bool             `json:"successful"`
	NoProviders     bool             `json:"no_providers"`
	ProvidersRun    int              `json:"providers_run"`
	TotalFetched    int              `json:"total_fetched"`
	TotalSuccessful int              `json:"total_successful"`
	TotalFailed     int              `json:"total_failed"`
	TotalFiltered   int              `json:"total_filtered"`
	TotalUnchanged  int              `json:"total_unchanged"`
	Errors          []string         `json:"errors,omitempty"`
	Providers       []ProviderResult `json:"providers"`
	StartedAt       time.Time        `json:"started_at"`
	Duration        time.Duration    `json:"duration_ns"`
}

type BatchStatusResult struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Results   []service.CommandResult `json:"results"`
}

// Coordinator fans an ingestion run out over providers. Each provider is isolated: its
// failures end up in its own ProviderResult and never cancel the others.
type Coordinator struct {
	cfg       CoordinatorConfig
	providers []provider.Provider
	filter    *Filter
	updater   LocationUpdater
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig, providers []provider.Provider, filter *Filter, updater LocationUpdater, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]provider.Provider(nil), providers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		providers: sorted,
		filter:    filter,
		updater:   updater,
		log:       log,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) WithTracerProvider(tp trace.TracerProvider) *Coordinator {
	c.tracer = tp.Tracer(tracerName)
	return c
}

// WithClock replaces the time source used for fix age checks. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) FilterStats() FilterStats {
	return c.filter.Stats()
}

func (c *Coordinator) ProviderHealth() map[string]provider.HealthStatus {
	out := make(map[string]provider.HealthStatus, len(c.providers))
	for _, p := range c.providers {
		out[p.Name()] = p.Health()
	}
	return out
}

func (c *Coordinator) ProviderNames() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Run pulls every selected provider once. An empty names slice selects all providers.
func (c *Coordinator) Run(ctx context.Context, names []string) IngestionResult {
	started := c.now()
	ctx, span := c.tracer.Start(ctx, "ingest.run")
	defer span.End()

	selected := c.selectProviders(names)
	if len(selected) == 0 {
		span.SetAttributes(attribute.Bool("ingest.no_providers", true))
		c.log.Warn("ingestion run matched no providers", zap.Strings("requested", names))
		return IngestionResult{
			NoProviders: true,
			Errors:      []string{fmt.Sprintf("%s: no configured provider matches %v", domain.CodeNoProviders, names)},
			Providers:   []ProviderResult{},
			StartedAt:   started,
		}
	}

	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrentLocationUpdates))
	results := make([]ProviderResult, len(selected))
	// No shared cancellation: one provider failing must not stop its siblings.
	var g errgroup.Group
	for i, p := range selected {
		i, p := i, p
		g.Go(func() error {
			results[i] = c.runProvider(ctx, p, sem)
			return nil
		})
	}
	_ = g.Wait()

	out := aggregate(results)
	out.StartedAt = started
	out.Duration = c.now().Sub(started)

	span.SetAttributes(
		attribute.Int("ingest.providers", out.ProvidersRun),
		attribute.Int("ingest.successful", out.TotalSuccessful),
		attribute.Int("ingest.failed", out.TotalFailed),
		attribute.Int("ingest.filtered", out.TotalFiltered),
	)
	if !out.Successful {
		span.SetStatus(codes.Error, "ingestion run had failures")
	}
	c.log.Info("ingestion run finished",
		zap.Int("providers", out.ProvidersRun),
		zap.Int("fetched", out.TotalFetched),
		zap.Int("successful", out.TotalSuccessful),
		zap.Int("failed", out.TotalFailed),
		zap.Int("filtered", out.TotalFiltered),
		zap.Duration("duration", out.Duration))
	return out
}

func (c *Coordinator) selectProviders(names []string) []provider.Provider {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}
	if len(want) == 0 {
		return c.providers
	}
	var out []provider.Provider
	for _, p := range c.providers {
		if want[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) runProvider(ctx context.Context, p provider.Provider, sem *semaphore.Weighted) ProviderResult {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ingest.provider", trace.WithAttributes(attribute.String("provider", p.Name())))
	defer span.End()

	acc := &providerAccumulator{res: ProviderResult{Provider: p.Name()}}
	log := c.log.With(zap.String("provider", p.Name()))

	if !p.Available(ctx) {
		err := domain.ProviderFailure(domain.CodeProviderUnavailable, "provider unavailable", map[string]any{"provider": p.Name()})
		acc.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("provider unavailable")
		return acc.finish(time.Since(start))
	}
	acc.res.Ran = true

	// FetchTimeout bounds only the provider side. The stream is drained into memory so
	// slow location writes never hold the provider's sends past its deadline.
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	fixes, errs := p.Stream(fetchCtx)
	var received []provider.RawFix
	for fix := range fixes {
		acc.fetched()
		if fix.Provider == "" {
			fix.Provider = p.Name()
		}
		received = append(received, fix)
	}
	streamErr := <-errs
	cancel()

	if streamErr != nil {
		acc.fail(streamErr)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		log.Warn("provider stream failed", zap.Error(streamErr), zap.Int("received", len(received)))
	}
	c.dispatch(ctx, received, sem, acc)

	res := acc.finish(time.Since(start))
	span.SetAttributes(
		attribute.Int("ingest.fetched", res.Fetched),
		attribute.Int("ingest.successful", res.Successful),
		attribute.Int("ingest.failed", res.Failed),
	)
	return res
}

type batchResult struct {
	successful int
	failed     int
	filtered   int
	unchanged  int
	errors     []string
}

// dispatch filters fixes in arrival order, so the cooldown gate sees each vehicle's fixes in
// the order the provider sent them. Accepted fixes are then split into MaxConcurrentBatches
// lanes keyed by vehicle. Lanes run in parallel, batches within a lane run one after another,
// so a vehicle's fixes are never in two concurrently running batches.
func (c *Coordinator) dispatch(ctx context.Context, fixes []provider.RawFix, sem *semaphore.Weighted, acc *providerAccumulator) {
	var filtered batchResult
	lanes := make([][]provider.RawFix, c.cfg.MaxConcurrentBatches)
	for _, fix := range fixes {
		switch r := c.filter.Apply(ctx, fix, c.now()); r {
		case Accepted:
		case RejectGateFailure:
			filtered.failed++
			filtered.errors = append(filtered.errors, fmt.Sprintf("vehicle %s: cooldown gate unavailable", fix.VehicleIdentifier))
			continue
		default:
			filtered.filtered++
			continue
		}
		i := laneFor(strings.TrimSpace(fix.VehicleIdentifier), len(lanes))
		lanes[i] = append(lanes[i], fix)
	}
	acc.merge(filtered)

	var g errgroup.Group
	for _, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		lane := lane
		g.Go(func() error {
			for from := 0; from < len(lane); from += c.cfg.BatchSize {
				to := min(from+c.cfg.BatchSize, len(lane))
				acc.merge(c.processBatch(ctx, lane[from:to], sem))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func laneFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// processBatch dispatches each vehicle's fixes sequentially while different vehicles
// proceed in parallel under the shared semaphore.
func (c *Coordinator) processBatch(ctx context.Context, batch []provider.RawFix, sem *semaphore.Weighted) batchResult {
	var res batchResult

	byVehicle := make(map[string][]provider.RawFix)
	var order []string
	for _, fix := range batch {
		key := strings.TrimSpace(fix.VehicleIdentifier)
		if _, seen := byVehicle[key]; !seen {
			order = append(order, key)
		}
		byVehicle[key] = append(byVehicle[key], fix)
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, key := range order {
		key := key
		fixes := byVehicle[key]
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				res.failed += len(fixes)
				res.errors = append(res.errors, fmt.Sprintf("vehicle %s: %v", key, err))
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)
			for _, fix := range fixes {
				outcome, err := c.updater.UpdateLocation(ctx, toLocationCommand(fix))
				mu.Lock()
				switch {
				case err != nil:
					res.failed++
					res.errors = append(res.errors, fmt.Sprintf("vehicle %s: %v", key, err))
				case outcome.Accepted:
					res.successful++
				default:
					res.successful++
					res.unchanged++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func toLocationCommand(fix provider.RawFix) service.LocationCommand {
	cmd := service.LocationCommand{
		VehicleRef:     strings.TrimSpace(fix.VehicleIdentifier),
		Lat:            fix.Lat,
		Lng:            fix.Lng,
		AccuracyMeters: fix.Accuracy,
		Timestamp:      fix.Timestamp,
		Source:         fix.Provider,
	}
	if fix.SpeedMS != nil {
		cmd.SpeedKmh = domain.MetersPerSecondToKmh(*fix.SpeedMS)
	}
	if fix.Bearing != nil {
		cmd.BearingDegrees = *fix.Bearing
	}
	return cmd
}

type providerAccumulator struct {
	mu  sync.Mutex
	res ProviderResult
}

func (a *providerAccumulator) fetched() {
	a.mu.Lock()
	a.res.Fetched++
	a.mu.Unlock()
}

func (a *providerAccumulator) merge(b batchResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.Successful += b.successful
	a.res.Failed += b.failed
	a.res.Filtered += b.filtered
	a.res.Unchanged += b.unchanged
	a.addErrors(b.errors...)
}

func (a *providerAccumulator) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.Failed++
	a.res.Err = err.Error()
	a.addErrors(err.Error())
}

func (a *providerAccumulator) addErrors(msgs ...string) {
	for _, m := range msgs {
		if len(a.res.Errors) >= maxErrorsPerProvider {
			return
		}
		a.res.Errors = append(a.res.Errors, a.res.Provider+": "+m)
	}
}

func (a *providerAccumulator) finish(elapsed time.Duration) ProviderResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.Duration = elapsed
	a.res.SuccessRate = successRate(a.res.Successful, a.res.Failed)
	return a.res
}

func successRate(successful, failed int) float64 {
	if successful+failed == 0 {
		return 0
	}
	return float64(successful) / float64(successful+failed) * 100
}

func aggregate(results []ProviderResult) IngestionResult {
	out := IngestionResult{Providers: results}
	for _, r := range results {
		if r.Ran {
			out.ProvidersRun++
		}
		out.TotalFetched += r.Fetched
		out.TotalSuccessful += r.Successful
		out.TotalFailed += r.Failed
		out.TotalFiltered += r.Filtered
		out.TotalUnchanged += r.Unchanged
		out.Errors = append(out.Errors, r.Errors...)
	}
	out.Successful = out.TotalFailed == 0 && out.ProvidersRun > 0
	return out
}

// ChangeStatuses applies a batch of status changes with bounded parallelism. Each command
// gets its own CommandResult; one failure does not stop the rest.
func (c *Coordinator) ChangeStatuses(ctx context.Context, cmds []service.StatusCommand) BatchStatusResult {
	ctx, span := c.tracer.Start(ctx, "ingest.change_statuses", trace.WithAttributes(attribute.Int("commands", len(cmds))))
	defer span.End()

	results := make([]service.CommandResult, len(cmds))
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentStatusChanges)
	for i, cmd := range cmds {
		i, cmd := i, cmd
		g.Go(func() error {
			if _, err := c.updater.ChangeStatus(ctx, cmd); err != nil {
				results[i] = service.Failed(cmd.VehicleID, err)
				return nil
			}
			results[i] = service.Succeeded(cmd.VehicleID)
			return nil
		})
	}
	_ = g.Wait()

	out := BatchStatusResult{Results: results}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	span.SetAttributes(attribute.Int("succeeded", out.Succeeded), attribute.Int("failed", out.Failed))
	return out
}
