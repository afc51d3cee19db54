package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"transit-tracker/internal/domain"
)

type wireFix struct {
	VehicleID string            `json:"vehicle_id"`
	Lat       float64           `json:"lat"`
	Lng       float64           `json:"lng"`
	Accuracy  float64           `json:"accuracy"`
	SpeedMS   *float64          `json:"speed_ms"`
	Bearing   *float64          `json:"bearing"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

type wireFeed struct {
	Fixes []wireFix `json:"fixes"`
}

// HTTPProvider polls a JSON feed of the form {"fixes":[...]} once per Stream call.
type HTTPProvider struct {
	name      string
	feedURL   string
	healthURL string
	client    *http.Client
	now       func() time.Time
	health    healthTracker
}

type HTTPOptions struct {
	FeedURL   string
	HealthURL string
	Client    *http.Client
}

func NewHTTPProvider(name string, opts HTTPOptions) *HTTPProvider {
	client := opts.Client
	if client == nil {
		client = NewClient(30 * time.Second)
	}
	return &HTTPProvider{
		name:      name,
		feedURL:   opts.FeedURL,
		healthURL: opts.HealthURL,
		client:    client,
		now:       time.Now,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Health() HealthStatus { return p.health.snapshot() }

// Available probes the health endpoint when one is configured; otherwise the provider is
// assumed up and failures surface from Stream.
func (p *HTTPProvider) Available(ctx context.Context) bool {
	if p.healthURL == "" {
		return true
	}
	start := p.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		p.health.failure(0, start, err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.health.failure(p.now().Sub(start), start, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.health.failure(p.now().Sub(start), start, fmt.Errorf("health check returned %d", resp.StatusCode))
		return false
	}
	return true
}

func (p *HTTPProvider) Stream(ctx context.Context) (<-chan RawFix, <-chan error) {
	fixes := make(chan RawFix)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(fixes)

		feed, err := p.fetch(ctx)
		if err != nil {
			errs <- err
			return
		}
		for _, w := range feed.Fixes {
			fix := RawFix{
				VehicleIdentifier: w.VehicleID,
				Lat:               w.Lat,
				Lng:               w.Lng,
				Accuracy:          w.Accuracy,
				SpeedMS:           w.SpeedMS,
				Bearing:           w.Bearing,
				Timestamp:         w.Timestamp,
				Metadata:          w.Metadata,
				Provider:          p.name,
			}
			select {
			case fixes <- fix:
			case <-ctx.Done():
				errs <- p.classify(ctx.Err())
				return
			}
		}
	}()
	return fixes, errs
}

func (p *HTTPProvider) fetch(ctx context.Context) (*wireFeed, error) {
	start := p.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, p.fail(start, domain.ProviderFailure(domain.CodeProviderTransport, "build request",
			map[string]any{"provider": p.name, "error": err.Error()}))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.fail(start, p.classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, p.fail(start, domain.ProviderFailure(domain.CodeProviderTransport,
			fmt.Sprintf("provider returned status %d", resp.StatusCode),
			map[string]any{"provider": p.name, "status_code": resp.StatusCode}))
	}

	var feed wireFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		if ctx.Err() != nil {
			return nil, p.fail(start, p.classify(ctx.Err()))
		}
		return nil, p.fail(start, domain.ProviderFailure(domain.CodeProviderTransport, "decode provider feed",
			map[string]any{"provider": p.name, "error": err.Error()}))
	}
	p.health.success(p.now().Sub(start), start)
	return &feed, nil
}

func (p *HTTPProvider) fail(start time.Time, err error) error {
	p.health.failure(p.now().Sub(start), start, err)
	return err
}

func (p *HTTPProvider) classify(err error) error {
	fields := map[string]any{"provider": p.name, "error": err.Error()}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.ProviderFailure(domain.CodeProviderTimeout, "provider fetch timed out", fields)
	}
	return domain.ProviderFailure(domain.CodeProviderTransport, "provider fetch failed", fields)
}

var _ Provider = (*HTTPProvider)(nil)
