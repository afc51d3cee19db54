package provider

import (
	"context"
	"errors"
	"time"

	"transit-tracker/internal/domain"
)

// StaticProvider replays a fixed slice of fixes on every Stream call.
type StaticProvider struct {
	ProviderName string
	Fixes        []RawFix
	// Down makes Available report false.
	Down bool
	// FailAfter ends the stream with this error once all fixes are sent.
	FailAfter error
	// Delay is waited before each fix.
	Delay time.Duration

	health healthTracker
}

func NewStatic(name string, fixes ...RawFix) *StaticProvider {
	return &StaticProvider{ProviderName: name, Fixes: fixes}
}

func (p *StaticProvider) Name() string { return p.ProviderName }

func (p *StaticProvider) Available(ctx context.Context) bool { return !p.Down }

func (p *StaticProvider) Health() HealthStatus { return p.health.snapshot() }

func (p *StaticProvider) Stream(ctx context.Context) (<-chan RawFix, <-chan error) {
	fixes := make(chan RawFix)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(fixes)
		start := time.Now()

		for _, f := range p.Fixes {
			if p.Delay > 0 {
				select {
				case <-time.After(p.Delay):
				case <-ctx.Done():
					errs <- p.timeout(start, ctx.Err())
					return
				}
			}
			f.Provider = p.ProviderName
			select {
			case fixes <- f:
			case <-ctx.Done():
				errs <- p.timeout(start, ctx.Err())
				return
			}
		}
		if p.FailAfter != nil {
			p.health.failure(time.Since(start), start, p.FailAfter)
			errs <- p.FailAfter
			return
		}
		p.health.success(time.Since(start), start)
	}()
	return fixes, errs
}

func (p *StaticProvider) timeout(start time.Time, cause error) error {
	code := domain.CodeProviderTransport
	if errors.Is(cause, context.DeadlineExceeded) {
		code = domain.CodeProviderTimeout
	}
	err := domain.ProviderFailure(code, "provider stream interrupted", map[string]any{"provider": p.ProviderName})
	p.health.failure(time.Since(start), start, err)
	return err
}

var _ Provider = (*StaticProvider)(nil)
