package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/provider"
)

// Filter applies the validator and then the cooldown gate. Rejected fixes are not errors;
// they are only counted.
type Filter struct {
	validator Validator
	gate      CooldownGate
	log       *zap.Logger
	stats     filterCounters
}

type filterCounters struct {
	mu       sync.Mutex
	checked  int64
	accepted int64
	rejected map[Rejection]int64
}

// FilterStats is a point-in-time copy of the filter counters.
type FilterStats struct {
	Checked  int64               `json:"checked"`
	Accepted int64               `json:"accepted"`
	Rejected map[Rejection]int64 `json:"rejected"`
}

func NewFilter(cfg FilterConfig, gate CooldownGate, log *zap.Logger) *Filter {
	if gate == nil {
		gate = NewMemoryCooldown(cfg.Cooldown)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{
		validator: NewValidator(cfg),
		gate:      gate,
		log:       log,
		stats:     filterCounters{rejected: make(map[Rejection]int64)},
	}
}

func (f *Filter) Apply(ctx context.Context, fix provider.RawFix, now time.Time) Rejection {
	r := f.validator.Check(fix, now)
	if r == Accepted {
		ok, err := f.gate.Allow(ctx, fix.VehicleIdentifier, fix.Timestamp)
		switch {
		case err != nil:
			f.log.Warn("cooldown gate failed", zap.String("vehicle", fix.VehicleIdentifier), zap.Error(err))
			r = RejectGateFailure
		case !ok:
			r = RejectCooldown
		}
	}
	f.count(r)
	return r
}

func (f *Filter) count(r Rejection) {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	f.stats.checked++
	if r == Accepted {
		f.stats.accepted++
		return
	}
	f.stats.rejected[r]++
}

func (f *Filter) Stats() FilterStats {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	out := FilterStats{
		Checked:  f.stats.checked,
		Accepted: f.stats.accepted,
		Rejected: make(map[Rejection]int64, len(f.stats.rejected)),
	}
	for k, v := range f.stats.rejected {
		out.Rejected[k] = v
	}
	return out
}
