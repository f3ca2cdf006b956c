package fx

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// RateSource resolves the value of one unit of currency in base.
type RateSource interface {
	FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error)
}

const defaultTTL = 5 * time.Minute

type entry struct {
	rate decimal.Decimal
	at   time.Time
}

// Resolver caches FX rates with a TTL and falls back through its sources:
// fresh cache entry, brokerage quote, market-data quote, and finally 1.0
// with a warning. One resolver instance is shared by every reader; it is
// safe for concurrent use.
type Resolver struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	broker RateSource
	market RateSource
	cache  map[string]entry
}

// NewResolver creates a resolver over the given sources. Either source may
// be nil; it is then skipped in the fallback chain.
func NewResolver(broker, market RateSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Resolver{
		ttl:    ttl,
		now:    time.Now,
		broker: broker,
		market: market,
		cache:  make(map[string]entry),
	}
}

// Rate returns the value of one unit of currency in base. It never fails:
// when every source is unavailable it returns 1.0 and warns, so a conversion
// is degraded rather than blocking the caller.
func (r *Resolver) Rate(ctx context.Context, currency, base string) decimal.Decimal {
	if currency == base || currency == "" || base == "" {
		return decimal.NewFromInt(1)
	}

	key := currency + "/" + base

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && r.now().Sub(e.at) < r.ttl {
		r.mu.Unlock()
		return e.rate
	}
	r.mu.Unlock()

	for _, source := range []RateSource{r.broker, r.market} {
		if source == nil {
			continue
		}
		rate, err := source.FXRate(ctx, currency, base)
		if err != nil || !rate.IsPositive() {
			continue
		}
		r.store(key, rate)
		return rate
	}

	// A stale entry still beats a blind default.
	r.mu.Lock()
	e, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		logs.Warnf("fx: all sources failed for %s, serving stale rate %s", key, e.rate)
		return e.rate
	}

	logs.Warnf("fx: all sources failed for %s, defaulting to 1.0", key)
	return decimal.NewFromInt(1)
}

func (r *Resolver) store(key string, rate decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = entry{rate: rate, at: r.now()}
}

// Invalidate drops every cached rate.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]entry)
}
