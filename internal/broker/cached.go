package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultSnapshotTTL = 60 * time.Second

// Cached wraps a Brokerage with a short position-snapshot cache so rapid
// successive reads (reconciliation plus incremental refreshes) do not hammer
// the broker. A forced read bypasses and refreshes the cache.
type Cached struct {
	mu    sync.Mutex
	inner Brokerage
	ttl   time.Duration
	now   func() time.Time

	positions   []Position
	positionsAt time.Time
}

// NewCached wraps a brokerage with the given snapshot TTL.
func NewCached(inner Brokerage, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Cached{inner: inner, ttl: ttl, now: time.Now}
}

// Positions returns the broker position snapshot, served from cache when it
// is fresh enough and force is not set.
func (c *Cached) Positions(ctx context.Context, force bool) ([]Position, error) {
	c.mu.Lock()
	if !force && c.positionsAt.After(c.now().Add(-c.ttl)) {
		out := make([]Position, len(c.positions))
		copy(out, c.positions)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	positions, err := c.inner.Positions(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.positions = positions
	c.positionsAt = c.now()
	out := make([]Position, len(positions))
	copy(out, positions)
	c.mu.Unlock()
	return out, nil
}

// AccountEquity passes through to the broker.
func (c *Cached) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	return c.inner.AccountEquity(ctx)
}

// FXRate passes through to the broker, making Cached usable as an fx source.
func (c *Cached) FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error) {
	return c.inner.FXRate(ctx, currency, base)
}
