package fx

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *fakeSource) FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

var errDown = assert.AnError

func TestRateSameCurrencyIsOne(t *testing.T) {
	r := NewResolver(nil, nil, time.Minute)
	assert.True(t, r.Rate(context.Background(), "USD", "USD").Equal(decimal.NewFromInt(1)))
}

func TestRateCachesWithinTTL(t *testing.T) {
	broker := &fakeSource{rate: decimal.RequireFromString("1.08")}
	r := NewResolver(broker, nil, time.Minute)

	first := r.Rate(context.Background(), "EUR", "USD")
	second := r.Rate(context.Background(), "EUR", "USD")

	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, broker.calls, "second read must come from cache")
}

func TestRateExpiresAfterTTL(t *testing.T) {
	broker := &fakeSource{rate: decimal.RequireFromString("1.08")}
	r := NewResolver(broker, nil, time.Minute)

	now := time.Now()
	r.now = func() time.Time { return now }
	r.Rate(context.Background(), "EUR", "USD")

	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	r.Rate(context.Background(), "EUR", "USD")
	assert.Equal(t, 2, broker.calls, "stale entry must requery the source")
}

func TestRateFallsBackToMarketData(t *testing.T) {
	broker := &fakeSource{err: errDown}
	market := &fakeSource{rate: decimal.RequireFromString("0.92")}
	r := NewResolver(broker, market, time.Minute)

	rate := r.Rate(context.Background(), "USD", "EUR")
	assert.True(t, rate.Equal(decimal.RequireFromString("0.92")))
	require.Equal(t, 1, broker.calls)
	require.Equal(t, 1, market.calls)
}

func TestRateDefaultsToOneWhenAllSourcesFail(t *testing.T) {
	broker := &fakeSource{err: errDown}
	market := &fakeSource{err: errDown}
	r := NewResolver(broker, market, time.Minute)

	assert.True(t, r.Rate(context.Background(), "JPY", "USD").Equal(decimal.NewFromInt(1)))
}

func TestRateServesStaleOverDefault(t *testing.T) {
	broker := &fakeSource{rate: decimal.RequireFromString("1.08")}
	r := NewResolver(broker, nil, time.Minute)

	now := time.Now()
	r.now = func() time.Time { return now }
	r.Rate(context.Background(), "EUR", "USD")

	broker.err = errDown
	r.now = func() time.Time { return now.Add(time.Hour) }
	rate := r.Rate(context.Background(), "EUR", "USD")
	assert.True(t, rate.Equal(decimal.RequireFromString("1.08")), "stale rate beats default 1.0")
}

func TestInvalidate(t *testing.T) {
	broker := &fakeSource{rate: decimal.RequireFromString("1.08")}
	r := NewResolver(broker, nil, time.Minute)

	r.Rate(context.Background(), "EUR", "USD")
	r.Invalidate()
	r.Rate(context.Background(), "EUR", "USD")
	assert.Equal(t, 2, broker.calls)
}
