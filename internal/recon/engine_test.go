package recon

import (
	"context"
	"testing"
	"time"

	"multistrat/internal/broker"
	"multistrat/internal/errors"
	"multistrat/internal/ledger"
	"multistrat/internal/obs"
	"multistrat/internal/schema"
	"multistrat/internal/store"
	"multistrat/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	portfolio [][]store.PortfolioRow
	updates   []store.PortfolioRow
	summaries []store.AccountSummaryRow
	equity    [][]store.StrategyEquityRow
	positions [][]store.StrategyPositionRow
}

func (s *fakeStore) AppendPortfolioRows(_ context.Context, rows []store.PortfolioRow) error {
	snapshot := make([]store.PortfolioRow, len(rows))
	copy(snapshot, rows)
	for i := range snapshot {
		snapshot[i].ID = uint64(len(s.portfolio)*100 + i + 1)
	}
	s.portfolio = append(s.portfolio, snapshot)
	return nil
}

func (s *fakeStore) UpdatePortfolioRows(_ context.Context, rows []store.PortfolioRow) error {
	s.updates = append(s.updates, rows...)
	return nil
}

func (s *fakeStore) LatestPortfolioSnapshot(context.Context) ([]store.PortfolioRow, time.Time, error) {
	if len(s.portfolio) == 0 {
		return nil, time.Time{}, nil
	}
	last := s.portfolio[len(s.portfolio)-1]
	return last, last[0].RunAt, nil
}

func (s *fakeStore) AppendAccountSummary(_ context.Context, row store.AccountSummaryRow) error {
	s.summaries = append(s.summaries, row)
	return nil
}

func (s *fakeStore) AppendStrategyEquity(_ context.Context, rows []store.StrategyEquityRow) error {
	s.equity = append(s.equity, rows)
	return nil
}

func (s *fakeStore) AppendStrategyPositions(_ context.Context, rows []store.StrategyPositionRow) error {
	s.positions = append(s.positions, rows)
	return nil
}

type failingBroker struct{}

func (failingBroker) Positions(context.Context, bool) ([]broker.Position, error) {
	return nil, errors.New("gateway down")
}

func (failingBroker) AccountEquity(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("gateway down")
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	r := strategy.NewRegistry()
	require.NoError(t, r.Register(strategy.Spec{Name: "momo", Currency: "USD"}))
	require.NoError(t, r.Register(strategy.Spec{Name: "pairs", Currency: "USD"}))
	return ledger.New(r)
}

func applyFill(t *testing.T, l *ledger.Ledger, id, strat string, side schema.Side, qty, price int64) {
	t.Helper()
	_, err := l.ApplyFill(schema.Fill{
		FillID:     id,
		Strategy:   strat,
		Symbol:     "AAPL",
		AssetClass: schema.AssetStock,
		Side:       side,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(price),
		Currency:   "USD",
		Timestamp:  time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func newTestEngine(l *ledger.Ledger, paper *broker.Paper, s *fakeStore, m *obs.Metrics) *Engine {
	return NewEngine(Config{BaseCurrency: "USD"}, broker.NewCached(paper, time.Minute), paper, nil, s, l, m)
}

func findRow(rows []store.PortfolioRow, strat string) (store.PortfolioRow, bool) {
	for _, row := range rows {
		if row.Strategy == strat {
			return row, true
		}
	}
	return store.PortfolioRow{}, false
}

func TestReconKeepsOffsettingAttributions(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 100, 10)
	applyFill(t, l, "f-2", "pairs", schema.SideSell, 100, 10)

	paper := broker.NewPaper()
	paper.SetPrice("AAPL", schema.AssetStock, decimal.NewFromInt(11))
	paper.SetEquity(decimal.NewFromInt(100000))

	s := &fakeStore{}
	m := obs.NewMetrics()
	e := newTestEngine(l, paper, s, m)

	require.NoError(t, e.RunOnce(context.Background(), false))

	require.Len(t, s.portfolio, 1)
	rows := s.portfolio[0]
	require.Len(t, rows, 2, "broker net zero must not collapse the attributed rows")

	long, ok := findRow(rows, "momo")
	require.True(t, ok)
	short, ok := findRow(rows, "pairs")
	require.True(t, ok)
	assert.True(t, long.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, short.Quantity.Equal(decimal.NewFromInt(-100)))

	_, residual := findRow(rows, schema.StrategyUnattributed)
	assert.False(t, residual, "zero residual must not create an unattributed row")
	assert.Equal(t, uint64(0), m.Capture().ResidualRows)
}

func TestReconResidualGoesToUnattributed(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 150, 10)
	applyFill(t, l, "f-2", "pairs", schema.SideBuy, 100, 10)

	paper := broker.NewPaper()
	paper.SetPosition(broker.Position{
		Symbol:      "AAPL",
		AssetClass:  schema.AssetStock,
		Quantity:    decimal.NewFromInt(300),
		AvgCost:     decimal.NewFromInt(12),
		MarketPrice: decimal.NewFromInt(11),
		Currency:    "USD",
	})
	paper.SetEquity(decimal.NewFromInt(100000))

	s := &fakeStore{}
	m := obs.NewMetrics()
	e := newTestEngine(l, paper, s, m)

	require.NoError(t, e.RunOnce(context.Background(), false))

	rows := s.portfolio[0]
	require.Len(t, rows, 3)

	residual, ok := findRow(rows, schema.StrategyUnattributed)
	require.True(t, ok, "unaccounted broker quantity must land on the unattributed row")
	assert.True(t, residual.Quantity.Equal(decimal.NewFromInt(50)))
	// 300*12 - 250*10 = 1100 cost over 50 shares.
	assert.True(t, residual.AverageCost.Equal(decimal.NewFromInt(22)), "got %s", residual.AverageCost)
	assert.Equal(t, uint64(1), m.Capture().ResidualRows)

	momo, ok := findRow(rows, "momo")
	require.True(t, ok)
	assert.True(t, momo.Quantity.Equal(decimal.NewFromInt(150)), "attributed rows pass through untouched")
}

func TestReconRowsShareOneRunTimestamp(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 100, 10)
	applyFill(t, l, "f-2", "pairs", schema.SideBuy, 50, 10)

	paper := broker.NewPaper()
	paper.SetPrice("AAPL", schema.AssetStock, decimal.NewFromInt(10))
	paper.SetEquity(decimal.NewFromInt(100000))

	s := &fakeStore{}
	e := newTestEngine(l, paper, s, obs.NewMetrics())
	runAt := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return runAt }

	require.NoError(t, e.RunOnce(context.Background(), false))

	for _, row := range s.portfolio[0] {
		assert.Equal(t, runAt, row.RunAt)
	}
	require.Len(t, s.summaries, 1)
	assert.Equal(t, runAt, s.summaries[0].Timestamp)
	for _, row := range s.equity[0] {
		assert.Equal(t, runAt, row.Timestamp)
	}
}

func TestReconSkipsCycleWhenBrokerUnavailable(t *testing.T) {
	l := newTestLedger(t)
	s := &fakeStore{}
	m := obs.NewMetrics()
	e := NewEngine(Config{BaseCurrency: "USD"}, failingBroker{}, nil, nil, s, l, m)

	err := e.RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.Empty(t, s.portfolio, "a failed cycle must not persist a partial snapshot")
	assert.Equal(t, uint64(1), m.Capture().ReconSkipped)
	assert.Equal(t, uint64(0), m.Capture().ReconRuns)
}

func TestReconValuesAndPnL(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 100, 10)

	paper := broker.NewPaper()
	paper.SetPosition(broker.Position{
		Symbol:      "AAPL",
		AssetClass:  schema.AssetStock,
		Quantity:    decimal.NewFromInt(100),
		AvgCost:     decimal.NewFromInt(10),
		MarketPrice: decimal.NewFromInt(12),
		Currency:    "USD",
	})
	paper.SetEquity(decimal.NewFromInt(6000))

	s := &fakeStore{}
	e := newTestEngine(l, paper, s, obs.NewMetrics())

	require.NoError(t, e.RunOnce(context.Background(), false))

	row, ok := findRow(s.portfolio[0], "momo")
	require.True(t, ok)
	assert.True(t, row.MarketValue.Equal(decimal.NewFromInt(1200)), "got %s", row.MarketValue)
	assert.True(t, row.FXRate.Equal(decimal.NewFromInt(1)))
	assert.True(t, row.PnLPct.Equal(decimal.NewFromInt(20)), "got %s", row.PnLPct)
	assert.True(t, row.PctOfNav.Equal(decimal.NewFromInt(20)), "got %s", row.PctOfNav)

	require.Len(t, s.summaries, 1)
	assert.True(t, s.summaries[0].PnL.Equal(decimal.NewFromInt(200)), "got %s", s.summaries[0].PnL)
}

func TestRefreshSymbolUpdatesInPlace(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 100, 10)

	paper := broker.NewPaper()
	paper.SetPrice("AAPL", schema.AssetStock, decimal.NewFromInt(10))
	paper.SetEquity(decimal.NewFromInt(100000))

	s := &fakeStore{}
	e := newTestEngine(l, paper, s, obs.NewMetrics())
	require.NoError(t, e.RunOnce(context.Background(), false))

	applyFill(t, l, "f-2", "momo", schema.SideBuy, 50, 16)
	paper.SetPrice("AAPL", schema.AssetStock, decimal.NewFromInt(14))

	require.NoError(t, e.RefreshSymbol(context.Background(), "AAPL", schema.AssetStock))

	require.Len(t, s.updates, 1)
	updated := s.updates[0]
	assert.True(t, updated.Quantity.Equal(decimal.NewFromInt(150)))
	assert.True(t, updated.MarketPrice.Equal(decimal.NewFromInt(14)))
	assert.True(t, updated.MarketValue.Equal(decimal.NewFromInt(2100)))
	assert.NotZero(t, updated.ID, "updates target existing rows")
}

func TestReconIdempotentAcrossRuns(t *testing.T) {
	l := newTestLedger(t)
	applyFill(t, l, "f-1", "momo", schema.SideBuy, 100, 10)

	paper := broker.NewPaper()
	paper.SetPosition(broker.Position{
		Symbol:      "AAPL",
		AssetClass:  schema.AssetStock,
		Quantity:    decimal.NewFromInt(100),
		AvgCost:     decimal.NewFromInt(10),
		MarketPrice: decimal.NewFromInt(11),
		Currency:    "USD",
	})
	paper.SetEquity(decimal.NewFromInt(100000))

	s := &fakeStore{}
	e := newTestEngine(l, paper, s, obs.NewMetrics())

	require.NoError(t, e.RunOnce(context.Background(), false))
	require.NoError(t, e.RunOnce(context.Background(), true))

	require.Len(t, s.portfolio, 2)
	first, ok := findRow(s.portfolio[0], "momo")
	require.True(t, ok)
	second, ok := findRow(s.portfolio[1], "momo")
	require.True(t, ok)
	assert.True(t, first.Quantity.Equal(second.Quantity), "no fills between runs, quantity must not move")
	assert.True(t, first.AverageCost.Equal(second.AverageCost), "no fills between runs, average cost must not move")
}

func TestRefreshSymbolNoSnapshotIsNoop(t *testing.T) {
	l := newTestLedger(t)
	s := &fakeStore{}
	e := newTestEngine(l, broker.NewPaper(), s, obs.NewMetrics())

	require.NoError(t, e.RefreshSymbol(context.Background(), "AAPL", schema.AssetStock))
	assert.Empty(t, s.updates)
}
