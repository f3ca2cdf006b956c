package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"multistrat/internal/errors"
	"multistrat/internal/schema"
	"multistrat/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, strategies ...string) *Ledger {
	t.Helper()
	reg := strategy.NewRegistry()
	for _, name := range strategies {
		require.NoError(t, reg.Register(strategy.Spec{Name: name, Currency: "USD"}))
	}
	return New(reg)
}

func testFill(id, strategyName, symbol string, side schema.Side, qty, price string) schema.Fill {
	return schema.Fill{
		FillID:     id,
		OrderID:    "o-" + id,
		Strategy:   strategyName,
		Symbol:     symbol,
		AssetClass: schema.AssetStock,
		Side:       side,
		Quantity:   dec(qty),
		Price:      dec(price),
		Commission: dec("1"),
		Currency:   "USD",
		Timestamp:  time.Now().UTC(),
	}
}

func TestApplyFillCreatesAndMutatesPosition(t *testing.T) {
	l := newTestLedger(t, "alpha")

	pos, err := l.ApplyFill(testFill("f1", "alpha", "AAPL", schema.SideBuy, "100", "10"))
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(dec("100")))
	assert.True(t, pos.AvgCost.Equal(dec("10")))

	pos, err = l.ApplyFill(testFill("f2", "alpha", "AAPL", schema.SideSell, "100", "12"))
	require.NoError(t, err)
	assert.True(t, pos.Flat())
	requireDecimal(t, dec("200"), pos.RealizedPnL, "realized")

	// Flat position stays in the book for audit.
	assert.Equal(t, 1, l.Count())
}

func TestApplyFillCashEffect(t *testing.T) {
	l := newTestLedger(t, "alpha")

	_, err := l.ApplyFill(testFill("f1", "alpha", "AAPL", schema.SideBuy, "100", "10"))
	require.NoError(t, err)
	requireDecimal(t, dec("-1001"), l.Cash("alpha"), "cash after buy")

	_, err = l.ApplyFill(testFill("f2", "alpha", "AAPL", schema.SideSell, "100", "12"))
	require.NoError(t, err)
	requireDecimal(t, dec("198"), l.Cash("alpha"), "cash after round trip")
}

func TestApplyFillUnknownStrategy(t *testing.T) {
	l := newTestLedger(t, "alpha")

	_, err := l.ApplyFill(testFill("f1", "ghost", "AAPL", schema.SideBuy, "1", "1"))
	require.ErrorIs(t, err, errors.ErrUnknownStrategy)
	assert.Equal(t, 0, l.Count())
}

func TestApplyFillDuplicateIsNoOp(t *testing.T) {
	l := newTestLedger(t, "alpha")
	f := testFill("f1", "alpha", "AAPL", schema.SideBuy, "100", "10")

	_, err := l.ApplyFill(f)
	require.NoError(t, err)

	pos, err := l.ApplyFill(f)
	require.ErrorIs(t, err, errors.ErrDuplicateEvent)
	assert.True(t, pos.Quantity.Equal(dec("100")), "duplicate must not re-apply")
	requireDecimal(t, dec("-1001"), l.Cash("alpha"), "duplicate must not touch cash")
}

func TestApplyStatusIsAccountingNeutral(t *testing.T) {
	l := newTestLedger(t, "alpha")

	require.NoError(t, l.ApplyStatus(schema.OrderStatusEvent{OrderID: "o1", Strategy: "alpha", Status: "Filled"}))
	assert.Equal(t, 0, l.Count())
	assert.True(t, l.Cash("alpha").IsZero())

	err := l.ApplyStatus(schema.OrderStatusEvent{OrderID: "o2", Strategy: "ghost"})
	require.ErrorIs(t, err, errors.ErrUnknownStrategy)
}

func TestOffsettingStrategiesKeepAttribution(t *testing.T) {
	l := newTestLedger(t, "alpha", "beta")

	_, err := l.ApplyFill(testFill("f1", "alpha", "X", schema.SideSell, "100", "20"))
	require.NoError(t, err)
	_, err = l.ApplyFill(testFill("f2", "beta", "X", schema.SideBuy, "100", "20"))
	require.NoError(t, err)

	positions := l.Positions()
	require.Len(t, positions, 2, "net-flat symbol must keep both attributed rows")

	net := positions[0].Quantity.Add(positions[1].Quantity)
	assert.True(t, net.IsZero())
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger(t, "alpha", "beta")
	_, err := l.ApplyFill(testFill("f1", "alpha", "AAPL", schema.SideBuy, "100", "10"))
	require.NoError(t, err)
	_, err = l.ApplyFill(testFill("f2", "beta", "MSFT", schema.SideSell, "50", "30"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, WriteSnapshot(path, l.Snapshot()))

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)

	restored := newTestLedger(t, "alpha", "beta")
	restored.Restore(snap)

	assert.Equal(t, l.Count(), restored.Count())
	assert.True(t, restored.Applied("f1"))
	assert.True(t, restored.Applied("f2"))
	requireDecimal(t, l.Cash("alpha"), restored.Cash("alpha"), "alpha cash")
	requireDecimal(t, l.Cash("beta"), restored.Cash("beta"), "beta cash")

	want, _ := l.Position(schema.PositionKey{Strategy: "alpha", Symbol: "AAPL", AssetClass: schema.AssetStock})
	got, ok := restored.Position(schema.PositionKey{Strategy: "alpha", Symbol: "AAPL", AssetClass: schema.AssetStock})
	require.True(t, ok)
	assert.True(t, want.Quantity.Equal(got.Quantity))
	assert.True(t, want.AvgCost.Equal(got.AvgCost))
}
