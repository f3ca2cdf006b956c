package journal

import (
	"context"
	"testing"
	"time"

	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id string) schema.Event {
	return schema.NewFillEvent(schema.Fill{
		FillID:     id,
		OrderID:    "o-" + id,
		Strategy:   "momo",
		Symbol:     "AAPL",
		AssetClass: schema.AssetStock,
		Side:       schema.SideBuy,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromFloat(187.5),
		Commission: decimal.NewFromInt(1),
		Currency:   "USD",
		Timestamp:  time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	})
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	for _, id := range []string{"f-1", "f-2", "f-3"} {
		require.NoError(t, w.Append(context.Background(), testEvent(id)))
	}
	require.NoError(t, w.Close())

	var got []string
	err = Replay(dir, "", func(e schema.Event) error {
		require.Equal(t, schema.EventFill, e.Type)
		require.NotNil(t, e.Fill)
		got = append(got, e.Fill.FillID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"f-1", "f-2", "f-3"}, got)
}

func TestJournalReplayEmptyDir(t *testing.T) {
	called := false
	err := Replay(t.TempDir(), "events", func(schema.Event) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestJournalAppendAfterClose(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.TryAppend(testEvent("f-1")), ErrClosed)
}

func TestJournalValidate(t *testing.T) {
	_, err := NewWriter(Config{})
	require.Error(t, err)
}
