package broker

import (
	"context"

	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
)

// Position is one broker-reported holding. The broker sees the account net:
// there is no strategy attribution at this level.
type Position struct {
	Symbol      string
	AssetClass  schema.AssetClass
	Quantity    decimal.Decimal
	AvgCost     decimal.Decimal
	MarketPrice decimal.Decimal
	Currency    string
}

// Brokerage is the execution-side collaborator: authoritative positions,
// account equity and FX quotes. Order placement and event streams live with
// the strategy runners and are out of scope here.
type Brokerage interface {
	Positions(ctx context.Context) ([]Position, error)
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
	FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error)
}

// MarketData supplies price refreshes during reconciliation and serves as
// the FX fallback source.
type MarketData interface {
	LastPrice(ctx context.Context, symbol string, asset schema.AssetClass) (decimal.Decimal, error)
	FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error)
}
