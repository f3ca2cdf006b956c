package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyUnattributed is the sentinel strategy for broker quantity that no
// configured strategy accounts for.
const StrategyUnattributed = "unattributed"

// Side describes fill direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// AssetClass describes the instrument type of a position or fill.
type AssetClass string

const (
	AssetStock  AssetClass = "STK"
	AssetFuture AssetClass = "FUT"
	AssetOption AssetClass = "OPT"
	AssetForex  AssetClass = "CASH"
	AssetCrypto AssetClass = "CRYPTO"
)

// PositionKey identifies an attributed position.
type PositionKey struct {
	Strategy   string
	Symbol     string
	AssetClass AssetClass
}

// SymbolKey identifies an instrument independent of attribution.
type SymbolKey struct {
	Symbol     string
	AssetClass AssetClass
}

// Position is one strategy's attributed holding of one instrument.
// Quantity sign encodes side; a zero quantity keeps the row alive for audit.
type Position struct {
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	AssetClass  AssetClass      `json:"assetClass"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avgCost"`
	Currency    string          `json:"currency"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// Key returns the attribution key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Strategy: p.Strategy, Symbol: p.Symbol, AssetClass: p.AssetClass}
}

// SymbolKey returns the instrument key of the position.
func (p Position) SymbolKey() SymbolKey {
	return SymbolKey{Symbol: p.Symbol, AssetClass: p.AssetClass}
}

// Flat reports whether the position quantity is zero.
func (p Position) Flat() bool {
	return p.Quantity.IsZero()
}

// Fill is an immutable execution record. Quantity is always positive;
// Side carries the direction.
type Fill struct {
	FillID     string          `json:"fillId"`
	OrderID    string          `json:"orderId"`
	Strategy   string          `json:"strategy"`
	Symbol     string          `json:"symbol"`
	AssetClass AssetClass      `json:"assetClass"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Currency   string          `json:"currency"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SignedQuantity returns the fill quantity with buy positive and sell negative.
func (f Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// PositionKey returns the attribution key the fill applies to.
func (f Fill) PositionKey() PositionKey {
	return PositionKey{Strategy: f.Strategy, Symbol: f.Symbol, AssetClass: f.AssetClass}
}

// OrderStatusEvent is one order status transition. It is accounting-neutral
// and persisted for audit only.
type OrderStatusEvent struct {
	OrderID      string          `json:"orderId"`
	PermID       string          `json:"permId"`
	OrderRef     string          `json:"orderRef"`
	Strategy     string          `json:"strategy"`
	Symbol       string          `json:"symbol"`
	Status       string          `json:"status"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	RemainingQty decimal.Decimal `json:"remainingQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Timestamp    time.Time       `json:"timestamp"`
}
