package store

import (
	"time"

	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
)

// FillRow is the identifier-indexed execution record. Corrections target an
// existing fill_id via UpdateFill; the row is never duplicate-appended.
type FillRow struct {
	FillID     string          `gorm:"column:fill_id;primaryKey;type:varchar(64)"`
	OrderID    string          `gorm:"column:order_id;type:varchar(64);index"`
	Strategy   string          `gorm:"type:varchar(64);index"`
	Symbol     string          `gorm:"type:varchar(32);index"`
	AssetClass string          `gorm:"column:asset_class;type:varchar(16)"`
	Side       string          `gorm:"type:varchar(8)"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10)"`
	Price      decimal.Decimal `gorm:"type:numeric(30,10)"`
	Commission decimal.Decimal `gorm:"type:numeric(30,10)"`
	Currency   string          `gorm:"type:varchar(8)"`
	Timestamp  time.Time       `gorm:"type:timestamptz;index"`
}

func (FillRow) TableName() string {
	return "fills"
}

// NewFillRow converts a fill into its persisted form.
func NewFillRow(f schema.Fill) FillRow {
	return FillRow{
		FillID:     f.FillID,
		OrderID:    f.OrderID,
		Strategy:   f.Strategy,
		Symbol:     f.Symbol,
		AssetClass: string(f.AssetClass),
		Side:       string(f.Side),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
		Currency:   f.Currency,
		Timestamp:  f.Timestamp.UTC(),
	}
}

// OrderEventRow is one order status transition, timestamp-indexed.
type OrderEventRow struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time       `gorm:"type:timestamptz;uniqueIndex:idx_orders_ts"`
	OrderID      string          `gorm:"column:order_id;type:varchar(64);index"`
	PermID       string          `gorm:"column:perm_id;type:varchar(64)"`
	OrderRef     string          `gorm:"column:order_ref;type:varchar(64)"`
	Strategy     string          `gorm:"type:varchar(64);index"`
	Symbol       string          `gorm:"type:varchar(32)"`
	Status       string          `gorm:"type:varchar(32)"`
	FilledQty    decimal.Decimal `gorm:"column:filled_qty;type:numeric(30,10)"`
	RemainingQty decimal.Decimal `gorm:"column:remaining_qty;type:numeric(30,10)"`
	AvgFillPrice decimal.Decimal `gorm:"column:avg_fill_price;type:numeric(30,10)"`
}

func (OrderEventRow) TableName() string {
	return "orders"
}

// NewOrderEventRow converts a status event into its persisted form.
func NewOrderEventRow(e schema.OrderStatusEvent) OrderEventRow {
	return OrderEventRow{
		Timestamp:    e.Timestamp.UTC(),
		OrderID:      e.OrderID,
		PermID:       e.PermID,
		OrderRef:     e.OrderRef,
		Strategy:     e.Strategy,
		Symbol:       e.Symbol,
		Status:       e.Status,
		FilledQty:    e.FilledQty,
		RemainingQty: e.RemainingQty,
		AvgFillPrice: e.AvgFillPrice,
	}
}

// PortfolioRow is one reconciled attribution row. RunAt groups the rows of a
// reconciliation run; Timestamp is the unique index value (RunAt plus the
// deterministic sub-unit offset).
type PortfolioRow struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement"`
	RunAt           time.Time       `gorm:"column:run_at;type:timestamptz;index"`
	Timestamp       time.Time       `gorm:"type:timestamptz;uniqueIndex:idx_portfolio_ts"`
	Strategy        string          `gorm:"type:varchar(64);index"`
	Symbol          string          `gorm:"type:varchar(32);index"`
	AssetClass      string          `gorm:"column:asset_class;type:varchar(16)"`
	Quantity        decimal.Decimal `gorm:"type:numeric(30,10)"`
	AverageCost     decimal.Decimal `gorm:"column:average_cost;type:numeric(30,10)"`
	MarketPrice     decimal.Decimal `gorm:"column:market_price;type:numeric(30,10)"`
	MarketValue     decimal.Decimal `gorm:"column:market_value;type:numeric(30,10)"`
	MarketValueBase decimal.Decimal `gorm:"column:market_value_base;type:numeric(30,10)"`
	PctOfNav        decimal.Decimal `gorm:"column:pct_of_nav;type:numeric(30,10)"`
	Currency        string          `gorm:"type:varchar(8)"`
	FXRate          decimal.Decimal `gorm:"column:fx_rate;type:numeric(30,10)"`
	PnLPct          decimal.Decimal `gorm:"column:pnl_pct;type:numeric(30,10)"`
}

func (PortfolioRow) TableName() string {
	return "portfolio"
}

// AccountSummaryRow is the periodic account-level snapshot.
type AccountSummaryRow struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time       `gorm:"type:timestamptz;uniqueIndex:idx_account_summary_ts"`
	Equity      decimal.Decimal `gorm:"type:numeric(30,10)"`
	PnL         decimal.Decimal `gorm:"column:pnl;type:numeric(30,10)"`
	Cash        decimal.Decimal `gorm:"type:numeric(30,10)"`
	MarketValue decimal.Decimal `gorm:"column:market_value;type:numeric(30,10)"`
}

func (AccountSummaryRow) TableName() string {
	return "account_summary"
}

// StrategyPositionRow is one symbol quantity inside a per-strategy position
// snapshot. The logical series is (strategy); the unique index within it is
// (timestamp, symbol).
type StrategyPositionRow struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Strategy   string          `gorm:"type:varchar(64);uniqueIndex:idx_strategy_positions"`
	Timestamp  time.Time       `gorm:"type:timestamptz;uniqueIndex:idx_strategy_positions"`
	Symbol     string          `gorm:"type:varchar(32);uniqueIndex:idx_strategy_positions"`
	AssetClass string          `gorm:"column:asset_class;type:varchar(16)"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10)"`
}

func (StrategyPositionRow) TableName() string {
	return "strategy_positions"
}

// StrategyEquityRow is one point on a per-strategy equity curve.
type StrategyEquityRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	Strategy  string          `gorm:"type:varchar(64);uniqueIndex:idx_strategy_equity"`
	Timestamp time.Time       `gorm:"type:timestamptz;uniqueIndex:idx_strategy_equity"`
	Equity    decimal.Decimal `gorm:"type:numeric(30,10)"`
}

func (StrategyEquityRow) TableName() string {
	return "strategy_equity"
}
