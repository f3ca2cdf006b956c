package recon

import (
	"context"
	"time"

	"multistrat/internal/broker"
	"multistrat/internal/errors"
	"multistrat/internal/obs"
	"multistrat/internal/schema"
	"multistrat/internal/store"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const pctScale = 10

var hundred = decimal.NewFromInt(100)

// BrokerView is the cached brokerage surface the engine reconciles against.
type BrokerView interface {
	Positions(ctx context.Context, force bool) ([]broker.Position, error)
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
}

// RateResolver converts instrument currencies into the account base.
type RateResolver interface {
	Rate(ctx context.Context, currency, base string) decimal.Decimal
}

// LedgerView is the read-only slice of the attributed books.
type LedgerView interface {
	Positions() []schema.Position
	CashBalances() map[string]decimal.Decimal
}

// Store is the slice of the persistence gateway the engine writes through.
type Store interface {
	AppendPortfolioRows(ctx context.Context, rows []store.PortfolioRow) error
	UpdatePortfolioRows(ctx context.Context, rows []store.PortfolioRow) error
	LatestPortfolioSnapshot(ctx context.Context) ([]store.PortfolioRow, time.Time, error)
	AppendAccountSummary(ctx context.Context, row store.AccountSummaryRow) error
	AppendStrategyEquity(ctx context.Context, rows []store.StrategyEquityRow) error
	AppendStrategyPositions(ctx context.Context, rows []store.StrategyPositionRow) error
}

// Config controls the reconciliation cadence and currency base.
type Config struct {
	Interval     time.Duration
	BaseCurrency string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BaseCurrency == "" {
		c.BaseCurrency = "USD"
	}
	return c
}

// Engine periodically merges broker-reported net quantities with the
// attributed books. Broker quantity is truth for totals; the ledger is truth
// for attribution. Quantity the strategies cannot account for lands on the
// unattributed row, never on a strategy.
type Engine struct {
	cfg     Config
	broker  BrokerView
	market  broker.MarketData
	fx      RateResolver
	store   Store
	ledger  LedgerView
	metrics *obs.Metrics
	now     func() time.Time
}

// NewEngine wires the reconciliation engine.
func NewEngine(cfg Config, b BrokerView, market broker.MarketData, fx RateResolver, s Store, l LedgerView, metrics *obs.Metrics) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		broker:  b,
		market:  market,
		fx:      fx,
		store:   s,
		ledger:  l,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run reconciles on the configured interval until the context is done. A
// failing cycle is skipped; the next tick retries with a forced broker
// refresh.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	force := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx, force); err != nil {
				logs.Warnf("reconciliation skipped, err: %v", err)
				force = true
				continue
			}
			force = false
		}
	}
}

// attribution is one source row of a reconciliation merge.
type attribution struct {
	strategy string
	quantity decimal.Decimal
	avgCost  decimal.Decimal
	currency string
}

// RunOnce performs a full reconciliation pass: one snapshot of portfolio
// rows, an account summary row, and the per-strategy series, all under a
// single run timestamp.
func (e *Engine) RunOnce(ctx context.Context, force bool) error {
	start := time.Now()
	defer func() { e.metrics.ObserveRecon(time.Since(start)) }()

	brokerPositions, err := e.broker.Positions(ctx, force)
	if err != nil {
		e.metrics.IncReconSkipped()
		return errors.Wrap(err, "broker positions unavailable")
	}

	attributed := e.attributedBySymbol(ctx)

	brokerBySymbol := make(map[schema.SymbolKey]broker.Position, len(brokerPositions))
	for _, bp := range brokerPositions {
		brokerBySymbol[schema.SymbolKey{Symbol: bp.Symbol, AssetClass: bp.AssetClass}] = bp
	}

	symbols := make(map[schema.SymbolKey]struct{}, len(brokerBySymbol)+len(attributed))
	for key := range brokerBySymbol {
		symbols[key] = struct{}{}
	}
	for key := range attributed {
		symbols[key] = struct{}{}
	}

	runAt := e.now().UTC()
	equity, err := e.broker.AccountEquity(ctx)
	if err != nil {
		logs.Warnf("account equity unavailable, pct_of_nav left zero, err: %v", err)
		equity = decimal.Zero
	}

	var (
		portfolio   []store.PortfolioRow
		totalValue  decimal.Decimal
		totalPnL    decimal.Decimal
		stratValues = make(map[string]decimal.Decimal)
		stratRows   []store.StrategyPositionRow
	)

	for key := range symbols {
		bp, inBroker := brokerBySymbol[key]
		rows := attributed[key]

		price := e.resolvePrice(ctx, key, bp, inBroker)
		merged := mergeSymbol(key, bp, inBroker, rows)

		for _, a := range merged {
			if a.strategy == schema.StrategyUnattributed {
				e.metrics.IncResidualRow()
				logs.Warnf("%v", errors.Wrapf(errors.ErrResidualAnomaly,
					"symbol %s broker net differs from attributed sum by %s", key.Symbol, a.quantity.String()))
			}

			rate := e.rate(ctx, a.currency)
			value := a.quantity.Mul(price)
			valueBase := value.Mul(rate)

			row := store.PortfolioRow{
				RunAt:           runAt,
				Strategy:        a.strategy,
				Symbol:          key.Symbol,
				AssetClass:      string(key.AssetClass),
				Quantity:        a.quantity,
				AverageCost:     a.avgCost,
				MarketPrice:     price,
				MarketValue:     value,
				MarketValueBase: valueBase,
				Currency:        a.currency,
				FXRate:          rate,
				PnLPct:          pnlPct(a.quantity, a.avgCost, price),
			}
			if !equity.IsZero() {
				row.PctOfNav = valueBase.DivRound(equity, pctScale).Mul(hundred)
			}
			portfolio = append(portfolio, row)

			totalValue = totalValue.Add(valueBase)
			totalPnL = totalPnL.Add(a.quantity.Mul(price.Sub(a.avgCost)).Mul(rate))
			stratValues[a.strategy] = stratValues[a.strategy].Add(valueBase)

			if a.strategy != schema.StrategyUnattributed {
				stratRows = append(stratRows, store.StrategyPositionRow{
					Strategy:   a.strategy,
					Timestamp:  runAt,
					Symbol:     key.Symbol,
					AssetClass: string(key.AssetClass),
					Quantity:   a.quantity,
				})
			}
		}
	}

	if err := e.store.AppendPortfolioRows(ctx, portfolio); err != nil {
		return errors.Wrap(err, "persist portfolio snapshot")
	}

	cash := e.ledger.CashBalances()
	var totalCash decimal.Decimal
	equityRows := make([]store.StrategyEquityRow, 0, len(cash))
	for name, balance := range cash {
		totalCash = totalCash.Add(balance)
		equityRows = append(equityRows, store.StrategyEquityRow{
			Strategy:  name,
			Timestamp: runAt,
			Equity:    balance.Add(stratValues[name]),
		})
	}

	summary := store.AccountSummaryRow{
		Timestamp:   runAt,
		Equity:      equity,
		PnL:         totalPnL,
		Cash:        totalCash,
		MarketValue: totalValue,
	}
	if err := e.store.AppendAccountSummary(ctx, summary); err != nil {
		return errors.Wrap(err, "persist account summary")
	}
	if err := e.store.AppendStrategyEquity(ctx, equityRows); err != nil {
		return errors.Wrap(err, "persist strategy equity")
	}
	if err := e.store.AppendStrategyPositions(ctx, stratRows); err != nil {
		return errors.Wrap(err, "persist strategy positions")
	}

	e.metrics.IncReconRun()
	logs.Infof("reconciliation complete, rows: %d, symbols: %d, equity: %s", len(portfolio), len(symbols), equity.String())
	return nil
}

// attributedBySymbol merges the live books over the last persisted snapshot.
// The live ledger wins per attribution key; snapshot rows cover strategies
// whose fills predate the current process.
func (e *Engine) attributedBySymbol(ctx context.Context) map[schema.SymbolKey][]attribution {
	byKey := make(map[schema.PositionKey]attribution)

	snapshot, _, err := e.store.LatestPortfolioSnapshot(ctx)
	if err != nil {
		logs.Warnf("latest snapshot unavailable, attribution from live books only, err: %v", err)
	}
	for _, row := range snapshot {
		if row.Strategy == schema.StrategyUnattributed {
			continue
		}
		key := schema.PositionKey{Strategy: row.Strategy, Symbol: row.Symbol, AssetClass: schema.AssetClass(row.AssetClass)}
		byKey[key] = attribution{
			strategy: row.Strategy,
			quantity: row.Quantity,
			avgCost:  row.AverageCost,
			currency: row.Currency,
		}
	}

	for _, pos := range e.ledger.Positions() {
		byKey[pos.Key()] = attribution{
			strategy: pos.Strategy,
			quantity: pos.Quantity,
			avgCost:  pos.AvgCost,
			currency: pos.Currency,
		}
	}

	out := make(map[schema.SymbolKey][]attribution)
	for key, a := range byKey {
		sk := schema.SymbolKey{Symbol: key.Symbol, AssetClass: key.AssetClass}
		out[sk] = append(out[sk], a)
	}
	return out
}

// mergeSymbol reconciles one instrument. Attributed rows pass through
// untouched, flat rows included; the difference between the broker net and
// the attributed sum becomes the unattributed row.
func mergeSymbol(key schema.SymbolKey, bp broker.Position, inBroker bool, rows []attribution) []attribution {
	var attributedQty, attributedCost decimal.Decimal
	for _, a := range rows {
		attributedQty = attributedQty.Add(a.quantity)
		attributedCost = attributedCost.Add(a.quantity.Mul(a.avgCost))
	}

	brokerQty := decimal.Zero
	currency := ""
	if inBroker {
		brokerQty = bp.Quantity
		currency = bp.Currency
	}
	if currency == "" && len(rows) > 0 {
		currency = rows[0].currency
	}

	residual := brokerQty.Sub(attributedQty)
	if residual.IsZero() {
		return rows
	}

	// Cost not claimed by any strategy, averaged over the residual quantity.
	residualCost := brokerQty.Mul(bp.AvgCost).Sub(attributedCost)
	avgCost := residualCost.DivRound(residual, pctScale)

	return append(rows, attribution{
		strategy: schema.StrategyUnattributed,
		quantity: residual,
		avgCost:  avgCost,
		currency: currency,
	})
}

func (e *Engine) resolvePrice(ctx context.Context, key schema.SymbolKey, bp broker.Position, inBroker bool) decimal.Decimal {
	if inBroker && bp.MarketPrice.IsPositive() {
		return bp.MarketPrice
	}
	if e.market != nil {
		price, err := e.market.LastPrice(ctx, key.Symbol, key.AssetClass)
		if err == nil && price.IsPositive() {
			return price
		}
		if err != nil {
			logs.Warnf("market price unavailable, symbol: %s, err: %v", key.Symbol, err)
		}
	}
	if inBroker {
		return bp.AvgCost
	}
	return decimal.Zero
}

func (e *Engine) rate(ctx context.Context, currency string) decimal.Decimal {
	if e.fx == nil {
		return decimal.NewFromInt(1)
	}
	return e.fx.Rate(ctx, currency, e.cfg.BaseCurrency)
}

// pnlPct is the unrealized return against cost, sign-adjusted so a falling
// price on a short position reads as a gain.
func pnlPct(quantity, avgCost, price decimal.Decimal) decimal.Decimal {
	if avgCost.IsZero() || quantity.IsZero() {
		return decimal.Zero
	}
	pct := price.Sub(avgCost).DivRound(avgCost, pctScale).Mul(hundred)
	if quantity.IsNegative() {
		return pct.Neg()
	}
	return pct
}

// RefreshSymbol recomputes the persisted rows of one instrument in place,
// between full runs. Rows are updated at their existing index values; new
// attribution keys wait for the next full run.
func (e *Engine) RefreshSymbol(ctx context.Context, symbol string, asset schema.AssetClass) error {
	snapshot, _, err := e.store.LatestPortfolioSnapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "latest snapshot unavailable")
	}

	live := make(map[schema.PositionKey]schema.Position)
	for _, pos := range e.ledger.Positions() {
		live[pos.Key()] = pos
	}

	var price decimal.Decimal
	if e.market != nil {
		if p, err := e.market.LastPrice(ctx, symbol, asset); err == nil && p.IsPositive() {
			price = p
		}
	}

	var updates []store.PortfolioRow
	for _, row := range snapshot {
		if row.Symbol != symbol || row.AssetClass != string(asset) {
			continue
		}
		pos, ok := live[schema.PositionKey{Strategy: row.Strategy, Symbol: symbol, AssetClass: asset}]
		if !ok {
			continue
		}

		row.Quantity = pos.Quantity
		row.AverageCost = pos.AvgCost
		if price.IsPositive() {
			row.MarketPrice = price
		}
		row.MarketValue = row.Quantity.Mul(row.MarketPrice)
		row.FXRate = e.rate(ctx, row.Currency)
		row.MarketValueBase = row.MarketValue.Mul(row.FXRate)
		row.PnLPct = pnlPct(row.Quantity, row.AverageCost, row.MarketPrice)
		updates = append(updates, row)
	}
	if len(updates) == 0 {
		return nil
	}
	return e.store.UpdatePortfolioRows(ctx, updates)
}
