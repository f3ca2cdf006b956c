package broker

import (
	"context"
	"sync"

	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
)

// Paper is a deterministic in-memory brokerage and market-data source for
// tests and the demo mode. Positions, prices and rates are whatever the
// caller seeded.
type Paper struct {
	mu        sync.Mutex
	positions map[schema.SymbolKey]Position
	prices    map[schema.SymbolKey]decimal.Decimal
	rates     map[string]decimal.Decimal
	equity    decimal.Decimal
}

// NewPaper creates an empty paper broker.
func NewPaper() *Paper {
	return &Paper{
		positions: make(map[schema.SymbolKey]Position),
		prices:    make(map[schema.SymbolKey]decimal.Decimal),
		rates:     make(map[string]decimal.Decimal),
	}
}

// SetPosition seeds or replaces one broker-level position.
func (p *Paper) SetPosition(pos Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := schema.SymbolKey{Symbol: pos.Symbol, AssetClass: pos.AssetClass}
	if pos.Quantity.IsZero() {
		delete(p.positions, key)
		return
	}
	p.positions[key] = pos
}

// SetPrice seeds the last price for an instrument.
func (p *Paper) SetPrice(symbol string, asset schema.AssetClass, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[schema.SymbolKey{Symbol: symbol, AssetClass: asset}] = price
}

// SetRate seeds an FX rate for currency/base.
func (p *Paper) SetRate(currency, base string, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[currency+"/"+base] = rate
}

// SetEquity seeds the account equity.
func (p *Paper) SetEquity(equity decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.equity = equity
}

// Fill nets a fill into the broker-level position, mirroring what a real
// account would report after the execution.
func (p *Paper) Fill(f schema.Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := schema.SymbolKey{Symbol: f.Symbol, AssetClass: f.AssetClass}
	pos, ok := p.positions[key]
	if !ok {
		pos = Position{
			Symbol:     f.Symbol,
			AssetClass: f.AssetClass,
			AvgCost:    f.Price,
			Currency:   f.Currency,
		}
	}
	pos.Quantity = pos.Quantity.Add(f.SignedQuantity())
	pos.MarketPrice = f.Price
	if pos.Quantity.IsZero() {
		delete(p.positions, key)
		return
	}
	p.positions[key] = pos
	p.prices[key] = f.Price
}

func (p *Paper) Positions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *Paper) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

func (p *Paper) FXRate(ctx context.Context, currency, base string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate, ok := p.rates[currency+"/"+base]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, errRateUnavailable
}

func (p *Paper) LastPrice(ctx context.Context, symbol string, asset schema.AssetClass) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if price, ok := p.prices[schema.SymbolKey{Symbol: symbol, AssetClass: asset}]; ok {
		return price, nil
	}
	return decimal.Decimal{}, errPriceUnavailable
}
