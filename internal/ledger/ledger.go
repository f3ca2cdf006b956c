package ledger

import (
	"sort"
	"sync"

	"multistrat/internal/errors"
	"multistrat/internal/schema"
	"multistrat/internal/strategy"

	"github.com/shopspring/decimal"
)

// Ledger holds the attributed books: one position per
// (strategy, symbol, asset class) and one cash balance per strategy.
//
// All mutation happens on the single consumer goroutine; the mutex only
// covers the read-only copies handed to the reconciliation engine.
type Ledger struct {
	mu        sync.RWMutex
	registry  *strategy.Registry
	positions map[schema.PositionKey]schema.Position
	cash      map[string]decimal.Decimal
	applied   map[string]struct{}
}

// New creates an empty ledger over the given strategy registry.
func New(registry *strategy.Registry) *Ledger {
	return &Ledger{
		registry:  registry,
		positions: make(map[schema.PositionKey]schema.Position),
		cash:      make(map[string]decimal.Decimal),
		applied:   make(map[string]struct{}),
	}
}

// ApplyFill mutates the attributed position and the strategy cash balance,
// returning the updated position. It is idempotent per fill id: a repeat
// returns the current position together with ErrDuplicateEvent and changes
// nothing. A fill for an unregistered strategy returns ErrUnknownStrategy.
func (l *Ledger) ApplyFill(f schema.Fill) (schema.Position, error) {
	spec, ok := l.registry.Lookup(f.Strategy)
	if !ok {
		return schema.Position{}, errors.Wrapf(errors.ErrUnknownStrategy, "fill %s strategy %q", f.FillID, f.Strategy)
	}
	if f.FillID == "" {
		return schema.Position{}, errors.Errorf("fill without id for strategy %q symbol %q", f.Strategy, f.Symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := f.PositionKey()
	if _, dup := l.applied[f.FillID]; dup {
		return l.positions[key], errors.Wrapf(errors.ErrDuplicateEvent, "fill %s", f.FillID)
	}

	pos, exists := l.positions[key]
	if !exists {
		pos = schema.Position{
			Strategy:   f.Strategy,
			Symbol:     f.Symbol,
			AssetClass: f.AssetClass,
			Currency:   f.Currency,
		}
	}
	if pos.Currency == "" {
		pos.Currency = spec.Currency
	}

	pos, _ = applyToPosition(pos, f)
	l.positions[key] = pos
	l.cash[f.Strategy] = l.cash[f.Strategy].Add(cashDelta(f))
	l.applied[f.FillID] = struct{}{}

	return pos, nil
}

// ApplyStatus validates the strategy reference of a status transition. It is
// accounting-neutral: no quantity or cash effect, the event exists purely for
// audit persistence.
func (l *Ledger) ApplyStatus(e schema.OrderStatusEvent) error {
	if _, ok := l.registry.Lookup(e.Strategy); !ok {
		return errors.Wrapf(errors.ErrUnknownStrategy, "order %s strategy %q", e.OrderID, e.Strategy)
	}
	return nil
}

// Applied reports whether a fill id has been applied.
func (l *Ledger) Applied(fillID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[fillID]
	return ok
}

// Position returns a copy of one attributed position.
func (l *Ledger) Position(key schema.PositionKey) (schema.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[key]
	return pos, ok
}

// Positions returns a sorted copy of every attributed position, flat rows
// included.
func (l *Ledger) Positions() []schema.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schema.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Strategy != out[j].Strategy {
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].AssetClass < out[j].AssetClass
	})
	return out
}

// Cash returns the cash balance for one strategy.
func (l *Ledger) Cash(strategyName string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash[strategyName]
}

// CashBalances returns a copy of every strategy cash balance.
func (l *Ledger) CashBalances() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.cash))
	for name, balance := range l.cash {
		out[name] = balance
	}
	return out
}

// Count returns the number of tracked positions, flat rows included.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
