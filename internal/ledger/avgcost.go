package ledger

import (
	"multistrat/internal/schema"

	"github.com/shopspring/decimal"
)

// avgCostScale bounds the stored precision of an average cost. Ten fractional
// digits matches the numeric(30,10) columns in the store.
const avgCostScale = 10

// applyToPosition folds one fill into a position and returns the updated
// position plus the realized PnL delta (in the fill currency, commission
// excluded).
//
// Transitions:
//   - flat -> open: average cost is the fill price.
//   - same-sign increase: quantity-weighted average cost.
//   - partial reduction: average cost untouched, PnL realized on the closed
//     quantity.
//   - full close: PnL realized on the whole position, average cost reset.
//   - reversal: PnL realized on the old position, the remainder opens at the
//     fill price.
func applyToPosition(pos schema.Position, f schema.Fill) (schema.Position, decimal.Decimal) {
	d := f.SignedQuantity()
	p := f.Price
	realized := decimal.Zero

	switch {
	case pos.Quantity.IsZero():
		pos.Quantity = d
		pos.AvgCost = p

	case pos.Quantity.Sign() == d.Sign():
		next := pos.Quantity.Add(d)
		weighted := pos.Quantity.Mul(pos.AvgCost).Add(d.Mul(p))
		pos.AvgCost = weighted.DivRound(next, avgCostScale)
		pos.Quantity = next

	default:
		next := pos.Quantity.Add(d)
		switch {
		case next.IsZero():
			realized = pos.Quantity.Mul(p.Sub(pos.AvgCost))
			pos.Quantity = decimal.Zero
			pos.AvgCost = decimal.Zero

		case next.Sign() == pos.Quantity.Sign():
			// Sign unchanged: the fill closed |d| of the position.
			realized = d.Neg().Mul(p.Sub(pos.AvgCost))
			pos.Quantity = next

		default:
			// Sign flipped: realize the full old position, reopen the
			// remainder at the flipping fill's price.
			realized = pos.Quantity.Mul(p.Sub(pos.AvgCost))
			pos.Quantity = next
			pos.AvgCost = p
		}
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	return pos, realized
}

// cashDelta returns the cash effect of a fill: buys spend quantity*price plus
// commission, sells receive quantity*price minus commission.
func cashDelta(f schema.Fill) decimal.Decimal {
	return f.SignedQuantity().Mul(f.Price).Neg().Sub(f.Commission)
}
