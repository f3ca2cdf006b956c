package store

import (
	"sort"
	"time"
)

// indexStep is the deterministic sub-unit offset applied to colliding index
// values. One microsecond keeps offset rows well below any realistic event
// spacing while staying representable in timestamptz.
const indexStep = time.Microsecond

// ensureUniqueAscending walks rows already sorted into their final order and
// bumps any index value that does not strictly follow its predecessor. floor
// is the latest index value already persisted at or after the batch's
// nominal range (zero when nothing collides); the first row is lifted above
// it, so collisions across separate write batches resolve the same way as
// collisions within one. No row is ever dropped.
func ensureUniqueAscending(floor time.Time, n int, get func(int) time.Time, set func(int, time.Time)) {
	last := floor
	for i := 0; i < n; i++ {
		ts := get(i).UTC()
		if !last.IsZero() && !ts.After(last) {
			ts = last.Add(indexStep)
		}
		set(i, ts)
		last = ts
	}
}

// liftTimestamps is ensureUniqueAscending for series where rows sharing one
// nominal timestamp must keep sharing it (distinct symbols under one run
// timestamp). Equal input timestamps map to one output value; distinct
// inputs come out strictly ascending above floor.
func liftTimestamps(floor time.Time, n int, get func(int) time.Time, set func(int, time.Time)) {
	last := floor
	var lastOld time.Time
	haveOld := false
	for i := 0; i < n; i++ {
		old := get(i).UTC()
		if haveOld && old.Equal(lastOld) {
			set(i, last)
			continue
		}
		ts := old
		if !last.IsZero() && !ts.After(last) {
			ts = last.Add(indexStep)
		}
		set(i, ts)
		lastOld, haveOld, last = old, true, ts
	}
}

// normalizeOrderEvents sorts status transitions by timestamp (stable, so
// same-timestamp events keep arrival order) and de-collides the index
// against both the batch and the persisted series.
func normalizeOrderEvents(rows []OrderEventRow, floor time.Time) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	ensureUniqueAscending(floor, len(rows),
		func(i int) time.Time { return rows[i].Timestamp },
		func(i int, ts time.Time) { rows[i].Timestamp = ts },
	)
}

// normalizePortfolioRows orders a reconciliation run deterministically by
// (symbol, strategy, asset class) and assigns the sub-unit offsets, so two
// runs over identical inputs produce identical index values.
func normalizePortfolioRows(rows []PortfolioRow, floor time.Time) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.RunAt.Equal(b.RunAt) {
			return a.RunAt.Before(b.RunAt)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Strategy != b.Strategy {
			return a.Strategy < b.Strategy
		}
		return a.AssetClass < b.AssetClass
	})
	for i := range rows {
		rows[i].RunAt = rows[i].RunAt.UTC()
		rows[i].Timestamp = rows[i].RunAt
	}
	ensureUniqueAscending(floor, len(rows),
		func(i int) time.Time { return rows[i].Timestamp },
		func(i int, ts time.Time) { rows[i].Timestamp = ts },
	)
}

// normalizeStrategyPositions de-collides per (strategy) series, ordered by
// (timestamp, symbol) within it. Rows of one run keep their shared run
// timestamp; a timestamp already persisted for the strategy lifts the whole
// run above it.
func normalizeStrategyPositions(rows []StrategyPositionRow, floors map[string]time.Time) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Strategy != b.Strategy {
			return a.Strategy < b.Strategy
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Symbol < b.Symbol
	})
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].Strategy != rows[start].Strategy {
			group := rows[start:i]
			liftTimestamps(floors[group[0].Strategy], len(group),
				func(k int) time.Time { return group[k].Timestamp },
				func(k int, ts time.Time) { group[k].Timestamp = ts },
			)
			start = i
		}
	}
}

// normalizeStrategyEquity de-collides per (strategy) series.
func normalizeStrategyEquity(rows []StrategyEquityRow, floors map[string]time.Time) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Strategy != b.Strategy {
			return a.Strategy < b.Strategy
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].Strategy != rows[start].Strategy {
			group := rows[start:i]
			ensureUniqueAscending(floors[group[0].Strategy], len(group),
				func(k int) time.Time { return group[k].Timestamp },
				func(k int, ts time.Time) { group[k].Timestamp = ts },
			)
			start = i
		}
	}
}
