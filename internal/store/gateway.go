package store

import (
	"context"
	"time"

	"multistrat/internal/errors"
	"multistrat/internal/obs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultWriteAttempts = 3
	defaultRetryBackoff  = 250 * time.Millisecond
)

// Config controls gateway write behavior.
type Config struct {
	WriteAttempts int
	RetryBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = defaultWriteAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Gateway enforces the append/update discipline on the shared time-series
// store: create once, append new index values, update existing ones. A whole
// series is never blindly overwritten. Every write normalizes its index
// first and retries a bounded number of times before surfacing a
// persistence error.
type Gateway struct {
	db      *gorm.DB
	cfg     Config
	metrics *obs.Metrics
}

// New creates a gateway over an open database handle.
func New(db *gorm.DB, cfg Config, metrics *obs.Metrics) *Gateway {
	return &Gateway{db: db, cfg: cfg.withDefaults(), metrics: metrics}
}

// Migrate creates the series tables on first use.
func (g *Gateway) Migrate(ctx context.Context) error {
	err := g.db.WithContext(ctx).AutoMigrate(
		&FillRow{},
		&OrderEventRow{},
		&PortfolioRow{},
		&AccountSummaryRow{},
		&StrategyPositionRow{},
		&StrategyEquityRow{},
	)
	return errors.Wrap(err, "migrate series tables")
}

// write runs fn with bounded retries and linear backoff between attempts.
func (g *Gateway) write(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= g.cfg.WriteAttempts; attempt++ {
		if err = fn(g.db.WithContext(ctx)); err == nil {
			return nil
		}
		if attempt == g.cfg.WriteAttempts {
			break
		}
		g.metrics.IncPersistRetry()
		select {
		case <-ctx.Done():
			g.metrics.IncPersistFailure()
			return errors.NewPersistence(op, attempt, ctx.Err())
		case <-time.After(g.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	g.metrics.IncPersistFailure()
	return errors.NewPersistence(op, g.cfg.WriteAttempts, err)
}

// AppendFill appends one fill under its unique fill id. A repeated id is
// reported as ErrDuplicateEvent and leaves the stored row untouched;
// corrections go through UpdateFill.
func (g *Gateway) AppendFill(ctx context.Context, row FillRow) error {
	var inserted int64
	err := g.write(ctx, "fills append", func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if inserted == 0 {
		return errors.Wrapf(errors.ErrDuplicateEvent, "fill %s", row.FillID)
	}
	return nil
}

// UpdateFill corrects the row at an existing fill id.
func (g *Gateway) UpdateFill(ctx context.Context, row FillRow) error {
	var updated int64
	err := g.write(ctx, "fills update", func(db *gorm.DB) error {
		res := db.Model(&FillRow{}).Where("fill_id = ?", row.FillID).Updates(map[string]any{
			"order_id":    row.OrderID,
			"strategy":    row.Strategy,
			"symbol":      row.Symbol,
			"asset_class": row.AssetClass,
			"side":        row.Side,
			"quantity":    row.Quantity,
			"price":       row.Price,
			"commission":  row.Commission,
			"currency":    row.Currency,
			"timestamp":   row.Timestamp.UTC(),
		})
		updated = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return err
	}
	if updated == 0 {
		return errors.Wrapf(errors.ErrUnknownIndex, "fill %s", row.FillID)
	}
	return nil
}

// HasFill reports whether a fill id already exists.
func (g *Gateway) HasFill(ctx context.Context, fillID string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&FillRow{}).Where("fill_id = ?", fillID).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "fills lookup")
	}
	return count > 0, nil
}

// timestampFloor returns the latest persisted index value at or after from
// for the series, scoped to one strategy when name is non-empty. Zero means
// nothing persisted can collide with the batch.
func timestampFloor(db *gorm.DB, model any, from time.Time, strategyName string) (time.Time, error) {
	var res struct {
		Timestamp time.Time
	}
	q := db.Model(model).Select("max(timestamp) as timestamp").Where("timestamp >= ?", from.UTC())
	if strategyName != "" {
		q = q.Where("strategy = ?", strategyName)
	}
	if err := q.Scan(&res).Error; err != nil {
		return time.Time{}, err
	}
	return res.Timestamp.UTC(), nil
}

// strategyFloors resolves a per-strategy floor for series whose unique index
// is scoped by strategy. froms holds the earliest nominal timestamp per
// strategy in the batch.
func strategyFloors(db *gorm.DB, model any, froms map[string]time.Time) (map[string]time.Time, error) {
	floors := make(map[string]time.Time, len(froms))
	for name, from := range froms {
		floor, err := timestampFloor(db, model, from, name)
		if err != nil {
			return nil, err
		}
		if !floor.IsZero() {
			floors[name] = floor
		}
	}
	return floors, nil
}

// AppendOrderEvents appends status transitions, normalizing the timestamp
// index first. The persisted floor is read inside the retry loop, so an
// index value taken by an earlier batch (or by a concurrent writer between
// attempts) is resolved by lifting, never by dropping the row.
func (g *Gateway) AppendOrderEvents(ctx context.Context, rows []OrderEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	from := rows[0].Timestamp
	for _, r := range rows[1:] {
		if r.Timestamp.Before(from) {
			from = r.Timestamp
		}
	}
	return g.write(ctx, "orders append", func(db *gorm.DB) error {
		floor, err := timestampFloor(db, &OrderEventRow{}, from, "")
		if err != nil {
			return err
		}
		normalizeOrderEvents(rows, floor)
		return db.Create(&rows).Error
	})
}

// AppendPortfolioRows appends one reconciliation run. Rows share a RunAt
// value; the normalized Timestamp carries the deterministic sub-unit
// offsets that keep the index unique.
func (g *Gateway) AppendPortfolioRows(ctx context.Context, rows []PortfolioRow) error {
	if len(rows) == 0 {
		return nil
	}
	from := rows[0].RunAt
	for _, r := range rows[1:] {
		if r.RunAt.Before(from) {
			from = r.RunAt
		}
	}
	return g.write(ctx, "portfolio append", func(db *gorm.DB) error {
		floor, err := timestampFloor(db, &PortfolioRow{}, from, "")
		if err != nil {
			return err
		}
		normalizePortfolioRows(rows, floor)
		return db.Create(&rows).Error
	})
}

// UpdatePortfolioRows corrects rows at their existing index values. Used by
// the incremental per-symbol refresh between reconciliation runs. The batch
// commits in one transaction, so a failed row leaves the snapshot untouched
// instead of partially refreshed.
func (g *Gateway) UpdatePortfolioRows(ctx context.Context, rows []PortfolioRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == 0 {
			return errors.Wrapf(errors.ErrUnknownIndex, "portfolio row %s/%s", row.Strategy, row.Symbol)
		}
	}
	return g.write(ctx, "portfolio update", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for i := range rows {
				row := rows[i]
				res := tx.Model(&PortfolioRow{}).Where("id = ?", row.ID).Updates(map[string]any{
					"quantity":          row.Quantity,
					"average_cost":      row.AverageCost,
					"market_price":      row.MarketPrice,
					"market_value":      row.MarketValue,
					"market_value_base": row.MarketValueBase,
					"pct_of_nav":        row.PctOfNav,
					"fx_rate":           row.FXRate,
					"pnl_pct":           row.PnLPct,
				})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errors.Wrapf(errors.ErrUnknownIndex, "portfolio row id %d", row.ID)
				}
			}
			return nil
		})
	})
}

// LatestPortfolioSnapshot returns the rows of the most recent reconciliation
// run and its run timestamp. A zero time and no rows means no snapshot has
// been persisted yet.
func (g *Gateway) LatestPortfolioSnapshot(ctx context.Context) ([]PortfolioRow, time.Time, error) {
	var latest struct {
		RunAt time.Time
	}
	res := g.db.WithContext(ctx).Model(&PortfolioRow{}).
		Select("max(run_at) as run_at").
		Scan(&latest)
	if res.Error != nil {
		return nil, time.Time{}, errors.Wrap(res.Error, "portfolio latest run lookup")
	}
	if latest.RunAt.IsZero() {
		return nil, time.Time{}, nil
	}

	var rows []PortfolioRow
	err := g.db.WithContext(ctx).
		Where("run_at = ?", latest.RunAt).
		Order("timestamp asc").
		Find(&rows).Error
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "portfolio snapshot load")
	}
	return rows, latest.RunAt, nil
}

// AppendAccountSummary appends one account-level snapshot row, lifting its
// timestamp above any already-persisted row at the same index.
func (g *Gateway) AppendAccountSummary(ctx context.Context, row AccountSummaryRow) error {
	row.Timestamp = row.Timestamp.UTC()
	from := row.Timestamp
	return g.write(ctx, "account_summary append", func(db *gorm.DB) error {
		floor, err := timestampFloor(db, &AccountSummaryRow{}, from, "")
		if err != nil {
			return err
		}
		if !floor.IsZero() && !row.Timestamp.After(floor) {
			row.Timestamp = floor.Add(indexStep)
		}
		return db.Create(&row).Error
	})
}

// AppendStrategyEquity appends per-strategy equity curve points.
func (g *Gateway) AppendStrategyEquity(ctx context.Context, rows []StrategyEquityRow) error {
	if len(rows) == 0 {
		return nil
	}
	froms := earliestByStrategy(len(rows),
		func(i int) string { return rows[i].Strategy },
		func(i int) time.Time { return rows[i].Timestamp },
	)
	return g.write(ctx, "strategy_equity append", func(db *gorm.DB) error {
		floors, err := strategyFloors(db, &StrategyEquityRow{}, froms)
		if err != nil {
			return err
		}
		normalizeStrategyEquity(rows, floors)
		return db.Create(&rows).Error
	})
}

// AppendStrategyPositions appends per-strategy position snapshots.
func (g *Gateway) AppendStrategyPositions(ctx context.Context, rows []StrategyPositionRow) error {
	if len(rows) == 0 {
		return nil
	}
	froms := earliestByStrategy(len(rows),
		func(i int) string { return rows[i].Strategy },
		func(i int) time.Time { return rows[i].Timestamp },
	)
	return g.write(ctx, "strategy_positions append", func(db *gorm.DB) error {
		floors, err := strategyFloors(db, &StrategyPositionRow{}, froms)
		if err != nil {
			return err
		}
		normalizeStrategyPositions(rows, floors)
		return db.Create(&rows).Error
	})
}

func earliestByStrategy(n int, strategyOf func(int) string, tsOf func(int) time.Time) map[string]time.Time {
	froms := make(map[string]time.Time, n)
	for i := 0; i < n; i++ {
		name, ts := strategyOf(i), tsOf(i)
		if from, ok := froms[name]; !ok || ts.Before(from) {
			froms[name] = ts
		}
	}
	return froms
}
