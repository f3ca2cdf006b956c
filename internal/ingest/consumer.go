package ingest

import (
	"context"
	"time"

	"multistrat/internal/bus"
	"multistrat/internal/errors"
	"multistrat/internal/ledger"
	"multistrat/internal/obs"
	"multistrat/internal/schema"
	"multistrat/internal/store"

	"github.com/yanun0323/logs"
)

// Store is the slice of the persistence gateway the consumer writes through.
type Store interface {
	AppendFill(ctx context.Context, row store.FillRow) error
	AppendOrderEvents(ctx context.Context, rows []store.OrderEventRow) error
}

// Journal is the slice of the event journal the consumer appends through.
// Append blocks while the journal queue is full; an event is never applied
// without first landing in the journal queue.
type Journal interface {
	Append(ctx context.Context, e schema.Event) error
}

// PortfolioRefresher updates the persisted attribution rows for one symbol
// between reconciliation runs.
type PortfolioRefresher interface {
	RefreshSymbol(ctx context.Context, symbol string, asset schema.AssetClass) error
}

// Consumer is the single drain of the shared event queue. It journals each
// event, mutates the ledger, persists the audit rows, and nudges the
// incremental portfolio refresh. One consumer per queue; dequeue order is
// the ledger mutation order.
//
// Rows whose store write fails after the gateway's retries are held in a
// redelivery buffer and re-attempted on the next event, so a store outage
// delays audit rows instead of dropping them. The buffers are touched only
// from the consumer goroutine.
type Consumer struct {
	queue     *bus.Queue
	ledger    *ledger.Ledger
	store     Store
	journal   Journal
	refresher PortfolioRefresher
	metrics   *obs.Metrics
	done      chan struct{}

	pendingFills  []store.FillRow
	pendingOrders []store.OrderEventRow
}

// NewConsumer wires the consumer. journal and refresher may be nil; the
// consumer then skips those steps.
func NewConsumer(queue *bus.Queue, l *ledger.Ledger, s Store, j Journal, refresher PortfolioRefresher, metrics *obs.Metrics) *Consumer {
	return &Consumer{
		queue:     queue,
		ledger:    l,
		store:     s,
		journal:   j,
		refresher: refresher,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// Run drains the queue until the context is done or the queue is closed and
// empty. A failing event is logged and skipped; it never halts the loop.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	c.queue.Run(ctx, func(e schema.Event) {
		c.handle(ctx, e)
	})
	c.flushPending(ctx)
}

// Drain closes the queue and waits for the already-enqueued events to be
// consumed.
func (c *Consumer) Drain() {
	c.queue.Close()
	<-c.done
}

// DrainWithin closes the queue and waits up to d for the remaining events.
// It reports whether the drain completed before the deadline.
func (c *Consumer) DrainWithin(d time.Duration) bool {
	c.queue.Close()
	select {
	case <-c.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (c *Consumer) handle(ctx context.Context, e schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncHandlerFailure()
			logs.Errorf("event handler panic, type: %s, strategy: %s, recovered: %v", e.Type, e.Strategy, r)
		}
	}()

	start := time.Now()
	defer func() { c.metrics.ObserveHandle(time.Since(start)) }()

	if c.journal != nil {
		if err := c.journal.Append(ctx, e); err != nil {
			logs.Warnf("journal append failed, type: %s, strategy: %s, err: %v", e.Type, e.Strategy, err)
		} else {
			c.metrics.IncJournalAppend()
		}
	}

	c.flushPending(ctx)

	switch e.Type {
	case schema.EventFill:
		if e.Fill == nil {
			c.metrics.IncHandlerFailure()
			logs.Errorf("fill event without payload, strategy: %s", e.Strategy)
			return
		}
		c.handleFill(ctx, *e.Fill)
	case schema.EventStatusChange:
		if e.Status == nil {
			c.metrics.IncHandlerFailure()
			logs.Errorf("status event without payload, strategy: %s", e.Strategy)
			return
		}
		c.handleStatus(ctx, *e.Status)
	default:
		c.metrics.IncHandlerFailure()
		logs.Errorf("unknown event type: %s, strategy: %s", e.Type, e.Strategy)
	}
}

func (c *Consumer) handleFill(ctx context.Context, f schema.Fill) {
	pos, err := c.ledger.ApplyFill(f)
	switch {
	case err == nil:
		c.metrics.IncFillApplied()
	case errors.Is(err, errors.ErrDuplicateEvent):
		c.metrics.IncDuplicateEvent()
		logs.Debugf("duplicate fill ignored, fill_id: %s, strategy: %s, symbol: %s", f.FillID, f.Strategy, f.Symbol)
		return
	case errors.Is(err, errors.ErrUnknownStrategy):
		c.metrics.IncConfigReject()
		logs.Errorf("fill rejected, fill_id: %s, strategy: %s, symbol: %s, ts: %s, err: %v",
			f.FillID, f.Strategy, f.Symbol, f.Timestamp.UTC().Format(time.RFC3339Nano), err)
		return
	default:
		c.metrics.IncHandlerFailure()
		logs.Errorf("fill apply failed, fill_id: %s, strategy: %s, symbol: %s, err: %v", f.FillID, f.Strategy, f.Symbol, err)
		return
	}

	row := store.NewFillRow(f)
	if err := c.store.AppendFill(ctx, row); err != nil {
		if errors.Is(err, errors.ErrDuplicateEvent) {
			c.metrics.IncDuplicateEvent()
		} else {
			c.pendingFills = append(c.pendingFills, row)
			logs.Errorf("fill persist failed, held for redelivery, fill_id: %s, strategy: %s, symbol: %s, err: %v",
				f.FillID, f.Strategy, f.Symbol, err)
		}
	}

	if c.refresher != nil {
		if err := c.refresher.RefreshSymbol(ctx, f.Symbol, f.AssetClass); err != nil {
			logs.Warnf("portfolio refresh failed, symbol: %s, err: %v", f.Symbol, err)
		}
	}

	logs.Debugf("fill applied, fill_id: %s, strategy: %s, symbol: %s, qty: %s, avg_cost: %s",
		f.FillID, f.Strategy, f.Symbol, pos.Quantity.String(), pos.AvgCost.String())
}

func (c *Consumer) handleStatus(ctx context.Context, s schema.OrderStatusEvent) {
	if err := c.ledger.ApplyStatus(s); err != nil {
		c.metrics.IncConfigReject()
		logs.Errorf("status rejected, order_id: %s, strategy: %s, ts: %s, err: %v",
			s.OrderID, s.Strategy, s.Timestamp.UTC().Format(time.RFC3339Nano), err)
		return
	}
	c.metrics.IncStatusApplied()

	row := store.NewOrderEventRow(s)
	if err := c.store.AppendOrderEvents(ctx, []store.OrderEventRow{row}); err != nil {
		c.pendingOrders = append(c.pendingOrders, row)
		logs.Errorf("status persist failed, held for redelivery, order_id: %s, strategy: %s, err: %v", s.OrderID, s.Strategy, err)
	}
}

// flushPending re-attempts store writes that failed on earlier events. A
// fill that turns out to be persisted already counts as delivered.
func (c *Consumer) flushPending(ctx context.Context) {
	if len(c.pendingFills) > 0 {
		kept := c.pendingFills[:0]
		for _, row := range c.pendingFills {
			if err := c.store.AppendFill(ctx, row); err != nil && !errors.Is(err, errors.ErrDuplicateEvent) {
				kept = append(kept, row)
			}
		}
		flushed := len(c.pendingFills) - len(kept)
		c.pendingFills = kept
		if flushed > 0 {
			logs.Infof("redelivered fills persisted, count: %d, still pending: %d", flushed, len(kept))
		}
	}

	if len(c.pendingOrders) > 0 {
		rows := c.pendingOrders
		if err := c.store.AppendOrderEvents(ctx, rows); err == nil {
			c.pendingOrders = nil
			logs.Infof("redelivered status rows persisted, count: %d", len(rows))
		}
	}
}

// Replay applies one recovered journal event to the ledger and re-attempts
// the fill's store row, so a crash between ledger apply and store write is
// healed on recovery. A fill already persisted is absorbed as a duplicate.
// Status rows carry no natural key, so their store writes are not replayed.
func (c *Consumer) Replay(ctx context.Context, e schema.Event) error {
	switch e.Type {
	case schema.EventFill:
		if e.Fill == nil {
			return errors.New("fill event without payload")
		}
		_, err := c.ledger.ApplyFill(*e.Fill)
		if err != nil && !errors.Is(err, errors.ErrDuplicateEvent) {
			return err
		}
		if c.store != nil {
			row := store.NewFillRow(*e.Fill)
			if err := c.store.AppendFill(ctx, row); err != nil && !errors.Is(err, errors.ErrDuplicateEvent) {
				c.pendingFills = append(c.pendingFills, row)
				logs.Warnf("replayed fill persist failed, held for redelivery, fill_id: %s, err: %v", e.Fill.FillID, err)
			}
		}
		return nil
	case schema.EventStatusChange:
		if e.Status == nil {
			return errors.New("status event without payload")
		}
		return c.ledger.ApplyStatus(*e.Status)
	default:
		return errors.Errorf("unknown event type %q", e.Type)
	}
}
