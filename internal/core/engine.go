package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/port"
)

const recentTradeWindow = 50

// Engine runs the venue: one book, one gate, one ledger. Every submit and
// cancel is a full cycle (match, mutate book, persist) executed exclusively
// through the gate. The book is authoritative for remaining quantities; the
// ledger is a derived mirror written synchronously after each cycle and, on
// persistence failure, deliberately allowed to drift behind the book.
type Engine struct {
	venue  string
	ledger port.Ledger
	cache  port.Cache
	bc     port.Broadcaster
	log    *logrus.Entry

	gate *Gate
	book *Book

	// orders and trades are written only inside gate cycles; the mutex
	// covers the boot-time load and the read helpers.
	mu     sync.RWMutex
	orders map[string]*domain.Order
	trades []*domain.Trade
}

func NewEngine(venue string, ledger port.Ledger, cache port.Cache, bc port.Broadcaster, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		venue:  venue,
		ledger: ledger,
		cache:  cache,
		bc:     bc,
		log:    log.WithField("venue", venue),
		gate:   NewGate(),
		book:   NewBook(),
		orders: make(map[string]*domain.Order),
	}
}

// Close drains queued cycles and stops the gate.
func (e *Engine) Close() {
	e.gate.Close()
}

// LoadOpenOrders rebuilds the book from the ledger on startup. Rows come
// back in arrival order, so FIFO priority within a price survives a restart.
func (e *Engine) LoadOpenOrders(ctx context.Context) error {
	open, err := e.ledger.LoadOpenOrders(ctx)
	if err != nil {
		return err
	}
	return e.gate.RunExclusive(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, o := range open {
			if err := e.book.Insert(o); err != nil {
				return err
			}
			e.orders[o.ID] = o
		}
		e.log.WithField("orders", len(open)).Info("book rebuilt from ledger")
		return nil
	})
}

// Submit runs one full cycle for an incoming limit order: validation, the
// matching loop, the atomic ledger write, then a best-effort market update.
// On ErrPersistence the book mutation has already happened and is kept; the
// cycle must not be retried as-is, or it would re-match and double-trade.
func (e *Engine) Submit(ctx context.Context, o *domain.Order) (*domain.Order, []*domain.Trade, error) {
	if err := validateOrder(o); err != nil {
		return nil, nil, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.OriginalQuantity = o.Quantity
	o.Status = domain.Open
	o.CreatedAt = time.Now()

	var view *domain.Order
	var trades []*domain.Trade
	err := e.gate.RunExclusive(func() error {
		e.mu.Lock()
		if _, dup := e.orders[o.ID]; dup {
			e.mu.Unlock()
			return fmt.Errorf("%w: duplicate order id %s", domain.ErrValidation, o.ID)
		}
		e.orders[o.ID] = o
		e.mu.Unlock()

		var err error
		trades, _, err = matchOrder(e.book, o)
		if err != nil {
			return err
		}

		// terminal status is written only once an order has left the book;
		// resting orders keep a derived status computed at copy time
		if o.Quantity == 0 {
			o.Status = domain.Filled
		}
		view = o.Clone()
		view.Status = domain.DeriveStatus(o.OriginalQuantity, o.Quantity, false)

		counterparts := make(map[string]*domain.Order, len(trades))
		for _, t := range trades {
			id := counterparty(t, o.ID)
			e.mu.RLock()
			cp := e.orders[id]
			e.mu.RUnlock()
			if cp == nil {
				continue
			}
			if cp.Quantity == 0 {
				cp.Status = domain.Filled
			}
			cpView := cp.Clone()
			cpView.Status = domain.DeriveStatus(cp.OriginalQuantity, cp.Quantity, false)
			counterparts[id] = cpView
		}

		e.mu.Lock()
		e.trades = append(e.trades, trades...)
		e.mu.Unlock()

		if err := e.reconcile(ctx, view, trades, counterparts); err != nil {
			// the book moved but the cycle failed; a cached snapshot from
			// before the cycle must not outlive it
			e.dropCachedSnapshot(ctx)
			return err
		}
		e.afterCycle(ctx)
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("order_id", o.ID).Error("submit cycle failed")
		return nil, nil, err
	}

	e.log.WithFields(logrus.Fields{
		"order_id": view.ID,
		"side":     view.Side,
		"status":   view.Status,
		"trades":   len(trades),
	}).Info("order processed")
	return view, trades, nil
}

// Cancel removes the order from the book through the gate, then marks the
// ledger record canceled with quantity zero. A second cancel of the same id
// reports ErrNotFound and changes nothing.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	err := e.gate.RunExclusive(func() error {
		e.mu.RLock()
		o, ok := e.orders[id]
		e.mu.RUnlock()
		if !ok {
			// only resting orders are rebuilt after a restart; the ledger
			// record still decides the taxonomy for everything else
			rec, err := e.ledger.LoadOrder(ctx, id)
			if err != nil {
				return err
			}
			switch rec.Status {
			case domain.Filled:
				return fmt.Errorf("%w: order %s already filled", domain.ErrInvalidState, id)
			case domain.Canceled:
				return fmt.Errorf("%w: order %s already canceled", domain.ErrNotFound, id)
			default:
				return fmt.Errorf("%w: order %s not resting", domain.ErrNotFound, id)
			}
		}
		switch o.Status {
		case domain.Filled:
			return fmt.Errorf("%w: order %s already filled", domain.ErrInvalidState, id)
		case domain.Canceled:
			return fmt.Errorf("%w: order %s already canceled", domain.ErrNotFound, id)
		}

		// once removed from the book the struct is private to the gate
		e.book.RemoveByID(o.Side, id)
		o.Quantity = 0
		o.Status = domain.DeriveStatus(o.OriginalQuantity, 0, true)

		if err := withTx(ctx, e.ledger, func(tx port.LedgerTx) error {
			return tx.UpsertOrder(ctx, o.Clone())
		}); err != nil {
			e.dropCachedSnapshot(ctx)
			return fmt.Errorf("%w: cancel %s: %v", domain.ErrPersistence, id, err)
		}
		e.afterCycle(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	e.log.WithField("order_id", id).Info("order canceled")
	return nil
}

// Snapshot serves reads without the gate: cache when warm, live book
// otherwise. Either way the copy reflects a point strictly between cycles.
func (e *Engine) Snapshot(ctx context.Context) *domain.BookSnapshot {
	if e.cache != nil {
		if snap, err := e.cache.GetSnapshot(ctx, e.venue); err == nil && snap != nil {
			return snap
		}
	}
	return e.book.Snapshot()
}

// Order returns the durable ledger view of an order.
func (e *Engine) Order(ctx context.Context, id string) (*domain.Order, error) {
	return e.ledger.LoadOrder(ctx, id)
}

// TradesForOrder returns every persisted trade the order took part in.
func (e *Engine) TradesForOrder(ctx context.Context, id string) ([]*domain.Trade, error) {
	return e.ledger.LoadTradesForOrder(ctx, id)
}

// RecentTrades returns the tail of the in-memory trade history, newest last.
func (e *Engine) RecentTrades(n int) []domain.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.trades) {
		n = len(e.trades)
	}
	out := make([]domain.Trade, 0, n)
	for _, t := range e.trades[len(e.trades)-n:] {
		out = append(out, *t)
	}
	return out
}

// reconcile applies one cycle's writes as a single atomic unit: the incoming
// order's final snapshot, every trade, and each touched counterparty at its
// live book quantity. Any failure surfaces as ErrPersistence; the book is
// not rolled back.
func (e *Engine) reconcile(ctx context.Context, incoming *domain.Order, trades []*domain.Trade, counterparts map[string]*domain.Order) error {
	err := withTx(ctx, e.ledger, func(tx port.LedgerTx) error {
		if err := tx.UpsertOrder(ctx, incoming); err != nil {
			return err
		}
		for _, t := range trades {
			if err := tx.InsertTrade(ctx, t); err != nil {
				return err
			}
			cp := counterparts[counterparty(t, incoming.ID)]
			if cp == nil {
				continue
			}
			if err := tx.UpsertOrder(ctx, cp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("order_id", incoming.ID).
			Error("ledger write failed, book retains the cycle; reconciliation needed")
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (e *Engine) dropCachedSnapshot(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, e.venue); err != nil {
		e.log.WithError(err).Warn("snapshot cache invalidation failed")
	}
}

// afterCycle refreshes the snapshot cache and emits a market update. Both
// are best effort and never fail the cycle.
func (e *Engine) afterCycle(ctx context.Context) {
	snap := e.book.Snapshot()
	if e.cache != nil {
		if err := e.cache.SetSnapshot(ctx, e.venue, snap.DeepCopy()); err != nil {
			e.log.WithError(err).Warn("snapshot cache refresh failed")
			e.dropCachedSnapshot(ctx)
		}
	}
	if e.bc != nil {
		e.bc.Publish(&domain.MarketUpdate{
			Snapshot:     snap,
			RecentTrades: e.RecentTrades(recentTradeWindow),
		})
	}
}

func validateOrder(o *domain.Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", domain.ErrValidation)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", domain.ErrValidation, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", domain.ErrValidation, o.Quantity)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price %s", domain.ErrValidation, o.Price)
	}
	return nil
}

func counterparty(t *domain.Trade, incomingID string) string {
	if t.BuyOrder == incomingID {
		return t.SellOrder
	}
	return t.BuyOrder
}
