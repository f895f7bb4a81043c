package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"venue-matching-service/internal/domain"
)

// Book holds the resting orders of a single venue, one slice per side, kept
// in price-time order: bids price desc, asks price asc, earliest arrival
// first within a price. It is the sole source of truth for how much of an
// order remains unmatched right now.
//
// All mutation happens inside the serialization gate; the internal RWMutex
// only exists so Snapshot readers outside the gate never observe a
// half-applied cycle.
type Book struct {
	mu    sync.RWMutex
	bids  []*domain.Order
	asks  []*domain.Order
	index map[string]domain.Side
	seq   uint64
}

func NewBook() *Book {
	return &Book{index: make(map[string]domain.Side)}
}

// Insert adds a resting order to its side. Orders with no remaining quantity
// never enter the book.
func (b *Book) Insert(o *domain.Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: insert with quantity %d", domain.ErrInvalidState, o.Quantity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.index[o.ID]; dup {
		return fmt.Errorf("%w: order %s already resting", domain.ErrInvalidState, o.ID)
	}
	if o.Seq == 0 {
		b.seq++
		o.Seq = b.seq
	} else if o.Seq > b.seq {
		// reloaded order carries its original arrival sequence; later
		// arrivals must keep sorting after it
		b.seq = o.Seq
	}
	b.index[o.ID] = o.Side
	if o.Side == domain.Buy {
		b.bids = append(b.bids, o)
		sortBids(b.bids)
	} else {
		b.asks = append(b.asks, o)
		sortAsks(b.asks)
	}
	return nil
}

// RemoveByID removes and returns the order if present, nil otherwise.
// Removing an absent id is a no-op.
func (b *Book) RemoveByID(side domain.Side, id string) *domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(side, id)
}

func (b *Book) remove(side domain.Side, id string) *domain.Order {
	orders := &b.bids
	if side == domain.Sell {
		orders = &b.asks
	}
	for i, o := range *orders {
		if o.ID == id {
			*orders = append((*orders)[:i], (*orders)[i+1:]...)
			delete(b.index, id)
			return o
		}
	}
	return nil
}

// BestOpposing returns a copy of the best-priced resting order on the side
// opposite to incomingSide that qualifies against limitPrice: for a buy, the
// cheapest ask at or below the limit; for a sell, the dearest bid at or
// above it. Ties go to the earliest arrival. Nil when nothing qualifies.
func (b *Book) BestOpposing(incomingSide domain.Side, limitPrice decimal.Decimal) *domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if incomingSide == domain.Buy {
		if len(b.asks) > 0 && b.asks[0].Price.LessThanOrEqual(limitPrice) {
			return b.asks[0].Clone()
		}
		return nil
	}
	if len(b.bids) > 0 && b.bids[0].Price.GreaterThanOrEqual(limitPrice) {
		return b.bids[0].Clone()
	}
	return nil
}

// Reduce subtracts qty from a resting order's remainder and evicts it when
// fully consumed. Returns the remaining quantity after the reduction.
func (b *Book) Reduce(side domain.Side, id string, qty int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	orders := b.bids
	if side == domain.Sell {
		orders = b.asks
	}
	for _, o := range orders {
		if o.ID != id {
			continue
		}
		if qty <= 0 || qty > o.Quantity {
			return o.Quantity, fmt.Errorf("%w: reduce %s by %d with %d remaining", domain.ErrInvalidState, id, qty, o.Quantity)
		}
		o.Quantity -= qty
		if o.Quantity == 0 {
			b.remove(side, id)
		}
		return o.Quantity, nil
	}
	return 0, fmt.Errorf("%w: order %s not resting", domain.ErrNotFound, id)
}

// Snapshot deep-copies both sides. Safe to call concurrently with a cycle;
// the copy is taken strictly before or after any single cycle's mutation.
func (b *Book) Snapshot() *domain.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := &domain.BookSnapshot{
		Bids:      make([]domain.Order, len(b.bids)),
		Asks:      make([]domain.Order, len(b.asks)),
		Timestamp: time.Now(),
	}
	for i, o := range b.bids {
		snap.Bids[i] = *o
		snap.Bids[i].Status = domain.DeriveStatus(o.OriginalQuantity, o.Quantity, false)
	}
	for i, o := range b.asks {
		snap.Asks[i] = *o
		snap.Asks[i].Status = domain.DeriveStatus(o.OriginalQuantity, o.Quantity, false)
	}
	return snap
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids) + len(b.asks)
}

func sortBids(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].Price.Equal(orders[j].Price) {
			return orders[i].Price.GreaterThan(orders[j].Price)
		}
		return orders[i].Seq < orders[j].Seq
	})
}

func sortAsks(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].Price.Equal(orders[j].Price) {
			return orders[i].Price.LessThan(orders[j].Price)
		}
		return orders[i].Seq < orders[j].Seq
	})
}
