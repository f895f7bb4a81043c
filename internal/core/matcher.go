package core

import (
	"time"

	"github.com/google/uuid"

	"venue-matching-service/internal/domain"
)

// matchOrder runs the price-time priority loop for one incoming order
// against the book. The execution price is always the resting order's price.
// Returns the trades in execution order and, for every resting order that
// was touched but survived, its remaining quantity.
//
// The best opposing order is recomputed on every step: the previous best may
// have just been fully consumed, and the next candidate may no longer
// qualify against the limit.
//
// matchOrder is not thread-safe; the serialization gate guarantees a single
// cycle runs at a time.
func matchOrder(book *Book, incoming *domain.Order) ([]*domain.Trade, map[string]int64, error) {
	var trades []*domain.Trade
	touched := make(map[string]int64)

	for incoming.Quantity > 0 {
		resting := book.BestOpposing(incoming.Side, incoming.Price)
		if resting == nil {
			break
		}

		qty := incoming.Quantity
		if resting.Quantity < qty {
			qty = resting.Quantity
		}

		t := &domain.Trade{
			ID:         uuid.NewString(),
			Price:      resting.Price,
			Quantity:   qty,
			ExecutedAt: time.Now(),
		}
		if incoming.Side == domain.Buy {
			t.BuyOrder = incoming.ID
			t.SellOrder = resting.ID
		} else {
			t.BuyOrder = resting.ID
			t.SellOrder = incoming.ID
		}

		remaining, err := book.Reduce(resting.Side, resting.ID, qty)
		if err != nil {
			return trades, touched, err
		}
		incoming.Quantity -= qty
		trades = append(trades, t)

		if remaining > 0 {
			touched[resting.ID] = remaining
		} else {
			delete(touched, resting.ID)
		}
	}

	if incoming.Quantity > 0 {
		if err := book.Insert(incoming); err != nil {
			return trades, touched, err
		}
	}
	return trades, touched, nil
}
