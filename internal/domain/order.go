package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Open            OrderStatus = "OPEN"
	PartiallyFilled OrderStatus = "PARTIAL"
	Filled          OrderStatus = "FILLED"
	Canceled        OrderStatus = "CANCELED"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Order is a plain limit order. Quantity is the unmatched remainder and is
// the live value while the order rests in the book; OriginalQuantity never
// changes after submission.
type Order struct {
	ID               string
	UserID           string
	Side             Side
	Price            decimal.Decimal
	Quantity         int64
	OriginalQuantity int64
	Status           OrderStatus
	Seq              uint64
	CreatedAt        time.Time
}

// DeriveStatus is the single place order status is computed from. Status is a
// view over (original, remaining, canceled), never set independently.
func DeriveStatus(original, remaining int64, canceled bool) OrderStatus {
	switch {
	case canceled:
		return Canceled
	case remaining == 0:
		return Filled
	case remaining < original:
		return PartiallyFilled
	default:
		return Open
	}
}

// Clone returns a copy safe to hand outside the matching cycle.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
