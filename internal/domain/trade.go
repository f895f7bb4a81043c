package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is immutable once created. BuyOrder/SellOrder are assigned by side,
// not by which order was the incoming one.
type Trade struct {
	ID         string
	BuyOrder   string
	SellOrder  string
	Price      decimal.Decimal
	Quantity   int64
	ExecutedAt time.Time
}
