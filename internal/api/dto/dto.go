package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubmitOrderRequest struct {
	OrderID  string          `json:"order_id,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Side     string          `json:"side" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Quantity int64           `json:"quantity" binding:"required"`
}

type SubmitOrderResponse struct {
	Order  Order   `json:"order"`
	Trades []Trade `json:"trades"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type GetTradesResponse struct {
	Trades []Trade `json:"trades"`
}

type GetOrderbookResponse struct {
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id,omitempty"`
	Side             string          `json:"side"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int64           `json:"quantity"`
	OriginalQuantity int64           `json:"original_quantity"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Trade struct {
	ID         string          `json:"id"`
	BuyOrder   string          `json:"buy_order"`
	SellOrder  string          `json:"sell_order"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	ExecutedAt time.Time       `json:"executed_at"`
}
