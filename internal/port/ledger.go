package port

import (
	"context"

	"venue-matching-service/internal/domain"
)

// Ledger is the durable record of orders and trades. It mirrors the live
// book but is never consulted to decide matching.
type Ledger interface {
	BeginTx(ctx context.Context) (LedgerTx, error)
	LoadOpenOrders(ctx context.Context) ([]*domain.Order, error)
	LoadOrder(ctx context.Context, id string) (*domain.Order, error)
	LoadTradesForOrder(ctx context.Context, id string) ([]*domain.Trade, error)
}

// LedgerTx collects one cycle's writes into a single atomic unit: either
// every order upsert and trade append lands, or none does.
type LedgerTx interface {
	UpsertOrder(ctx context.Context, o *domain.Order) error
	InsertTrade(ctx context.Context, t *domain.Trade) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
