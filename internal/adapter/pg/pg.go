package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/port"
)

var _ port.Ledger = (*Ledger)(nil)

// Ledger is the Postgres-backed durable ledger. One cycle's writes go
// through a single transaction so a trade row is never visible without its
// order updates.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

//go:embed schema.sql
var schema string

// EnsureSchema creates the ledger tables if they do not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schema)
	return err
}

func (l *Ledger) BeginTx(ctx context.Context) (port.LedgerTx, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin tx: %w", err)
	}
	return &ledgerTx{tx: tx}, nil
}

// LoadOpenOrders returns resting orders (OPEN or PARTIAL) in arrival order.
func (l *Ledger) LoadOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id, side, price, quantity, original_quantity, status, seq, COALESCE(user_id, ''), created_at
FROM orders
WHERE quantity > 0 AND status IN ('OPEN', 'PARTIAL')
ORDER BY seq ASC, created_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (l *Ledger) LoadOrder(ctx context.Context, id string) (*domain.Order, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id, side, price, quantity, original_quantity, status, seq, COALESCE(user_id, ''), created_at
FROM orders WHERE id = $1
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return scanOrder(rows)
}

func (l *Ledger) LoadTradesForOrder(ctx context.Context, id string) ([]*domain.Trade, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id, buy_order, sell_order, price, quantity, executed_at
FROM trades
WHERE buy_order = $1 OR sell_order = $1
ORDER BY executed_at ASC
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.BuyOrder, &t.SellOrder, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

func scanOrder(rows pgx.Rows) (*domain.Order, error) {
	var o domain.Order
	var side, status string
	var seq int64
	if err := rows.Scan(&o.ID, &side, &o.Price, &o.Quantity, &o.OriginalQuantity, &status, &seq, &o.UserID, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.Seq = uint64(seq)
	return &o, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) UpsertOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("pg: nil order")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO orders(id, side, price, quantity, original_quantity, status, seq, user_id, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)
ON CONFLICT (id) DO UPDATE SET
  quantity = EXCLUDED.quantity,
  status = EXCLUDED.status
`, o.ID, string(o.Side), o.Price, o.Quantity, o.OriginalQuantity, string(o.Status), int64(o.Seq), o.UserID, o.CreatedAt)
	return err
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr *domain.Trade) error {
	if tr == nil {
		return errors.New("pg: nil trade")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO trades(id, buy_order, sell_order, price, quantity, executed_at)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`, tr.ID, tr.BuyOrder, tr.SellOrder, tr.Price, tr.Quantity, tr.ExecutedAt)
	return err
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *ledgerTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
