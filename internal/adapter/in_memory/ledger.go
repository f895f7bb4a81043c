package in_memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/port"
)

var _ port.Ledger = (*Ledger)(nil)

// Ledger is an in-memory stand-in for the Postgres ledger, used in tests and
// for running the server without a database. Transactions stage their writes
// and apply them on commit, so a failed cycle leaves nothing behind.
type Ledger struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	trades []*domain.Trade

	// FailCommits makes every subsequent commit fail, for exercising the
	// book-ahead-of-ledger drift path.
	FailCommits bool
}

func NewLedger() *Ledger {
	return &Ledger{orders: make(map[string]*domain.Order)}
}

func (l *Ledger) BeginTx(ctx context.Context) (port.LedgerTx, error) {
	return &ledgerTx{ledger: l, staged: make(map[string]domain.Order)}, nil
}

func (l *Ledger) LoadOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []*domain.Order
	for _, o := range l.orders {
		if o.Quantity > 0 && (o.Status == domain.Open || o.Status == domain.PartiallyFilled) {
			res = append(res, o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Seq != res[j].Seq {
			return res[i].Seq < res[j].Seq
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (l *Ledger) LoadOrder(ctx context.Context, id string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return o.Clone(), nil
}

func (l *Ledger) LoadTradesForOrder(ctx context.Context, id string) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []*domain.Trade
	for _, t := range l.trades {
		if t.BuyOrder == id || t.SellOrder == id {
			c := *t
			res = append(res, &c)
		}
	}
	return res, nil
}

// TradeCount reports how many trades have been durably recorded.
func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

type ledgerTx struct {
	ledger *Ledger
	staged map[string]domain.Order
	order  []string
	trades []domain.Trade
	done   bool
}

func (t *ledgerTx) UpsertOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("in_memory: nil order")
	}
	if _, seen := t.staged[o.ID]; !seen {
		t.order = append(t.order, o.ID)
	}
	t.staged[o.ID] = *o
	return nil
}

func (t *ledgerTx) InsertTrade(ctx context.Context, tr *domain.Trade) error {
	if tr == nil {
		return errors.New("in_memory: nil trade")
	}
	t.trades = append(t.trades, *tr)
	return nil
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("in_memory: tx already finished")
	}
	t.done = true
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	if t.ledger.FailCommits {
		return errors.New("in_memory: commit refused")
	}
	for _, id := range t.order {
		o := t.staged[id]
		t.ledger.orders[id] = &o
	}
	for i := range t.trades {
		tr := t.trades[i]
		t.ledger.trades = append(t.ledger.trades, &tr)
	}
	return nil
}

func (t *ledgerTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
