package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-matching-service/internal/adapter/in_memory"
	"venue-matching-service/internal/domain"
)

type captureBroadcaster struct {
	mu      sync.Mutex
	updates []*domain.MarketUpdate
}

func (c *captureBroadcaster) Publish(u *domain.MarketUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *captureBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func newTestEngine(t *testing.T) (*Engine, *in_memory.Ledger, *captureBroadcaster) {
	t.Helper()
	ledger := in_memory.NewLedger()
	bc := &captureBroadcaster{}
	eng := NewEngine("test", ledger, nil, bc, nil)
	t.Cleanup(eng.Close)
	return eng, ledger, bc
}

func submit(t *testing.T, eng *Engine, id string, side domain.Side, p string, qty int64) (*domain.Order, []*domain.Trade) {
	t.Helper()
	view, trades, err := eng.Submit(context.Background(), &domain.Order{
		ID:       id,
		Side:     side,
		Price:    price(p),
		Quantity: qty,
	})
	require.NoError(t, err)
	return view, trades
}

func TestSubmitValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, &domain.Order{Side: "SIDEWAYS", Price: price("5"), Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = eng.Submit(ctx, &domain.Order{Side: domain.Buy, Price: price("5"), Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = eng.Submit(ctx, &domain.Order{Side: domain.Buy, Price: price("-5"), Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = eng.Submit(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// nothing reached the book or the ledger
	assert.Empty(t, eng.Snapshot(ctx).Bids)
	assert.Empty(t, eng.Snapshot(ctx).Asks)
}

func TestSubmitRejectsDuplicateID(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	submit(t, eng, "dup", domain.Buy, "5.00", 10)

	_, _, err := eng.Submit(context.Background(), &domain.Order{
		ID: "dup", Side: domain.Buy, Price: price("5.00"), Quantity: 10,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitRestThenPartialFill(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	view, trades := submit(t, eng, "b1", domain.Buy, "5.00", 10)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Open, view.Status)

	view, trades = submit(t, eng, "s1", domain.Sell, "5.00", 4)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(price("5.00")))
	assert.Equal(t, int64(4), trades[0].Quantity)
	assert.Equal(t, domain.Filled, view.Status)

	snap := eng.Snapshot(ctx)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(6), snap.Bids[0].Quantity)

	// ledger mirrors the touched counterparty at its live quantity
	b1, err := ledger.LoadOrder(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.PartiallyFilled, b1.Status)
	assert.Equal(t, int64(6), b1.Quantity)
	assert.Equal(t, int64(10), b1.OriginalQuantity)

	s1, err := ledger.LoadOrder(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Filled, s1.Status)
	assert.Equal(t, int64(0), s1.Quantity)
}

func TestSubmitFullFillAbsentFromBook(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "s-early", domain.Sell, "9.00", 3)
	submit(t, eng, "s-late", domain.Sell, "9.00", 3)

	view, trades := submit(t, eng, "b1", domain.Buy, "9.50", 6)
	require.Len(t, trades, 2)
	assert.Equal(t, "s-early", trades[0].SellOrder)
	assert.Equal(t, "s-late", trades[1].SellOrder)
	assert.Equal(t, int64(6), trades[0].Quantity+trades[1].Quantity)
	assert.Equal(t, domain.Filled, view.Status)

	snap := eng.Snapshot(ctx)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	recorded, err := ledger.LoadTradesForOrder(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, recorded, 2)
}

func TestCancelRestingOrder(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "b1", domain.Buy, "5.00", 10)
	require.NoError(t, eng.Cancel(ctx, "b1"))

	assert.Empty(t, eng.Snapshot(ctx).Bids)

	rec, err := ledger.LoadOrder(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.Canceled, rec.Status)
	assert.Equal(t, int64(0), rec.Quantity)
}

func TestCancelFilledOrderIsInvalidState(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "b1", domain.Buy, "5.00", 4)
	submit(t, eng, "s1", domain.Sell, "5.00", 4)

	err := eng.Cancel(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// state unchanged
	rec, lerr := ledger.LoadOrder(ctx, "b1")
	require.NoError(t, lerr)
	assert.Equal(t, domain.Filled, rec.Status)
}

func TestCancelUnknownAndDoubleCancel(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, eng.Cancel(ctx, "ghost"), domain.ErrNotFound)

	submit(t, eng, "b1", domain.Buy, "5.00", 10)
	require.NoError(t, eng.Cancel(ctx, "b1"))
	assert.ErrorIs(t, eng.Cancel(ctx, "b1"), domain.ErrNotFound)
}

func TestCancelPartiallyFilledOrder(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "b1", domain.Buy, "5.00", 10)
	submit(t, eng, "s1", domain.Sell, "5.00", 4)

	require.NoError(t, eng.Cancel(ctx, "b1"))

	rec, err := ledger.LoadOrder(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.Canceled, rec.Status)
	assert.Equal(t, int64(0), rec.Quantity)
	assert.Empty(t, eng.Snapshot(ctx).Bids)
}

func TestPersistenceFailureKeepsBookMutation(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "b1", domain.Buy, "5.00", 10)
	ledger.FailCommits = true

	_, _, err := eng.Submit(ctx, &domain.Order{
		ID: "s1", Side: domain.Sell, Price: price("5.00"), Quantity: 4,
	})
	require.ErrorIs(t, err, domain.ErrPersistence)

	// the book is authoritative and keeps the match
	snap := eng.Snapshot(ctx)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(6), snap.Bids[0].Quantity)

	// the ledger saw none of the cycle: no trade, b1 still at its last
	// durable state
	assert.Equal(t, 0, ledger.TradeCount())
	rec, lerr := ledger.LoadOrder(ctx, "b1")
	require.NoError(t, lerr)
	assert.Equal(t, int64(10), rec.Quantity)

	// subsequent cycles are not blocked
	ledger.FailCommits = false
	view, trades := submit(t, eng, "s2", domain.Sell, "5.00", 6)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.Filled, view.Status)
	assert.Empty(t, eng.Snapshot(ctx).Bids)
}

func TestMarketUpdateEmittedPerSuccessfulCycle(t *testing.T) {
	eng, ledger, bc := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "b1", domain.Buy, "5.00", 10)
	submit(t, eng, "s1", domain.Sell, "5.00", 4)
	require.NoError(t, eng.Cancel(ctx, "b1"))
	assert.Equal(t, 3, bc.count())

	// a failed cycle emits nothing
	ledger.FailCommits = true
	_, _, err := eng.Submit(ctx, &domain.Order{
		ID: "s2", Side: domain.Sell, Price: price("1.00"), Quantity: 1,
	})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 3, bc.count())
}

func TestConcurrentSubmissionsConserveQuantity(t *testing.T) {
	eng, ledger, _ := newTestEngine(t)
	ctx := context.Background()

	submit(t, eng, "bid", domain.Buy, "10.00", 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := eng.Submit(ctx, &domain.Order{
				Side: domain.Sell, Price: price("10.00"), Quantity: 5,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 20 x 5 exactly consumes the bid
	snap := eng.Snapshot(ctx)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	rec, err := ledger.LoadOrder(ctx, "bid")
	require.NoError(t, err)
	assert.Equal(t, domain.Filled, rec.Status)

	trades, err := ledger.LoadTradesForOrder(ctx, "bid")
	require.NoError(t, err)
	var total int64
	for _, tr := range trades {
		total += tr.Quantity
	}
	assert.Equal(t, int64(100), total)
}

func TestLoadOpenOrdersRebuildsBook(t *testing.T) {
	ledger := in_memory.NewLedger()
	eng := NewEngine("test", ledger, nil, nil, nil)

	submitOrder := func(id string, side domain.Side, p string, qty int64) {
		_, _, err := eng.Submit(context.Background(), &domain.Order{
			ID: id, Side: side, Price: price(p), Quantity: qty,
		})
		require.NoError(t, err)
	}
	submitOrder("b-first", domain.Buy, "5.00", 3)
	submitOrder("b-second", domain.Buy, "5.00", 4)
	submitOrder("a1", domain.Sell, "6.00", 5)
	eng.Close()

	restarted := NewEngine("test", ledger, nil, nil, nil)
	defer restarted.Close()
	require.NoError(t, restarted.LoadOpenOrders(context.Background()))

	snap := restarted.Snapshot(context.Background())
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	// FIFO within price survives the restart
	assert.Equal(t, "b-first", snap.Bids[0].ID)
	assert.Equal(t, "b-second", snap.Bids[1].ID)

	// matching still honors the rebuilt arrival order
	_, trades, err := restarted.Submit(context.Background(), &domain.Order{
		ID: "s-new", Side: domain.Sell, Price: price("5.00"), Quantity: 3,
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "b-first", trades[0].BuyOrder)
}

func TestRebuiltOrdersKeepPriorityOverNewArrivals(t *testing.T) {
	ledger := in_memory.NewLedger()
	eng := NewEngine("test", ledger, nil, nil, nil)
	submitTo := func(e *Engine, id string, side domain.Side, p string, qty int64) []*domain.Trade {
		_, trades, err := e.Submit(context.Background(), &domain.Order{
			ID: id, Side: side, Price: price(p), Quantity: qty,
		})
		require.NoError(t, err)
		return trades
	}
	submitTo(eng, "b-first", domain.Buy, "5.00", 3)
	submitTo(eng, "b-second", domain.Buy, "5.00", 4)
	eng.Close()

	restarted := NewEngine("test", ledger, nil, nil, nil)
	defer restarted.Close()
	require.NoError(t, restarted.LoadOpenOrders(context.Background()))

	// an order arriving after the rebuild must queue behind both
	// reloaded orders at the same price
	submitTo(restarted, "b-new", domain.Buy, "5.00", 5)

	trades := submitTo(restarted, "s1", domain.Sell, "5.00", 5)
	require.Len(t, trades, 2)
	assert.Equal(t, "b-first", trades[0].BuyOrder)
	assert.Equal(t, int64(3), trades[0].Quantity)
	assert.Equal(t, "b-second", trades[1].BuyOrder)
	assert.Equal(t, int64(2), trades[1].Quantity)
}

func TestCancelTaxonomySurvivesRestart(t *testing.T) {
	ledger := in_memory.NewLedger()
	eng := NewEngine("test", ledger, nil, nil, nil)
	ctx := context.Background()

	submitTo := func(id string, side domain.Side, p string, qty int64) {
		_, _, err := eng.Submit(ctx, &domain.Order{
			ID: id, Side: side, Price: price(p), Quantity: qty,
		})
		require.NoError(t, err)
	}
	submitTo("b-filled", domain.Buy, "5.00", 5)
	submitTo("s1", domain.Sell, "5.00", 5)
	submitTo("b-canceled", domain.Buy, "4.00", 2)
	require.NoError(t, eng.Cancel(ctx, "b-canceled"))
	eng.Close()

	restarted := NewEngine("test", ledger, nil, nil, nil)
	defer restarted.Close()
	require.NoError(t, restarted.LoadOpenOrders(ctx))

	// filled and canceled orders are not rebuilt, but their ledger
	// records still distinguish the two failure modes
	assert.ErrorIs(t, restarted.Cancel(ctx, "b-filled"), domain.ErrInvalidState)
	assert.ErrorIs(t, restarted.Cancel(ctx, "b-canceled"), domain.ErrNotFound)
	assert.ErrorIs(t, restarted.Cancel(ctx, "ghost"), domain.ErrNotFound)
}

type recordingCache struct {
	mu    sync.Mutex
	snap  *domain.BookSnapshot
	drops int
}

func (c *recordingCache) SetSnapshot(ctx context.Context, venue string, snap *domain.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	return nil
}

func (c *recordingCache) GetSnapshot(ctx context.Context, venue string) (*domain.BookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, nil
}

func (c *recordingCache) Invalidate(ctx context.Context, venue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
	c.drops++
	return nil
}

func TestPersistenceFailureInvalidatesCachedSnapshot(t *testing.T) {
	ledger := in_memory.NewLedger()
	cache := &recordingCache{}
	eng := NewEngine("test", ledger, cache, nil, nil)
	defer eng.Close()
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, &domain.Order{
		ID: "b1", Side: domain.Buy, Price: price("5.00"), Quantity: 10,
	})
	require.NoError(t, err)
	require.NotNil(t, cache.snap)

	ledger.FailCommits = true
	_, _, err = eng.Submit(ctx, &domain.Order{
		ID: "s1", Side: domain.Sell, Price: price("5.00"), Quantity: 4,
	})
	require.ErrorIs(t, err, domain.ErrPersistence)

	// the pre-cycle snapshot must not survive the failed cycle
	assert.Equal(t, 1, cache.drops)
	assert.Nil(t, cache.snap)

	// reads fall through to the live book, which kept the match
	snap := eng.Snapshot(ctx)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(6), snap.Bids[0].Quantity)
}
