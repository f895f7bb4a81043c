package domain

import "time"

// BookSnapshot is a deep copy of the resting orders on both sides, taken
// outside the serialization gate. Bids are sorted price desc, asks price asc,
// FIFO within a price.
type BookSnapshot struct {
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketUpdate is emitted after every successful submit or cancel cycle.
// Delivery is best effort; subscribers that lag are skipped.
type MarketUpdate struct {
	Snapshot     *BookSnapshot `json:"snapshot"`
	RecentTrades []Trade       `json:"recent_trades"`
}

func (s *BookSnapshot) DeepCopy() *BookSnapshot {
	if s == nil {
		return nil
	}
	c := &BookSnapshot{Timestamp: s.Timestamp}
	c.Bids = append([]Order(nil), s.Bids...)
	c.Asks = append([]Order(nil), s.Asks...)
	return c
}
