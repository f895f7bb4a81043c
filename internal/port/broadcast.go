package port

import "venue-matching-service/internal/domain"

// Broadcaster fans market updates out to subscribers. Publish must not
// block and must not fail the calling cycle.
type Broadcaster interface {
	Publish(u *domain.MarketUpdate)
}
