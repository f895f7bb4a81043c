package broadcast

import (
	"sync"

	"github.com/sirupsen/logrus"

	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/port"
)

var _ port.Broadcaster = (*Broadcaster)(nil)

// Broadcaster fans market updates out to in-process subscribers. Publish
// never blocks: a subscriber whose channel is full misses that update and
// catches up on the next one, since every update carries a full snapshot.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan *domain.MarketUpdate
	next int
	log  *logrus.Entry
}

func New(log *logrus.Logger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{
		subs: make(map[int]chan *domain.MarketUpdate),
		log:  log.WithField("component", "broadcast"),
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away.
func (b *Broadcaster) Subscribe() (<-chan *domain.MarketUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan *domain.MarketUpdate, 8)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Broadcaster) Publish(u *domain.MarketUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.log.WithField("subscriber", id).Debug("slow subscriber, update dropped")
		}
	}
}
