package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"venue-matching-service/internal/core"
	"venue-matching-service/internal/domain"
)

// Simulator drives demonstration traffic through the engine's public
// operations: random limit orders around a drifting mid price, with the
// occasional cancel of a still-resting order. It is just another caller of
// Submit and Cancel.
type Simulator struct {
	eng      *core.Engine
	interval time.Duration
	log      *logrus.Entry

	mid  decimal.Decimal
	open []string
}

func New(eng *core.Engine, interval time.Duration, log *logrus.Logger) *Simulator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Simulator{
		eng:      eng,
		interval: interval,
		log:      log.WithField("component", "sim"),
		mid:      decimal.NewFromInt(100),
	}
}

// Run submits orders until the context is canceled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("simulator started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulator stopped")
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

func (s *Simulator) step(ctx context.Context) {
	if len(s.open) > 4 && rand.IntN(10) == 0 {
		s.cancelOne(ctx)
		return
	}

	side := domain.Buy
	offset := decimal.NewFromInt(int64(rand.IntN(5))).Div(decimal.NewFromInt(2))
	if rand.IntN(2) == 0 {
		side = domain.Sell
		offset = offset.Neg()
	}
	// buyers bid below mid, sellers ask above; crossing happens when the
	// random offsets overlap
	o := &domain.Order{
		UserID:   "sim",
		Side:     side,
		Price:    s.mid.Sub(offset),
		Quantity: int64(1 + rand.IntN(20)),
	}

	view, trades, err := s.eng.Submit(ctx, o)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			s.log.WithError(err).Warn("simulated submit failed")
		}
		return
	}
	if len(trades) > 0 {
		// drift the mid toward the last execution
		s.mid = trades[len(trades)-1].Price
	}
	if view.Status == domain.Open || view.Status == domain.PartiallyFilled {
		s.open = append(s.open, view.ID)
	}
}

func (s *Simulator) cancelOne(ctx context.Context) {
	i := rand.IntN(len(s.open))
	id := s.open[i]
	s.open = append(s.open[:i], s.open[i+1:]...)
	if err := s.eng.Cancel(ctx, id); err != nil &&
		!errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidState) {
		s.log.WithError(err).Warn("simulated cancel failed")
	}
}
