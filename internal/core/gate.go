package core

import (
	"fmt"
	"sync"

	"venue-matching-service/internal/domain"
)

type gateJob struct {
	fn  func() error
	res chan error
}

// Gate serializes match-then-persist cycles. Cycles run strictly FIFO on a
// single dispatch goroutine; concurrent callers observe the book and ledger
// as if cycles executed one at a time, in submission order. A failing cycle
// reports to its own caller and never blocks the queue.
//
// This is deliberately coarse: one lock over the whole book trades
// throughput for an auditable ordering argument. A stalled ledger write
// stalls the queue; there is no gate timeout.
type Gate struct {
	jobs      chan gateJob
	closeOnce sync.Once
	done      chan struct{}
}

func NewGate() *Gate {
	g := &Gate{
		jobs: make(chan gateJob, 1024),
		done: make(chan struct{}),
	}
	go g.loop()
	return g
}

func (g *Gate) loop() {
	defer close(g.done)
	for job := range g.jobs {
		job.res <- runCycle(job.fn)
	}
}

func runCycle(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: cycle panic: %v", domain.ErrInvalidState, r)
		}
	}()
	return fn()
}

// RunExclusive queues fn and blocks until it has run. Returns fn's error.
func (g *Gate) RunExclusive(fn func() error) error {
	res := make(chan error, 1)
	g.jobs <- gateJob{fn: fn, res: res}
	return <-res
}

// Close drains queued cycles and stops the dispatch goroutine. RunExclusive
// must not be called after Close.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		close(g.jobs)
	})
	<-g.done
}
